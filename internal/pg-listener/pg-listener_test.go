package pg_listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	channels []string
	payloads []string
	err      error
}

func (h *recordingHandler) HandleNotification(_ context.Context, channel, payload string) error {
	h.channels = append(h.channels, channel)
	h.payloads = append(h.payloads, payload)
	return h.err
}

func TestNewDBListener_Defaults(t *testing.T) {
	l := NewDBListener(ListenerConfig{Channel: "bank_transaction_inserted"}, &recordingHandler{})
	assert.Equal(t, 10*time.Second, l.config.MinReconnect)
	assert.Equal(t, time.Minute, l.config.MaxReconnect)
	assert.Equal(t, 90*time.Second, l.config.PingInterval)
}

func TestDispatch(t *testing.T) {
	h := &recordingHandler{}
	l := NewDBListener(ListenerConfig{Channel: "bank_transaction_inserted"}, h)

	l.dispatch(context.Background(), &pq.Notification{Channel: "bank_transaction_inserted", Extra: `{"id":"txn_1"}`})
	l.dispatch(context.Background(), nil)

	assert.Equal(t, []string{"bank_transaction_inserted"}, h.channels)
	assert.Equal(t, []string{`{"id":"txn_1"}`}, h.payloads)
}

func TestDispatch_HandlerErrorIsNotFatal(t *testing.T) {
	h := &recordingHandler{err: errors.New("queue down")}
	l := NewDBListener(ListenerConfig{Channel: "c"}, h)

	assert.NotPanics(t, func() {
		l.dispatch(context.Background(), &pq.Notification{Channel: "c", Extra: "{}"})
	})
	assert.Len(t, h.payloads, 1)
}
