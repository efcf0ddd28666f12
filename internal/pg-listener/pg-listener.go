package pg_listener

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// NotificationHandler receives the raw payload of every notification on the channel.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, channel, payload string) error
}

type ListenerConfig struct {
	PgConnStr    string
	Channel      string
	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration
}

type DBListener struct {
	config  ListenerConfig
	handler NotificationHandler
}

func NewDBListener(config ListenerConfig, handler NotificationHandler) *DBListener {
	if config.MinReconnect <= 0 {
		config.MinReconnect = 10 * time.Second
	}
	if config.MaxReconnect <= 0 {
		config.MaxReconnect = time.Minute
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 90 * time.Second
	}
	return &DBListener{
		config:  config,
		handler: handler,
	}
}

// Start listens on the configured channel until ctx is cancelled.
func (d *DBListener) Start(ctx context.Context) error {
	listener := pq.NewListener(d.config.PgConnStr, d.config.MinReconnect, d.config.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithError(err).WithField("channel", d.config.Channel).Error("postgres listener error")
		}
	})
	defer listener.Close()

	if err := listener.Listen(d.config.Channel); err != nil {
		return fmt.Errorf("listen on %s: %w", d.config.Channel, err)
	}
	logrus.Infof("Listening for PostgreSQL notifications on channel '%s'", d.config.Channel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notification := <-listener.Notify:
			d.dispatch(ctx, notification)
		case <-time.After(d.config.PingInterval):
			if err := listener.Ping(); err != nil {
				logrus.WithError(err).Warn("postgres listener ping failed")
			}
		}
	}
}

// dispatch hands a notification to the handler. A nil notification follows a
// reconnect, after which anything sent while disconnected is lost.
func (d *DBListener) dispatch(ctx context.Context, notification *pq.Notification) {
	if notification == nil {
		logrus.WithField("channel", d.config.Channel).Warn("postgres listener reconnected; notifications may have been missed")
		return
	}
	if err := d.handler.HandleNotification(ctx, notification.Channel, notification.Extra); err != nil {
		logrus.WithError(err).WithField("channel", notification.Channel).Error("error handling notification")
	}
}
