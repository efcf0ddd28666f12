/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "recon:lock:period:period_1", PeriodKey("period_1"))
	assert.Equal(t, "recon:lock:connection:conn_1", ConnectionKey("conn_1"))
}

func TestLocker_Lock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectSetNX("test-key", "test-value", 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Lock_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectSetNX("test-key", "test-value", 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock for key test-key is already held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectEval(unlockScript, []string{"test-key"}, "test-value").SetVal(int64(1))

	err := locker.Unlock(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock_NotHolder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectEval(unlockScript, []string{"test-key"}, "test-value").SetVal(int64(0))

	err := locker.Unlock(context.Background())
	assert.EqualError(t, err, "unlock failed, either lock expired or you're not the lock holder for key test-key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ExtendLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "test-key", "test-value")

	mock.ExpectEval(extendScript, []string{"test-key"}, "test-value", "5000").SetVal(int64(1))
	assert.NoError(t, locker.ExtendLock(context.Background(), 5*time.Second))

	mock.ExpectEval(extendScript, []string{"test-key"}, "test-value", "5000").SetVal(int64(0))
	err := locker.ExtendLock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock extension failed for key test-key, either lock expired or you're not the holder")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLocker_WaitLock_AcquiresAfterRelease(t *testing.T) {
	_, client := newMiniredisClient(t)
	ctx := context.Background()

	holder := NewLocker(client, PeriodKey("p1"), "holder")
	require.NoError(t, holder.Lock(ctx, 5*time.Second))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = holder.Unlock(ctx)
	}()

	waiter := NewLocker(client, PeriodKey("p1"), "waiter")
	require.NoError(t, waiter.WaitLock(ctx, 5*time.Second, 2*time.Second))
	require.NoError(t, waiter.Unlock(ctx))
}

func TestLocker_WaitLock_Timeout(t *testing.T) {
	_, client := newMiniredisClient(t)
	ctx := context.Background()

	holder := NewLocker(client, PeriodKey("p1"), "holder")
	require.NoError(t, holder.Lock(ctx, 5*time.Second))

	waiter := NewLocker(client, PeriodKey("p1"), "waiter")
	start := time.Now()
	err := waiter.WaitLock(ctx, 5*time.Second, 150*time.Millisecond)
	assert.True(t, errors.Is(err, ErrNotAcquired))
	assert.Less(t, time.Since(start), time.Second)

	// The waiter must not be able to release a lock it never acquired.
	assert.Error(t, waiter.Unlock(ctx))
}

func TestLocker_WaitLock_ContextCancelled(t *testing.T) {
	_, client := newMiniredisClient(t)

	holder := NewLocker(client, ConnectionKey("c1"), "holder")
	require.NoError(t, holder.Lock(context.Background(), 5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewLocker(client, ConnectionKey("c1"), "waiter").WaitLock(ctx, 5*time.Second, time.Second)
	assert.Error(t, err)
}
