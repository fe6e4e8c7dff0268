package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerIsNotConfigured(t *testing.T) {
	var l *Locker
	_, ok, err := l.TryLock(context.Background(), "k", time.Second)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrLockNotConfigured))
	assert.NoError(t, l.Release(context.Background(), "k", "token"))
	assert.Nil(t, NewLocker(nil))
}

func TestDisabledEventLockGrantsEveryLock(t *testing.T) {
	l := &EventLock{}
	token, ok, err := l.TryLockEvent(context.Background(), "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, l.ReleaseEvent(context.Background(), "stripe", "evt_1", token))

	var nilLock *EventLock
	_, ok, err = nilLock.TryLockEvent(context.Background(), "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "roteiro:webhook:stripe:evt_1", EventKey(" Stripe ", " evt_1 "))
}

func TestDisabledEventLockGrantsJobLocks(t *testing.T) {
	l := &EventLock{}
	token, ok, err := l.TryLockJob(context.Background(), "reconcile_commissions", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.ReleaseJob(context.Background(), "reconcile_commissions", token))
	assert.Equal(t, "roteiro:scheduler:reconcile_commissions", JobKey("reconcile_commissions"))
}
