package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerAcquireRelease(t *testing.T) {
	m := NewMemoryLocker()
	ctx := context.Background()

	l, err := m.Acquire(ctx, AgentKey("alpha"), time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, "agent:alpha", l.Key())

	// Second acquire on the same key fails while held.
	_, err = m.Acquire(ctx, AgentKey("alpha"), time.Minute, 0)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// A different agent's key is independent.
	other, err := m.Acquire(ctx, AgentKey("beta"), time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, l.Release(ctx))
	l2, err := m.Acquire(ctx, AgentKey("alpha"), time.Minute, 0)
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}

func TestMemoryLockerLeaseExpiry(t *testing.T) {
	m := NewMemoryLocker()
	now := time.Now()
	m.clock = func() time.Time { return now }
	ctx := context.Background()

	stale, err := m.Acquire(ctx, AgentKey("alpha"), 30*time.Second, 0)
	require.NoError(t, err)

	// Lease expires; another owner may take the lock.
	now = now.Add(31 * time.Second)
	fresh, err := m.Acquire(ctx, AgentKey("alpha"), 30*time.Second, 0)
	require.NoError(t, err)

	// The stale owner's release must not clobber the fresh lease.
	require.NoError(t, stale.Release(ctx))
	_, err = m.Acquire(ctx, AgentKey("alpha"), 30*time.Second, 0)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, fresh.Release(ctx))
}

func TestMemoryLockerAcquireTimeoutPolls(t *testing.T) {
	m := NewMemoryLocker()
	ctx := context.Background()

	l, err := m.Acquire(ctx, AgentKey("alpha"), time.Minute, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, AgentKey("alpha"), time.Minute, 2*time.Second)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.Release(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}
