// Package lock provides the per-agent distributed mutex that serializes
// scheduled and manual firings across scheduler replicas.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock is held by another owner and
// could not be acquired within the caller's deadline.
var ErrNotAcquired = errors.New("lock not acquired")

// Lock is a held lease. Release is safe to call once; releasing a lease
// that has already expired is a no-op.
type Lock interface {
	// Key returns the lock key.
	Key() string

	// Release gives up the lease. Only the owner's release takes effect;
	// a lease that expired and was re-acquired elsewhere is left alone.
	Release(ctx context.Context) error
}

// Locker acquires distributed locks with a TTL lease.
type Locker interface {
	// Acquire tries to take the lock, polling until acquireTimeout
	// elapses. Returns ErrNotAcquired if another owner holds it.
	Acquire(ctx context.Context, key string, lease, acquireTimeout time.Duration) (Lock, error)
}

// AgentKey returns the lock key guarding an agent's execution plane.
func AgentKey(agentName string) string {
	return "agent:" + agentName
}
