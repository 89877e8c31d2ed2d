package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLocker implements Locker with process-local state. Suitable for
// single-replica deployments and tests; multi-replica deployments use
// the Redis locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	clock func() time.Time
	seq   uint64
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryLease),
		clock: time.Now,
	}
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (l *memoryLock) Key() string { return l.key }

func (l *memoryLock) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if lease, ok := l.locker.held[l.key]; ok && lease.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}

func (m *MemoryLocker) tryAcquire(key, token string, lease time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if existing, ok := m.held[key]; ok && existing.expiresAt.After(now) {
		return false
	}
	m.held[key] = memoryLease{token: token, expiresAt: now.Add(lease)}
	return true
}

// Acquire takes the lock, polling until acquireTimeout elapses.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, lease, acquireTimeout time.Duration) (Lock, error) {
	m.mu.Lock()
	m.seq++
	token := fmt.Sprintf("%s/%d", key, m.seq)
	m.mu.Unlock()
	deadline := m.clock().Add(acquireTimeout)

	for {
		if m.tryAcquire(key, token, lease) {
			return &memoryLock{locker: m, key: key, token: token}, nil
		}
		if m.clock().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
