package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with process-local state. Used in tests
// and single-replica deployments without Redis.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string]memorySlot
	waits map[string][]*Entry
	clock func() time.Time
}

type memorySlot struct {
	entry     *Entry
	expiresAt time.Time
}

// NewMemoryStore creates an in-process queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[string]memorySlot),
		waits: make(map[string][]*Entry),
		clock: time.Now,
	}
}

func (s *MemoryStore) AcquireSlot(ctx context.Context, agentName string, entry *Entry, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if slot, ok := s.slots[agentName]; ok && slot.expiresAt.After(now) {
		return false, nil
	}
	s.slots[agentName] = memorySlot{entry: entry, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) GetSlot(ctx context.Context, agentName string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[agentName]
	if !ok || !slot.expiresAt.After(s.clock()) {
		return nil, nil
	}
	return slot.entry, nil
}

func (s *MemoryStore) ReleaseSlot(ctx context.Context, agentName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[agentName]
	delete(s.slots, agentName)
	return ok && slot.expiresAt.After(s.clock()), nil
}

func (s *MemoryStore) PushWait(ctx context.Context, agentName string, entry *Entry, maxSize int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waits[agentName]) >= maxSize {
		return len(s.waits[agentName]), false, nil
	}
	s.waits[agentName] = append(s.waits[agentName], entry)
	return len(s.waits[agentName]), true, nil
}

func (s *MemoryStore) PushWaitFront(ctx context.Context, agentName string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.waits[agentName] = append([]*Entry{entry}, s.waits[agentName]...)
	return nil
}

func (s *MemoryStore) PopWait(ctx context.Context, agentName string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := s.waits[agentName]
	if len(wait) == 0 {
		return nil, nil
	}
	head := wait[0]
	s.waits[agentName] = wait[1:]
	return head, nil
}

func (s *MemoryStore) ListWait(ctx context.Context, agentName string) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Entry, len(s.waits[agentName]))
	copy(out, s.waits[agentName])
	return out, nil
}

func (s *MemoryStore) ClearWait(ctx context.Context, agentName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.waits[agentName])
	delete(s.waits, agentName)
	return n, nil
}
