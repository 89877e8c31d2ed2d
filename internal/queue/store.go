package queue

import (
	"context"
	"time"
)

// Store is the backing state for the execution queue. Implementations
// must provide atomic set-if-absent on the running slot and ordered
// push/pop on the wait list; everything else in the queue builds on
// those two primitives.
type Store interface {
	// AcquireSlot atomically sets the running slot to entry if it is
	// empty, applying ttl as the slot's crash-recovery bound. Returns
	// false when the slot is already occupied.
	AcquireSlot(ctx context.Context, agentName string, entry *Entry, ttl time.Duration) (bool, error)

	// GetSlot returns the current running entry, or nil.
	GetSlot(ctx context.Context, agentName string) (*Entry, error)

	// ReleaseSlot clears the running slot. Clearing an empty slot is a
	// no-op; returns whether a slot was actually set.
	ReleaseSlot(ctx context.Context, agentName string) (bool, error)

	// PushWait appends entry at the tail of the wait list if fewer than
	// maxSize entries are waiting. The length check and the push are a
	// single atomic step. Returns the resulting list length and whether
	// the entry was admitted.
	PushWait(ctx context.Context, agentName string, entry *Entry, maxSize int) (int, bool, error)

	// PushWaitFront returns entry to the head of the wait list. Used
	// when a promotion loses the slot race.
	PushWaitFront(ctx context.Context, agentName string, entry *Entry) error

	// PopWait removes and returns the head of the wait list, or nil.
	PopWait(ctx context.Context, agentName string) (*Entry, error)

	// ListWait returns the wait list head-first without mutating it.
	ListWait(ctx context.Context, agentName string) ([]*Entry, error)

	// ClearWait drops the entire wait list and returns the number of
	// entries removed.
	ClearWait(ctx context.Context, agentName string) (int, error)
}
