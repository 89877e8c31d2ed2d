package activity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository in process memory.
type MemoryRepository struct {
	mu         sync.RWMutex
	activities map[string]*Activity
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{activities: make(map[string]*Activity)}
}

func (r *MemoryRepository) Create(ctx context.Context, a *Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	cp := *a
	r.activities[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.activities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) List(ctx context.Context, agentName string, limit int) ([]*Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Activity
	for _, a := range r.activities {
		if a.AgentName == agentName {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, a *Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.activities[a.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, a.ID)
	}
	cp := *a
	r.activities[a.ID] = &cp
	return nil
}
