package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository in process memory. Used by
// tests and as a stand-in where no database is configured.
type MemoryRepository struct {
	mu         sync.RWMutex
	schedules  map[string]*Schedule
	executions map[string]*Execution
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		schedules:  make(map[string]*Schedule),
		executions: make(map[string]*Execution),
	}
}

func (r *MemoryRepository) CreateSchedule(ctx context.Context, s *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	r.schedules[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) ListSchedules(ctx context.Context, agentName string) ([]*Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Schedule
	for _, s := range r.schedules {
		if s.AgentName == agentName {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortSchedules(out)
	return out, nil
}

func (r *MemoryRepository) ListEnabledSchedules(ctx context.Context) ([]*Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Schedule
	for _, s := range r.schedules {
		if s.Enabled {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortSchedules(out)
	return out, nil
}

func (r *MemoryRepository) UpdateSchedule(ctx context.Context, s *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schedules[s.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, s.ID)
	}
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	r.schedules[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) DeleteSchedule(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schedules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.schedules, id)
	return nil
}

func (r *MemoryRepository) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.LastRunAt = lastRunAt
	s.NextRunAt = nextRunAt
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) CreateExecution(ctx context.Context, e *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	cp := *e
	r.executions[e.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetExecution(ctx context.Context, id string) (*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MemoryRepository) ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Execution
	for _, e := range r.executions {
		if e.ScheduleID == scheduleID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpdateExecution(ctx context.Context, e *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executions[e.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	cp := *e
	r.executions[e.ID] = &cp
	return nil
}

func sortSchedules(schedules []*Schedule) {
	sort.Slice(schedules, func(i, j int) bool {
		if schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
			return schedules[i].ID < schedules[j].ID
		}
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
}
