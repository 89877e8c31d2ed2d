package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository in process memory.
type MemoryRepository struct {
	mu          sync.RWMutex
	agents      map[string]*Agent
	configs     map[string]*SharedFolderConfig
	permissions map[string]map[string]bool // from -> to -> granted
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory registry.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		agents:      make(map[string]*Agent),
		configs:     make(map[string]*SharedFolderConfig),
		permissions: make(map[string]map[string]bool),
	}
}

func (r *MemoryRepository) CreateAgent(ctx context.Context, a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.Name]; exists {
		return fmt.Errorf("agent already exists: %s", a.Name)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	r.agents[a.Name] = &cp
	return nil
}

func (r *MemoryRepository) GetAgent(ctx context.Context, name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListAgents(ctx context.Context) ([]*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) UpdateAgent(ctx context.Context, a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.Name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, a.Name)
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	r.agents[a.Name] = &cp
	return nil
}

func (r *MemoryRepository) DeleteAgent(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.agents, name)
	return nil
}

func (r *MemoryRepository) SetContainer(ctx context.Context, name, containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	a.ContainerID = containerID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) GetSharedFolderConfig(ctx context.Context, agentName string) (*SharedFolderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[agentName]
	if !ok {
		return &SharedFolderConfig{AgentName: agentName}, nil
	}
	cp := *cfg
	return &cp, nil
}

func (r *MemoryRepository) UpsertSharedFolderConfig(ctx context.Context, cfg *SharedFolderConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg.UpdatedAt = time.Now().UTC()
	cp := *cfg
	r.configs[cfg.AgentName] = &cp
	return nil
}

func (r *MemoryRepository) GrantPermission(ctx context.Context, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.permissions[from] == nil {
		r.permissions[from] = make(map[string]bool)
	}
	r.permissions[from][to] = true
	return nil
}

func (r *MemoryRepository) RevokePermission(ctx context.Context, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.permissions[from], to)
	return nil
}

func (r *MemoryRepository) ListPermittedPeers(ctx context.Context, from string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var peers []string
	for to := range r.permissions[from] {
		peers = append(peers, to)
	}
	sort.Strings(peers)
	return peers, nil
}
