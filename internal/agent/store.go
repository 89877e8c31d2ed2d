package agent

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an agent (or its config) does not exist.
var ErrNotFound = errors.New("agent not found")

// ErrNoContainer is returned by lifecycle operations when the agent has
// no container to act on; provisioning happens elsewhere.
var ErrNoContainer = errors.New("agent has no container")

// Repository is the persistence boundary for the agent registry.
type Repository interface {
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, name string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	UpdateAgent(ctx context.Context, a *Agent) error
	DeleteAgent(ctx context.Context, name string) error

	// SetContainer records the container backing an agent after a
	// lifecycle operation.
	SetContainer(ctx context.Context, name, containerID string) error

	GetSharedFolderConfig(ctx context.Context, agentName string) (*SharedFolderConfig, error)
	UpsertSharedFolderConfig(ctx context.Context, cfg *SharedFolderConfig) error

	// GrantPermission allows from to call (and consume shared folders
	// of) to. Granting twice is a no-op.
	GrantPermission(ctx context.Context, from, to string) error
	RevokePermission(ctx context.Context, from, to string) error

	// ListPermittedPeers returns the agent names that from may call.
	ListPermittedPeers(ctx context.Context, from string) ([]string, error)
}
