// Package agent holds the agent registry: the control plane's record of
// each provisioned agent, its container, its runtime endpoint, and the
// shared-folder topology between agents.
package agent

import "time"

// Agent is a registered agent worker.
type Agent struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	OwnerID         string    `db:"owner_id" json:"owner_id"`
	ContainerID     string    `db:"container_id" json:"container_id,omitempty"`
	RuntimeURL      string    `db:"runtime_url" json:"runtime_url"`
	AutonomyEnabled bool      `db:"autonomy_enabled" json:"autonomy_enabled"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// SharedFolderConfig declares an agent's participation in shared-folder
// exchange. Exposing creates the agent's own shared volume; consuming
// mounts the volumes of permitted exposing peers.
type SharedFolderConfig struct {
	AgentName      string    `db:"agent_name" json:"agent_name"`
	ExposeEnabled  bool      `db:"expose_enabled" json:"expose_enabled"`
	ConsumeEnabled bool      `db:"consume_enabled" json:"consume_enabled"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
