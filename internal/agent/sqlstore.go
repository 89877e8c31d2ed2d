package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/db"
	"github.com/agentplane/agentplane/internal/db/dialect"
)

// SQLRepository implements Repository on the shared db.Pool. Queries are
// written with ? placeholders and rebound per driver, so the same code
// serves SQLite and PostgreSQL.
type SQLRepository struct {
	pool   *db.Pool
	driver string
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository creates the registry store and ensures its schema.
func NewSQLRepository(pool *db.Pool, driver string) (*SQLRepository, error) {
	r := &SQLRepository{pool: pool, driver: driver}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize agent schema: %w", err)
	}
	return r, nil
}

func (r *SQLRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL DEFAULT '',
		container_id TEXT NOT NULL DEFAULT '',
		runtime_url TEXT NOT NULL DEFAULT '',
		autonomy_enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_shared_folders (
		agent_name TEXT PRIMARY KEY,
		expose_enabled INTEGER NOT NULL DEFAULT 0,
		consume_enabled INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_permissions (
		from_agent TEXT NOT NULL,
		to_agent TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (from_agent, to_agent)
	);

	CREATE INDEX IF NOT EXISTS idx_agent_permissions_from ON agent_permissions(from_agent);
	`
	_, err := r.pool.Writer().Exec(schema)
	return err
}

func (r *SQLRepository) CreateAgent(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := r.pool.Writer().Rebind(`
		INSERT INTO agents (id, name, owner_id, container_id, runtime_url, autonomy_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.pool.Writer().ExecContext(ctx, query,
		a.ID, a.Name, a.OwnerID, a.ContainerID, a.RuntimeURL,
		dialect.BoolToInt(a.AutonomyEnabled), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *SQLRepository) GetAgent(ctx context.Context, name string) (*Agent, error) {
	var row agentRow
	query := r.pool.Reader().Rebind(`
		SELECT id, name, owner_id, container_id, runtime_url, autonomy_enabled, created_at, updated_at
		FROM agents WHERE name = ?
	`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toAgent(), nil
}

func (r *SQLRepository) ListAgents(ctx context.Context) ([]*Agent, error) {
	var rows []agentRow
	query := `
		SELECT id, name, owner_id, container_id, runtime_url, autonomy_enabled, created_at, updated_at
		FROM agents ORDER BY name
	`
	if err := r.pool.Reader().SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	agents := make([]*Agent, 0, len(rows))
	for i := range rows {
		agents = append(agents, rows[i].toAgent())
	}
	return agents, nil
}

func (r *SQLRepository) UpdateAgent(ctx context.Context, a *Agent) error {
	a.UpdatedAt = time.Now().UTC()
	query := r.pool.Writer().Rebind(`
		UPDATE agents
		SET owner_id = ?, container_id = ?, runtime_url = ?, autonomy_enabled = ?, updated_at = ?
		WHERE name = ?
	`)
	res, err := r.pool.Writer().ExecContext(ctx, query,
		a.OwnerID, a.ContainerID, a.RuntimeURL,
		dialect.BoolToInt(a.AutonomyEnabled), a.UpdatedAt, a.Name)
	if err != nil {
		return err
	}
	return requireRow(res, a.Name)
}

func (r *SQLRepository) DeleteAgent(ctx context.Context, name string) error {
	query := r.pool.Writer().Rebind(`DELETE FROM agents WHERE name = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query, name)
	if err != nil {
		return err
	}
	return requireRow(res, name)
}

func (r *SQLRepository) SetContainer(ctx context.Context, name, containerID string) error {
	query := r.pool.Writer().Rebind(`
		UPDATE agents SET container_id = ?, updated_at = ? WHERE name = ?
	`)
	res, err := r.pool.Writer().ExecContext(ctx, query, containerID, time.Now().UTC(), name)
	if err != nil {
		return err
	}
	return requireRow(res, name)
}

func (r *SQLRepository) GetSharedFolderConfig(ctx context.Context, agentName string) (*SharedFolderConfig, error) {
	var row sharedFolderRow
	query := r.pool.Reader().Rebind(`
		SELECT agent_name, expose_enabled, consume_enabled, created_at, updated_at
		FROM agent_shared_folders WHERE agent_name = ?
	`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, agentName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Absent config means both directions disabled.
			return &SharedFolderConfig{AgentName: agentName}, nil
		}
		return nil, err
	}
	return row.toConfig(), nil
}

func (r *SQLRepository) UpsertSharedFolderConfig(ctx context.Context, cfg *SharedFolderConfig) error {
	now := time.Now().UTC()
	cfg.UpdatedAt = now
	query := r.pool.Writer().Rebind(`
		INSERT INTO agent_shared_folders (agent_name, expose_enabled, consume_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (agent_name) DO UPDATE SET
			expose_enabled = excluded.expose_enabled,
			consume_enabled = excluded.consume_enabled,
			updated_at = excluded.updated_at
	`)
	_, err := r.pool.Writer().ExecContext(ctx, query,
		cfg.AgentName, dialect.BoolToInt(cfg.ExposeEnabled), dialect.BoolToInt(cfg.ConsumeEnabled), now, now)
	return err
}

func (r *SQLRepository) GrantPermission(ctx context.Context, from, to string) error {
	query := r.pool.Writer().Rebind(`
		INSERT INTO agent_permissions (from_agent, to_agent, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (from_agent, to_agent) DO NOTHING
	`)
	_, err := r.pool.Writer().ExecContext(ctx, query, from, to, time.Now().UTC())
	return err
}

func (r *SQLRepository) RevokePermission(ctx context.Context, from, to string) error {
	query := r.pool.Writer().Rebind(`
		DELETE FROM agent_permissions WHERE from_agent = ? AND to_agent = ?
	`)
	_, err := r.pool.Writer().ExecContext(ctx, query, from, to)
	return err
}

func (r *SQLRepository) ListPermittedPeers(ctx context.Context, from string) ([]string, error) {
	var peers []string
	query := r.pool.Reader().Rebind(`
		SELECT to_agent FROM agent_permissions WHERE from_agent = ? ORDER BY to_agent
	`)
	if err := r.pool.Reader().SelectContext(ctx, &peers, query, from); err != nil {
		return nil, err
	}
	return peers, nil
}

func requireRow(res sql.Result, name string) error {
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// agentRow mirrors the agents table; booleans are stored as integers for
// SQLite compatibility.
type agentRow struct {
	ID              string    `db:"id"`
	Name            string    `db:"name"`
	OwnerID         string    `db:"owner_id"`
	ContainerID     string    `db:"container_id"`
	RuntimeURL      string    `db:"runtime_url"`
	AutonomyEnabled int       `db:"autonomy_enabled"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (row *agentRow) toAgent() *Agent {
	return &Agent{
		ID:              row.ID,
		Name:            row.Name,
		OwnerID:         row.OwnerID,
		ContainerID:     row.ContainerID,
		RuntimeURL:      row.RuntimeURL,
		AutonomyEnabled: row.AutonomyEnabled == 1,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

type sharedFolderRow struct {
	AgentName      string    `db:"agent_name"`
	ExposeEnabled  int       `db:"expose_enabled"`
	ConsumeEnabled int       `db:"consume_enabled"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (row *sharedFolderRow) toConfig() *SharedFolderConfig {
	return &SharedFolderConfig{
		AgentName:      row.AgentName,
		ExposeEnabled:  row.ExposeEnabled == 1,
		ConsumeEnabled: row.ConsumeEnabled == 1,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}
