package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplane/agentplane/internal/db"
	"github.com/agentplane/agentplane/internal/db/dialect"
)

func newTestRepository(t *testing.T) *SQLRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	conn, err := db.OpenSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	pool := db.NewPool(sqlx.NewDb(conn, dialect.SQLite3), sqlx.NewDb(conn, dialect.SQLite3))
	repo, err := NewSQLRepository(pool, dialect.SQLite3)
	require.NoError(t, err)
	return repo
}

func TestAgentCRUD(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	a := &Agent{Name: "alpha", OwnerID: "user-1", RuntimeURL: "http://alpha:8080", AutonomyEnabled: true}
	require.NoError(t, repo.CreateAgent(ctx, a))
	require.NotEmpty(t, a.ID)

	got, err := repo.GetAgent(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "user-1", got.OwnerID)
	assert.True(t, got.AutonomyEnabled)

	got.AutonomyEnabled = false
	got.ContainerID = "c1"
	require.NoError(t, repo.UpdateAgent(ctx, got))

	got, err = repo.GetAgent(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, got.AutonomyEnabled)
	assert.Equal(t, "c1", got.ContainerID)

	require.NoError(t, repo.SetContainer(ctx, "alpha", "c2"))
	got, err = repo.GetAgent(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.ContainerID)

	require.NoError(t, repo.DeleteAgent(ctx, "alpha"))
	_, err = repo.GetAgent(ctx, "alpha")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAgentNotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSharedFolderConfigDefaultsToDisabled(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	cfg, err := repo.GetSharedFolderConfig(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, cfg.ExposeEnabled)
	assert.False(t, cfg.ConsumeEnabled)
}

func TestSharedFolderConfigUpsert(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertSharedFolderConfig(ctx, &SharedFolderConfig{
		AgentName:     "alpha",
		ExposeEnabled: true,
	}))

	cfg, err := repo.GetSharedFolderConfig(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, cfg.ExposeEnabled)
	assert.False(t, cfg.ConsumeEnabled)

	require.NoError(t, repo.UpsertSharedFolderConfig(ctx, &SharedFolderConfig{
		AgentName:      "alpha",
		ExposeEnabled:  true,
		ConsumeEnabled: true,
	}))

	cfg, err = repo.GetSharedFolderConfig(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, cfg.ConsumeEnabled)
}

func TestPermissions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.GrantPermission(ctx, "alpha", "beta"))
	require.NoError(t, repo.GrantPermission(ctx, "alpha", "gamma"))
	// Granting twice is a no-op.
	require.NoError(t, repo.GrantPermission(ctx, "alpha", "beta"))

	peers, err := repo.ListPermittedPeers(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "gamma"}, peers)

	require.NoError(t, repo.RevokePermission(ctx, "alpha", "beta"))
	peers, err = repo.ListPermittedPeers(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, peers)

	peers, err = repo.ListPermittedPeers(ctx, "beta")
	require.NoError(t, err)
	assert.Empty(t, peers)
}
