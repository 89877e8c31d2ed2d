// Package persistence opens the configured database and hands out the
// reader/writer pool the SQL repositories run on.
package persistence

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/agentplane/agentplane/internal/common/config"
	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/db"
	"github.com/agentplane/agentplane/internal/db/dialect"
)

// Provide opens the database named by cfg and returns the pool, the
// sqlx driver name for query rebinding, and a cleanup function.
func Provide(cfg config.DatabaseConfig, log *logger.Logger) (*db.Pool, string, func(), error) {
	switch cfg.Driver {
	case "", "sqlite":
		return provideSQLite(cfg, log)
	case "postgres":
		return providePostgres(cfg, log)
	default:
		return nil, "", nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func provideSQLite(cfg config.DatabaseConfig, log *logger.Logger) (*db.Pool, string, func(), error) {
	writerConn, err := db.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open sqlite writer: %w", err)
	}
	readerConn, err := db.OpenSQLiteReader(cfg.Path)
	if err != nil {
		_ = writerConn.Close()
		return nil, "", nil, fmt.Errorf("failed to open sqlite reader: %w", err)
	}

	writer := sqlx.NewDb(writerConn, dialect.SQLite3)
	reader := sqlx.NewDb(readerConn, dialect.SQLite3)
	pool := db.NewPool(writer, reader)

	log.Info("SQLite database opened", zap.String("path", cfg.Path))
	cleanup := func() {
		// Let SQLite refresh its query planner stats before shutdown.
		if _, err := writer.Exec("PRAGMA optimize"); err != nil {
			log.Warn("PRAGMA optimize failed", zap.Error(err))
		}
		if err := pool.Close(); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}
	return pool, dialect.SQLite3, cleanup, nil
}

func providePostgres(cfg config.DatabaseConfig, log *logger.Logger) (*db.Pool, string, func(), error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	conn, err := db.OpenPostgres(dsn, cfg.MaxConns, cfg.MinConns)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	// Postgres handles concurrent writers; one handle serves both sides.
	handle := sqlx.NewDb(conn, dialect.PGX)
	pool := db.NewPool(handle, handle)

	log.Info("Postgres database opened",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.DBName),
	)
	cleanup := func() {
		if err := pool.Close(); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}
	return pool, dialect.PGX, cleanup, nil
}
