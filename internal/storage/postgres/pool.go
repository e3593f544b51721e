// Package postgres provides Postgres-backed persistence implementations: the
// record mirror and batch run history.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Execer is the subset of pgxpool.Pool the stores use.
type Execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mirror.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id             UUID        NOT NULL,
	serial             INTEGER     NOT NULL,
	name               TEXT        NOT NULL,
	roll               TEXT        NOT NULL,
	program            TEXT        NOT NULL,
	branch             TEXT        NOT NULL,
	semester           TEXT        NOT NULL,
	status             TEXT        NOT NULL,
	session            TEXT        NOT NULL,
	result_description TEXT        NOT NULL,
	sgpa               TEXT        NOT NULL,
	cgpa               TEXT        NOT NULL,
	subjects           JSONB       NOT NULL,
	not_found          BOOLEAN     NOT NULL,
	stored_at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, serial)
);
CREATE TABLE IF NOT EXISTS harvest_runs (
	id          UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status      TEXT        NOT NULL,
	merged      BIGINT      NOT NULL DEFAULT 0,
	not_found   BIGINT      NOT NULL DEFAULT 0,
	rejected    BIGINT      NOT NULL DEFAULT 0,
	timed_out   BIGINT      NOT NULL DEFAULT 0,
	failed      BIGINT      NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS harvest_outcomes (
	run_id      UUID        NOT NULL,
	identifier  TEXT        NOT NULL,
	outcome     TEXT        NOT NULL,
	attempts    INTEGER     NOT NULL,
	serial      INTEGER,
	finished_at TIMESTAMPTZ NOT NULL,
	note        TEXT
);`

// EnsureSchema creates the mirror tables when they do not exist.
func EnsureSchema(ctx context.Context, db Execer, recordsTable string) error {
	table, err := tableName(recordsTable)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, fmt.Sprintf(schemaTemplate, table)); err != nil {
		return fmt.Errorf("create mirror schema: %w", err)
	}
	return nil
}

func tableName(name string) (string, error) {
	if name == "" {
		name = defaultRecordsTable
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}
