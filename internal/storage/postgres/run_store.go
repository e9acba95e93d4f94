// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/craftwatch/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run rows.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore writes one row per crawl run into Postgres.
type RunStore struct {
	pool  pool
	table string
}

var _ crawler.RunStore = (*RunStore)(nil)

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the runs table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT PRIMARY KEY,
	as_of       TEXT NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	items       INTEGER NOT NULL,
	breweries   INTEGER NOT NULL,
	stats       JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// RecordRun inserts a run row.
func (s *RunStore) RecordRun(ctx context.Context, run crawler.RunRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if run.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	stats := run.Stats
	if stats == nil {
		stats = map[string]crawler.Stats{}
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	as_of,
	captured_at,
	items,
	breweries,
	stats
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.table)

	args := []any{
		run.RunID,
		run.AsOf,
		run.CapturedAt,
		run.Items,
		run.Breweries,
		statsJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently captured run.
func (s *RunStore) LatestRun(ctx context.Context) (crawler.RunRecord, error) {
	query := fmt.Sprintf(`
SELECT run_id, as_of, captured_at, items, breweries, stats
FROM %s
ORDER BY captured_at DESC
LIMIT 1`, s.table)

	var (
		run       crawler.RunRecord
		statsJSON []byte
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&run.RunID,
		&run.AsOf,
		&run.CapturedAt,
		&run.Items,
		&run.Breweries,
		&statsJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.RunRecord{}, crawler.ErrRunNotFound
	}
	if err != nil {
		return crawler.RunRecord{}, fmt.Errorf("select latest run: %w", err)
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
			return crawler.RunRecord{}, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	return run, nil
}
