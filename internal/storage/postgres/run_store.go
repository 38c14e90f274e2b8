// Package postgres persists run history in Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-enricher/internal/store"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the pool and table names.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// RunStore implements store.RunRepository.
type RunStore struct {
	db    querier
	runs  string
	items string
}

// NewRunStore connects a pool for cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewRunStoreWithPool(pool, cfg.TablePrefix)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool wraps an existing pool (pgxmock in tests).
func NewRunStoreWithPool(db querier, tablePrefix string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if tablePrefix == "" {
		tablePrefix = "enricher"
	}
	if !validTablePrefix.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}
	return &RunStore{db: db, runs: tablePrefix + "_runs", items: tablePrefix + "_items"}, nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Ping checks the pool can reach the database.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the history tables when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            text PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	message       text,
	total         integer NOT NULL DEFAULT 0,
	succeeded     integer NOT NULL DEFAULT 0,
	failed        integer NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS %[2]s (
	run_id        text NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
	asin          text NOT NULL,
	idx           integer NOT NULL,
	ok            boolean NOT NULL,
	error         text,
	duration_ms   bigint NOT NULL,
	finished_at   timestamptz NOT NULL,
	PRIMARY KEY (run_id, asin)
);`, s.runs, s.items)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts the run or flips it back to running.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`, s.runs)
	if _, err := s.db.Exec(ctx, query, runID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun writes the summary; a run with no start row is inserted finished.
func (s *RunStore) CompleteRun(ctx context.Context, runID string, sum store.RunSummary) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, finished_at, status, message, total, succeeded, failed)
VALUES ($1, $2, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	status = EXCLUDED.status,
	message = EXCLUDED.message,
	total = EXCLUDED.total,
	succeeded = EXCLUDED.succeeded,
	failed = EXCLUDED.failed`, s.runs)
	_, err := s.db.Exec(ctx, query, runID, sum.FinishedAt, string(sum.Status), sum.Message, sum.Total, sum.Succeeded, sum.Failed)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// RecordItem upserts one item outcome.
func (s *RunStore) RecordItem(ctx context.Context, item store.Item) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, asin, idx, ok, error, duration_ms, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, asin) DO UPDATE SET
	idx = EXCLUDED.idx,
	ok = EXCLUDED.ok,
	error = EXCLUDED.error,
	duration_ms = EXCLUDED.duration_ms,
	finished_at = EXCLUDED.finished_at`, s.items)
	_, err := s.db.Exec(ctx, query,
		item.RunID, item.ASIN, item.Index, item.OK, item.Error, item.Duration.Milliseconds(), item.FinishedAt)
	if err != nil {
		return fmt.Errorf("record item: %w", err)
	}
	return nil
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

const runColumns = "id, started_at, finished_at, status, message, total, succeeded, failed"

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.Message,
		&run.Total, &run.Succeeded, &run.Failed)
	run.Status = store.RunStatus(status)
	return run, err
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, s.runs)
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC, id DESC
LIMIT $2 OFFSET $3`, runColumns, s.runs)
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.db.Query(ctx, query, filter, limitArg(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListRunItems returns item outcomes ordered by index.
func (s *RunStore) ListRunItems(ctx context.Context, runID string, limit, offset int) ([]store.Item, error) {
	query := fmt.Sprintf(`SELECT run_id, asin, idx, ok, error, duration_ms, finished_at
FROM %s WHERE run_id = $1
ORDER BY idx
LIMIT $2 OFFSET $3`, s.items)
	rows, err := s.db.Query(ctx, query, runID, limitArg(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()

	items := []store.Item{}
	for rows.Next() {
		var (
			item store.Item
			ms   int64
		)
		if err := rows.Scan(&item.RunID, &item.ASIN, &item.Index, &item.OK, &item.Error, &ms, &item.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		item.Duration = time.Duration(ms) * time.Millisecond
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	return items, nil
}
