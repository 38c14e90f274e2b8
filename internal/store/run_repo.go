package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the runs.status column.
type RunStatus string

// Persisted run statuses. Everything but RunRunning is final.
const (
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunInfo    RunStatus = "info"
	RunError   RunStatus = "error"
)

// Run is one enrichment run.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Message    *string    `json:"message,omitempty"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
}

// RunSummary is the final state written when a run ends.
type RunSummary struct {
	FinishedAt time.Time
	Status     RunStatus
	Message    *string
	Total      int
	Succeeded  int
	Failed     int
}

// Item is the outcome recorded for one identifier.
type Item struct {
	RunID      string        `json:"run_id"`
	ASIN       string        `json:"asin"`
	Index      int           `json:"index"`
	OK         bool          `json:"ok"`
	Error      *string       `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}

// RunRepository persists run history.
type RunRepository interface {
	// UpsertRunStart records a run as running; repeated calls are harmless.
	UpsertRunStart(ctx context.Context, runID string, startedAt time.Time) error
	// CompleteRun writes the final status and tallies.
	CompleteRun(ctx context.Context, runID string, summary RunSummary) error
	// RecordItem stores one item outcome, replacing an earlier one for the same identifier.
	RecordItem(ctx context.Context, item Item) error

	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunItems returns item outcomes of one run in index order.
	ListRunItems(ctx context.Context, runID string, limit, offset int) ([]Item, error)
}
