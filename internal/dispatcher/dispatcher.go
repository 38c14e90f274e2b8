// Package dispatcher admits enrichment runs one at a time. Runs are requested
// through Start (API) or RunOnce (CLI); a second request while one is pending
// or active is refused with ErrBusy.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/pipeline"
)

var (
	// ErrBusy is returned when a run is already pending or active.
	ErrBusy = errors.New("a run is already in progress")
	// ErrStopped is returned once the dispatch loop has exited.
	ErrStopped = errors.New("dispatcher stopped")
	// ErrNotRunning is returned by Cancel for an unknown or finished run.
	ErrNotRunning = errors.New("run is not in progress")
)

// Runner executes one run.
type Runner interface {
	Run(ctx context.Context, cfg pipeline.RunConfig) (pipeline.Report, error)
}

// IDGenerator mints run ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Snapshot builds the per-run configuration for a fresh run id.
type Snapshot func(runID string) pipeline.RunConfig

// Dispatcher serializes runs.
type Dispatcher struct {
	runner   Runner
	ids      IDGenerator
	snapshot Snapshot
	logger   *zap.Logger
	requests chan string

	mu       sync.Mutex
	current  string
	cancel   context.CancelFunc
	canceled bool
	stopped  bool
	last     *pipeline.Report
}

// New creates a Dispatcher.
func New(runner Runner, ids IDGenerator, snapshot Snapshot, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner:   runner,
		ids:      ids,
		snapshot: snapshot,
		logger:   logger.Named("dispatcher"),
		requests: make(chan string, 1),
	}
}

// Run executes requested runs until ctx is done. An active run is canceled
// with ctx and Run returns after it has finished.
func (d *Dispatcher) Run(ctx context.Context) {
	defer func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case runID := <-d.requests:
			report, err := d.execute(ctx, runID)
			if err != nil {
				d.logger.Warn("run ended with error", zap.String("run_id", runID), zap.Error(err))
				continue
			}
			d.logger.Info("run complete",
				zap.String("run_id", runID),
				zap.Int("success", report.Succeeded),
				zap.Int("failed", report.Failed),
			)
		}
	}
}

// Start queues a run and returns its id without waiting for it.
func (d *Dispatcher) Start() (string, error) {
	runID, err := d.acquire()
	if err != nil {
		return "", err
	}
	select {
	case d.requests <- runID:
		return runID, nil
	default:
		d.release(runID, nil)
		return "", ErrBusy
	}
}

// RunOnce executes a run on the caller's goroutine.
func (d *Dispatcher) RunOnce(ctx context.Context) (pipeline.Report, error) {
	runID, err := d.acquire()
	if err != nil {
		return pipeline.Report{}, err
	}
	return d.execute(ctx, runID)
}

// Current returns the pending or active run id, if any.
func (d *Dispatcher) Current() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.current != ""
}

// Last returns the report of the most recently finished run.
func (d *Dispatcher) Last() (pipeline.Report, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return pipeline.Report{}, false
	}
	return *d.last, true
}

// Cancel stops runID. Items not yet processed fail with "canceled".
func (d *Dispatcher) Cancel(runID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if runID == "" || d.current != runID {
		return ErrNotRunning
	}
	d.canceled = true
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

func (d *Dispatcher) acquire() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return "", ErrStopped
	}
	if d.current != "" {
		return "", ErrBusy
	}
	runID, err := d.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("new run id: %w", err)
	}
	d.current = runID
	d.canceled = false
	return runID, nil
}

func (d *Dispatcher) release(runID string, report *pipeline.Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != runID {
		return
	}
	d.current = ""
	d.cancel = nil
	if report != nil {
		d.last = report
	}
}

func (d *Dispatcher) execute(ctx context.Context, runID string) (pipeline.Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.cancel = cancel
	if d.canceled {
		cancel()
	}
	d.mu.Unlock()

	report, err := d.runner.Run(runCtx, d.snapshot(runID))
	d.release(runID, &report)
	if err != nil {
		return report, fmt.Errorf("run %s: %w", runID, err)
	}
	return report, nil
}
