package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-enricher/internal/pipeline"
)

// TestDispatcherRunExecutesStartedRuns ensures queued runs execute and the loop stops on cancel.
func TestDispatcherRunExecutesStartedRuns(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	d := New(runner, &seqIDs{}, snapshot, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	id, err := d.Start()
	require.NoError(t, err)
	require.Equal(t, "run-1", id)
	require.Equal(t, "run-1", <-runner.started)

	current, ok := d.Current()
	require.True(t, ok)
	require.Equal(t, "run-1", current)

	_, err = d.Start()
	require.ErrorIs(t, err, ErrBusy)

	close(runner.release)
	require.Eventually(t, func() bool {
		_, busy := d.Current()
		return !busy
	}, time.Second, 5*time.Millisecond)

	last, ok := d.Last()
	require.True(t, ok)
	require.Equal(t, "run-1", last.RunID)
	require.Equal(t, "https://script.example.com/exec", runner.configs()[0].Endpoint)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	_, err = d.Start()
	require.ErrorIs(t, err, ErrStopped)
}

func TestDispatcherCancelStopsActiveRun(t *testing.T) {
	t.Parallel()

	runner := newBlockingRunner()
	d := New(runner, &seqIDs{}, snapshot, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	id, err := d.Start()
	require.NoError(t, err)
	<-runner.started

	require.ErrorIs(t, d.Cancel("other"), ErrNotRunning)
	require.NoError(t, d.Cancel(id))
	require.Eventually(t, func() bool {
		_, busy := d.Current()
		return !busy
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, d.Cancel(id), ErrNotRunning)
}

func TestDispatcherRunOnce(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{err: errors.New("fetch queue: boom")}
	d := New(runner, &seqIDs{}, snapshot, nil)

	report, err := d.RunOnce(context.Background())
	require.ErrorContains(t, err, "run run-1: fetch queue: boom")
	require.Equal(t, "run-1", report.RunID)

	runner.err = nil
	report, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-2", report.RunID)
	_, busy := d.Current()
	require.False(t, busy)
}

func TestDispatcherIDFailureReleasesSlot(t *testing.T) {
	t.Parallel()

	ids := &seqIDs{err: errors.New("entropy")}
	d := New(&scriptedRunner{}, ids, snapshot, nil)
	_, err := d.Start()
	require.ErrorContains(t, err, "new run id")

	ids.err = nil
	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
}

func snapshot(runID string) pipeline.RunConfig {
	return pipeline.RunConfig{RunID: runID, Endpoint: "https://script.example.com/exec"}
}

type seqIDs struct {
	n   int
	err error
}

func (s *seqIDs) NewID() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type blockingRunner struct {
	started chan string
	release chan struct{}

	mu   sync.Mutex
	cfgs []pipeline.RunConfig
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, cfg pipeline.RunConfig) (pipeline.Report, error) {
	r.mu.Lock()
	r.cfgs = append(r.cfgs, cfg)
	r.mu.Unlock()
	r.started <- cfg.RunID
	select {
	case <-r.release:
		return pipeline.Report{RunID: cfg.RunID}, nil
	case <-ctx.Done():
		return pipeline.Report{RunID: cfg.RunID}, fmt.Errorf("run canceled: %w", ctx.Err())
	}
}

func (r *blockingRunner) configs() []pipeline.RunConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.RunConfig(nil), r.cfgs...)
}

type scriptedRunner struct {
	err error
}

func (r *scriptedRunner) Run(_ context.Context, cfg pipeline.RunConfig) (pipeline.Report, error) {
	return pipeline.Report{RunID: cfg.RunID}, r.err
}
