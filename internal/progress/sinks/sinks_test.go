package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listing-enricher/internal/progress"
	"github.com/JakeFAU/listing-enricher/internal/publisher"
	"github.com/JakeFAU/listing-enricher/internal/publisher/memory"
	memstore "github.com/JakeFAU/listing-enricher/internal/storage/memory"
	"github.com/JakeFAU/listing-enricher/internal/store"
)

var t0 = time.Unix(1700000000, 0).UTC()

// twoItemRun is a run of two identifiers where the second times out.
func twoItemRun(runID string) []progress.Event {
	done := progress.RunStatus(runID, t0.Add(5*time.Second), progress.StatusDone, "")
	done.Total, done.Succeeded, done.Failed, done.Dur = 2, 1, 1, 5*time.Second
	return []progress.Event{
		progress.RunStatus(runID, t0, progress.StatusStarted, ""),
		progress.Progress(runID, t0.Add(time.Second), 1, 2, "B000000001"),
		progress.ItemDone(runID, t0.Add(2*time.Second), 1, 2, "B000000001", nil, time.Second),
		progress.Progress(runID, t0.Add(3*time.Second), 2, 2, "B000000002"),
		progress.ItemDone(runID, t0.Add(4*time.Second), 2, 2, "B000000002", errors.New("timeout"), 40*time.Second),
		done,
	}
}

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	events := twoItemRun("run-1")
	require.NoError(t, sink.Consume(context.Background(), events[:2]))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.queueSize))

	require.NoError(t, sink.Consume(context.Background(), events[2:]))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("done")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("ok", "")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("failed", "timeout")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "enricher_run_duration_seconds"))
	require.Equal(t, 2, testutil.CollectAndCount(sink.itemDuration, "enricher_item_duration_seconds"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "second registration must collide")
}

func TestPrometheusSinkBoundsReasons(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)
	batch := []progress.Event{
		progress.ItemDone("r", t0, 1, 3, "B000000001", errors.New("write row: sheets: unexpected status: 500"), 0),
		progress.ItemDone("r", t0, 2, 3, "B000000002", errors.New("open session: open tab: no browser"), 0),
		progress.ItemDone("r", t0, 3, 3, "B000000003", errors.New("GET_OCR_IMAGES request: boom"), 0),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("failed", "write_failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("failed", "session_failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("failed", "other")))
}

func TestStoreSinkPersistsRun(t *testing.T) {
	t.Parallel()

	repo := memstore.NewRunStore()
	sink := NewStoreSink(repo, nil)
	require.NoError(t, sink.Consume(context.Background(), twoItemRun("run-1")))

	run, err := repo.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, store.RunDone, run.Status)
	require.Equal(t, t0, run.StartedAt)
	require.Equal(t, 2, run.Total)
	require.Equal(t, 1, run.Failed)
	require.Nil(t, run.Message)

	items, err := repo.ListRunItems(context.Background(), "run-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.True(t, items[0].OK)
	require.Equal(t, "timeout", *items[1].Error)
}

func TestStoreSinkEmptyQueue(t *testing.T) {
	t.Parallel()

	repo := memstore.NewRunStore()
	sink := NewStoreSink(repo, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progress.RunStatus("run-2", t0, progress.StatusStarted, ""),
		progress.RunStatus("run-2", t0.Add(time.Second), progress.StatusInfo, "No new ASINs to process."),
	}))

	run, err := repo.GetRun(context.Background(), "run-2")
	require.NoError(t, err)
	require.Equal(t, store.RunInfo, run.Status)
	require.Equal(t, "No new ASINs to process.", *run.Message)
	require.Zero(t, run.Total)
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRepo{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{progress.RunStatus("r", t0, progress.StatusStarted, "")})
	require.ErrorContains(t, err, "upsert run start")

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), twoItemRun("r")))
}

func TestStatusBoardTracksBadge(t *testing.T) {
	t.Parallel()

	board := NewStatusBoard()
	require.False(t, board.Snapshot().Active())

	events := twoItemRun("run-1")
	require.NoError(t, board.Consume(context.Background(), events[:4]))
	snap := board.Snapshot()
	require.True(t, snap.Active())
	require.Equal(t, BadgeBusy, snap.Badge)
	require.Equal(t, 2, snap.Index)
	require.Equal(t, "B000000002", snap.ASIN)
	require.Equal(t, 1, snap.Succeeded)

	require.NoError(t, board.Consume(context.Background(), events[4:]))
	snap = board.Snapshot()
	require.False(t, snap.Active())
	require.Equal(t, progress.StatusDone, snap.Status)
	require.Equal(t, BadgeIdle, snap.Badge)
	require.Equal(t, 1, snap.Failed)

	require.NoError(t, board.Consume(context.Background(), []progress.Event{
		progress.RunStatus("run-2", t0.Add(time.Hour), progress.StatusError, "Set GAS endpoint first."),
	}))
	snap = board.Snapshot()
	require.Equal(t, "run-2", snap.RunID)
	require.Zero(t, snap.Succeeded)
	require.Equal(t, "Set GAS endpoint first.", snap.Message)
}

func TestNotifySinkPublishesOutcomes(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewNotifySink(pub, nil)
	require.NoError(t, sink.Consume(context.Background(), twoItemRun("run-1")))

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, publisher.KindItemDone, msgs[0].Kind)
	require.True(t, msgs[0].OK)
	require.Equal(t, "timeout", msgs[1].Error)
	require.Equal(t, publisher.KindRunFinished, msgs[2].Kind)
	require.Equal(t, "done", msgs[2].Status)
	require.Equal(t, 1, msgs[2].Succeeded)
	require.Empty(t, msgs[2].Error)
}

func TestNotifySinkJoinsErrors(t *testing.T) {
	t.Parallel()

	sink := NewNotifySink(failingPublisher{}, nil)
	err := sink.Consume(context.Background(), twoItemRun("run-1"))
	require.ErrorContains(t, err, "publish item_done B000000001")
	require.ErrorContains(t, err, "publish run_finished")
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), twoItemRun("run-1")))

	require.Equal(t, 6, logs.Len())
	warn := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warn, 1)
	require.Equal(t, "item failed", warn[0].Message)
	require.Equal(t, "timeout", warn[0].ContextMap()["error"])
	require.NoError(t, sink.Close(context.Background()))
}

type failingRepo struct{ store.RunRepository }

func (failingRepo) UpsertRunStart(context.Context, string, time.Time) error {
	return errors.New("db down")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, publisher.Notification) (string, error) {
	return "", errors.New("unavailable")
}
