package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-enricher/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	ctx := context.Background()
	start := time.Unix(1700000000, 0).UTC()

	require.NoError(t, runs.UpsertRunStart(ctx, "run-1", start))
	require.NoError(t, runs.UpsertRunStart(ctx, "run-1", start.Add(time.Minute)))

	run, err := runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.RunRunning, run.Status)
	require.Equal(t, start, run.StartedAt)
	require.Nil(t, run.FinishedAt)

	reason := "timeout"
	require.NoError(t, runs.RecordItem(ctx, store.Item{RunID: "run-1", ASIN: "B000000002", Index: 2, Error: &reason}))
	require.NoError(t, runs.RecordItem(ctx, store.Item{RunID: "run-1", ASIN: "B000000001", Index: 1, OK: true}))
	reason = "mutated"

	items, err := runs.ListRunItems(ctx, "run-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "B000000001", items[0].ASIN)
	require.Equal(t, "timeout", *items[1].Error)

	require.NoError(t, runs.CompleteRun(ctx, "run-1", store.RunSummary{
		FinishedAt: start.Add(time.Hour),
		Status:     store.RunDone,
		Total:      2,
		Succeeded:  1,
		Failed:     1,
	}))
	run, err = runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.RunDone, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, 1, run.Failed)

	_, err = runs.GetRun(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, runs.UpsertRunStart(ctx, id, base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, runs.CompleteRun(ctx, "b", store.RunSummary{FinishedAt: base.Add(time.Hour), Status: store.RunInfo}))

	all, err := runs.ListRuns(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, ids(all))

	paged, err := runs.ListRuns(ctx, nil, 1, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids(paged))

	running := store.RunRunning
	filtered, err := runs.ListRuns(ctx, &running, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a"}, ids(filtered))

	past, err := runs.ListRuns(ctx, nil, 10, 5)
	require.NoError(t, err)
	require.Empty(t, past)
}

func ids(runs []store.Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
