package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMapBoundedPreservesOrder(t *testing.T) {
	t.Parallel()

	items := []int{5, 1, 4, 2, 3}
	results := MapBounded(context.Background(), items, 2, time.Second, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	})

	require.Len(t, results, len(items))
	require.Equal(t, []int{50, 10, 40, 20, 30}, values(results))
}

func TestMapBoundedRespectsLimit(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		items int
		limit int
	}{
		{"limit one", 6, 1},
		{"limit three", 10, 3},
		{"limit above items", 2, 8},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var active, peak atomic.Int32
			items := make([]int, tc.items)
			results := MapBounded(context.Background(), items, tc.limit, time.Second, func(context.Context, int) (struct{}, error) {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return struct{}{}, nil
			})
			require.Len(t, results, tc.items)
			require.LessOrEqual(t, int(peak.Load()), tc.limit)
		})
	}
}

func TestMapBoundedTimeoutDegradesToZero(t *testing.T) {
	t.Parallel()

	canceled := make(chan struct{})
	start := time.Now()
	results := MapBounded(context.Background(), []string{"slow", "fast"}, 2, 20*time.Millisecond,
		func(ctx context.Context, s string) (string, error) {
			if s == "slow" {
				<-ctx.Done()
				close(canceled)
				return "late", nil
			}
			return "text:" + s, nil
		})

	require.Less(t, time.Since(start), time.Second)
	require.True(t, results[0].TimedOut())
	require.Equal(t, "", results[0].Value)
	require.NoError(t, results[1].Err)
	require.Equal(t, []string{"", "text:fast"}, values(results))
	<-canceled
}

// A worker that ignores its context keeps running after its deadline; the
// slot is released anyway so later items are not held back by it.
func TestMapBoundedTimedOutWorkerDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	var inFlight atomic.Int32
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	results := MapBounded(context.Background(), []int{1, 2, 3, 4}, 1, 10*time.Millisecond, func(_ context.Context, n int) (int, error) {
		inFlight.Add(1)
		defer inFlight.Add(-1)
		<-release
		return n, nil
	})
	require.Less(t, time.Since(start), 2*time.Second)

	for _, r := range results {
		require.True(t, r.TimedOut())
		require.Zero(t, r.Value)
	}
	require.Eventually(t, func() bool { return inFlight.Load() == 4 }, time.Second, time.Millisecond,
		"abandoned workers keep running beside later tasks")
}

func TestMapBoundedWorkerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	results := MapBounded(context.Background(), []int{1, 2}, 1, 0, func(_ context.Context, n int) (int, error) {
		if n == 1 {
			return 0, boom
		}
		return n, nil
	})
	require.ErrorIs(t, results[0].Err, boom)
	require.Equal(t, 2, results[1].Value)
}

func TestMapBoundedCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	results := MapBounded(ctx, []int{1, 2, 3}, 2, time.Second, func(context.Context, int) (int, error) {
		calls.Add(1)
		return 1, nil
	})
	require.Len(t, results, 3)
	for _, r := range results {
		require.ErrorIs(t, r.Err, context.Canceled)
	}
	require.Zero(t, calls.Load())
}

func TestMapBoundedEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, MapBounded(context.Background(), []int(nil), 3, time.Second, func(context.Context, int) (int, error) {
		return 0, nil
	}))
}

// values returns each result's value, using the zero value for failures.
func values[T any](results []Result[T]) []T {
	out := make([]T, len(results))
	for i, r := range results {
		if r.Err == nil {
			out[i] = r.Value
		}
	}
	return out
}
