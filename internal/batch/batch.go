// Package batch runs a worker over a small list of items with bounded
// parallelism and a per-task deadline that degrades to an empty result.
package batch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrTaskTimeout marks a task that did not finish before its deadline.
var ErrTaskTimeout = errors.New("batch: task timeout")

// Result is the outcome of one item. Value is the zero value when Err is set.
type Result[T any] struct {
	Value T
	Err   error
}

// TimedOut reports whether the task hit its deadline.
func (r Result[T]) TimedOut() bool { return errors.Is(r.Err, ErrTaskTimeout) }

// MapBounded applies worker to every item with at most limit tasks in flight
// and returns one result per item, index-aligned with items.
//
// Each task races worker against perTask (no deadline when perTask <= 0). On
// timeout the task's context is canceled, its slot is released and the result
// is the zero value with ErrTaskTimeout; a late worker result is discarded.
// Items not yet started when ctx ends get ctx.Err().
//
// The limit bounds admitted tasks, not worker goroutines: a worker that ignores
// its canceled context keeps running after its slot is reused. Workers must
// return promptly once ctx is done for limit to hold for invocations too.
func MapBounded[In, Out any](
	ctx context.Context,
	items []In,
	limit int,
	perTask time.Duration,
	worker func(ctx context.Context, item In) (Out, error),
) []Result[Out] {
	results := make([]Result[Out], len(items))
	if len(items) == 0 {
		return results
	}
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			results[i] = Result[Out]{Err: err}
			continue
		}
		g.Go(func() error {
			results[i] = runTask(ctx, item, perTask, worker)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runTask[In, Out any](
	ctx context.Context,
	item In,
	perTask time.Duration,
	worker func(ctx context.Context, item In) (Out, error),
) Result[Out] {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan Result[Out], 1)
	go func() {
		v, err := worker(taskCtx, item)
		done <- Result[Out]{Value: v, Err: err}
	}()

	var deadline <-chan time.Time
	if perTask > 0 {
		timer := time.NewTimer(perTask)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case res := <-done:
		return res
	case <-deadline:
		return Result[Out]{Err: ErrTaskTimeout}
	case <-ctx.Done():
		return Result[Out]{Err: ctx.Err()}
	}
}
