package message

import (
	"context"
	"sync"
	"time"
)

// Future holds a value that is settled exactly once.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// NewFuture returns an unsettled future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve settles the future with v. It reports whether this call settled it.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err. It reports whether this call settled it.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future settles or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Call runs fn in its own goroutine and waits at most timeout for it.
// On timeout the context passed to fn is canceled and ErrTimeout is returned;
// a late result from fn is discarded.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fut := NewFuture[T]()
	go func() {
		v, err := fn(callCtx)
		if err != nil {
			fut.Reject(err)
			return
		}
		fut.Resolve(v)
	}()

	return waitWithTimeout(ctx, fut, timeout)
}

func waitWithTimeout[T any](ctx context.Context, fut *Future[T], timeout time.Duration) (T, error) {
	var zero T
	if timeout <= 0 {
		return fut.Wait(ctx)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-fut.Done():
		return fut.Wait(ctx)
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
