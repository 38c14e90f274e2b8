package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureSettlesOnce(t *testing.T) {
	t.Parallel()

	fut := NewFuture[int]()
	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				wins <- fut.Resolve(i)
				return
			}
			wins <- fut.Reject(errors.New("boom"))
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for w := range wins {
		if w {
			count++
		}
	}
	require.Equal(t, 1, count)

	v1, err1 := fut.Wait(context.Background())
	v2, err2 := fut.Wait(context.Background())
	require.Equal(t, v1, v2)
	require.Equal(t, err1, err2)
}

func TestBusDeliversToRegisteredListener(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	exp := bus.Expect(Match(TypeScrapeResult, "tab-1"))

	require.Equal(t, 0, bus.Publish(Message{Type: TypeScrapeResult, TabID: "tab-2"}))
	require.Equal(t, 1, bus.Publish(Message{Type: TypeScrapeResult, TabID: "tab-1", Payload: "data"}))

	msg, err := exp.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "data", msg.Payload)
	require.Equal(t, 0, bus.Pending())

	// Single fulfilment: a second publish finds nobody.
	require.Equal(t, 0, bus.Publish(Message{Type: TypeScrapeResult, TabID: "tab-1"}))
}

func TestBusTimeoutRemovesListener(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	_, err := bus.Await(context.Background(), Match(TypeScrapeResult, "tab-1"), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 0, bus.Pending())
	require.Equal(t, 0, bus.Publish(Message{Type: TypeScrapeResult, TabID: "tab-1"}))
}

func TestBusContextCancel(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bus.Await(ctx, Match(TypeScrapeResult, "tab-1"), time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, bus.Pending())
}

func TestCall(t *testing.T) {
	t.Parallel()

	v, err := Call(context.Background(), time.Second, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", v)

	started := make(chan struct{})
	canceled := make(chan struct{})
	_, err = Call(context.Background(), 10*time.Millisecond, func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		close(canceled)
		return "", ctx.Err()
	})
	require.ErrorIs(t, err, ErrTimeout)
	<-started
	require.Eventually(t, func() bool {
		select {
		case <-canceled:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
