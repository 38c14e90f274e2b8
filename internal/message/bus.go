// Package message carries the exchange between the pipeline and the agent
// running inside each page: typed messages, a single-settlement future, and
// a bus whose listeners are removed on both the reply and the timeout path.
package message

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Type names a message kind.
type Type string

const (
	// TypeScrapeResult is sent once by the agent after the page settles.
	TypeScrapeResult Type = "SCRAPE_RESULT"
	// TypeGetOCRImages asks the agent for ranked image candidates.
	TypeGetOCRImages Type = "GET_OCR_IMAGES"
	// TypeDebugSections asks the agent for its section analysis.
	TypeDebugSections Type = "DEBUG_SECTIONS"
)

// ErrTimeout is returned when no matching message arrives in time.
var ErrTimeout = errors.New("message: timeout")

// Message is one envelope on the bus.
type Message struct {
	Type    Type
	TabID   string
	Payload any
}

// Matcher selects the message a listener waits for.
type Matcher func(Message) bool

// Match returns a Matcher for a message type from one tab.
func Match(t Type, tabID string) Matcher {
	return func(m Message) bool { return m.Type == t && m.TabID == tabID }
}

type listener struct {
	match Matcher
	fut   *Future[Message]
}

// Bus fans published messages out to the listeners waiting for them.
// Each listener receives at most one message.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]listener
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[uint64]listener)}
}

// Publish delivers msg to every matching listener and returns how many received it.
func (b *Bus) Publish(msg Message) int {
	b.mu.Lock()
	var hits []listener
	for id, l := range b.listeners {
		if l.match(msg) {
			hits = append(hits, l)
			delete(b.listeners, id)
		}
	}
	b.mu.Unlock()

	for _, l := range hits {
		l.fut.Resolve(msg)
	}
	return len(hits)
}

// Pending reports the number of registered listeners.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Expect registers a listener now so a message published before Wait is not lost.
func (b *Bus) Expect(match Matcher) *Expectation {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	fut := NewFuture[Message]()
	b.listeners[b.nextID] = listener{match: match, fut: fut}
	return &Expectation{bus: b, id: b.nextID, fut: fut}
}

// Await is Expect followed by Wait.
func (b *Bus) Await(ctx context.Context, match Matcher, timeout time.Duration) (Message, error) {
	return b.Expect(match).Wait(ctx, timeout)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.listeners, id)
	b.mu.Unlock()
}

// Expectation is a registered listener awaiting one message.
type Expectation struct {
	bus *Bus
	id  uint64
	fut *Future[Message]
}

// Wait blocks until the message arrives, timeout elapses or ctx ends.
// The listener is removed on every path.
func (e *Expectation) Wait(ctx context.Context, timeout time.Duration) (Message, error) {
	defer e.Cancel()
	return waitWithTimeout(ctx, e.fut, timeout)
}

// Cancel removes the listener and settles the expectation with ErrTimeout if still open.
func (e *Expectation) Cancel() {
	e.bus.remove(e.id)
	e.fut.Reject(ErrTimeout)
}
