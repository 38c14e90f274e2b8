package cache

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/listing-enricher/internal/ocr"
)

type entry struct {
	text    string
	expires time.Time
}

// Memory is an in-process ocr.Cache with optional expiry.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

var _ ocr.Cache = (*Memory)(nil)

// NewMemory returns an empty cache; ttl <= 0 keeps entries forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

// Get implements ocr.Cache.
func (m *Memory) Get(_ context.Context, imageURL string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[imageURL]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, imageURL)
		return "", false, nil
	}
	return e.text, true, nil
}

// Set implements ocr.Cache.
func (m *Memory) Set(_ context.Context, imageURL, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{text: text}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[imageURL] = e
	return nil
}
