package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/listing-enricher/internal/progress"
)

// Badge texts shown while an item is in flight and once the run ends.
const (
	BadgeBusy = "…"
	BadgeIdle = ""
)

// Snapshot is the live view of the latest run.
type Snapshot struct {
	RunID     string          `json:"run_id,omitempty"`
	Status    progress.Status `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Index     int             `json:"index"`
	Total     int             `json:"total"`
	ASIN      string          `json:"asin,omitempty"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Badge     string          `json:"badge"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// Active reports whether the run has started and not ended.
func (s Snapshot) Active() bool {
	return s.Status == progress.StatusStarted
}

// StatusBoard keeps the latest run's status and badge in memory.
type StatusBoard struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatusBoard returns an idle board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{}
}

// Snapshot returns the current view.
func (b *StatusBoard) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// Consume folds batch into the board. A new run id resets it.
func (b *StatusBoard) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range batch {
		if evt.RunID != b.snap.RunID {
			b.snap = Snapshot{RunID: evt.RunID}
		}
		b.snap.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StageRunStatus:
			b.snap.Status = evt.Status
			b.snap.Message = evt.Message
			if evt.Terminal() {
				b.snap.Badge = BadgeIdle
				b.snap.Total = evt.Total
			}
			if evt.Status == progress.StatusDone {
				b.snap.Succeeded, b.snap.Failed = evt.Succeeded, evt.Failed
			}
		case progress.StageRunProgress:
			b.snap.Index, b.snap.Total, b.snap.ASIN = evt.Index, evt.Total, evt.ASIN
			b.snap.Badge = BadgeBusy
		case progress.StageItemDone:
			if evt.OK {
				b.snap.Succeeded++
			} else {
				b.snap.Failed++
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (b *StatusBoard) Close(context.Context) error {
	return nil
}
