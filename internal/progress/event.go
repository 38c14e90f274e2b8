package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the kind of event on the run stream.
type Stage string

// Supported stages.
const (
	StageRunStatus   Stage = "RUN_STATUS"
	StageRunProgress Stage = "RUN_PROGRESS"
	StageItemDone    Stage = "ITEM_DONE"
)

// Status is carried by RUN_STATUS events.
type Status string

// Run statuses. Info, Error and Done end a run.
const (
	StatusStarted Status = "started"
	StatusInfo    Status = "info"
	StatusError   Status = "error"
	StatusDone    Status = "done"
)

// Event is one entry on the run stream.
type Event struct {
	RunID string
	// TS is the UTC time the emitter recorded.
	TS    time.Time
	Stage Stage

	// Status and Message describe RUN_STATUS events.
	Status  Status
	Message string

	// Index is 1-based; Total is the number of identifiers in the run.
	Index int
	Total int
	ASIN  string

	// OK and Error describe ITEM_DONE events.
	OK    bool
	Error string

	// Succeeded and Failed are the tallies on a done status.
	Succeeded int
	Failed    int

	// Dur is the item duration on ITEM_DONE and the run duration on terminal statuses.
	Dur time.Duration
}

// Terminal reports whether the event ends its run.
func (e Event) Terminal() bool {
	if e.Stage != StageRunStatus {
		return false
	}
	switch e.Status {
	case StatusInfo, StatusError, StatusDone:
		return true
	}
	return false
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStatus:
		switch e.Status {
		case StatusStarted, StatusInfo, StatusError, StatusDone:
		default:
			return fmt.Errorf("unknown run status %q", e.Status)
		}
		if e.Status == StatusDone && e.Succeeded+e.Failed != e.Total {
			return fmt.Errorf("done tally %d+%d does not match total %d", e.Succeeded, e.Failed, e.Total)
		}
	case StageRunProgress:
		if e.ASIN == "" {
			return errors.New("run progress requires asin")
		}
		if e.Index < 1 || e.Index > e.Total {
			return fmt.Errorf("index %d outside 1..%d", e.Index, e.Total)
		}
	case StageItemDone:
		if e.ASIN == "" {
			return errors.New("item done requires asin")
		}
		if !e.OK && e.Error == "" {
			return errors.New("failed item requires error")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunStatus builds a RUN_STATUS event.
func RunStatus(runID string, ts time.Time, status Status, message string) Event {
	return Event{RunID: runID, TS: ts, Stage: StageRunStatus, Status: status, Message: message}
}

// Progress builds a RUN_PROGRESS event.
func Progress(runID string, ts time.Time, index, total int, asin string) Event {
	return Event{RunID: runID, TS: ts, Stage: StageRunProgress, Index: index, Total: total, ASIN: asin}
}

// ItemDone builds an ITEM_DONE event.
func ItemDone(runID string, ts time.Time, index, total int, asin string, itemErr error, dur time.Duration) Event {
	evt := Event{RunID: runID, TS: ts, Stage: StageItemDone, Index: index, Total: total, ASIN: asin, OK: itemErr == nil, Dur: dur}
	if itemErr != nil {
		evt.Error = itemErr.Error()
	}
	return evt
}
