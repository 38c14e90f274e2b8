// Package publisher announces item outcomes and run endings to downstream
// consumers.
package publisher

import (
	"context"
	"strconv"
	"time"
)

// Notification kinds.
const (
	KindItemDone    = "item_done"
	KindRunFinished = "run_finished"
)

// Notification is the published payload.
type Notification struct {
	Kind      string    `json:"kind"`
	RunID     string    `json:"run_id"`
	ASIN      string    `json:"asin,omitempty"`
	Index     int       `json:"index,omitempty"`
	Total     int       `json:"total"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Status    string    `json:"status,omitempty"`
	Succeeded int       `json:"succeeded,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	At        time.Time `json:"at"`
}

// Attributes are routing labels sent next to the payload.
func (n Notification) Attributes() map[string]string {
	attrs := map[string]string{
		"kind":   n.Kind,
		"run_id": n.RunID,
	}
	if n.ASIN != "" {
		attrs["asin"] = n.ASIN
		attrs["ok"] = strconv.FormatBool(n.OK)
	}
	if n.Status != "" {
		attrs["status"] = n.Status
	}
	return attrs
}

// Publisher sends notifications and returns the broker's message ID.
type Publisher interface {
	Publish(ctx context.Context, n Notification) (string, error)
}
