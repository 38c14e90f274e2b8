package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/progress"
	"github.com/JakeFAU/listing-enricher/internal/publisher"
)

// NotifySink publishes item outcomes and run endings.
type NotifySink struct {
	pub    publisher.Publisher
	logger *zap.Logger
}

// NewNotifySink wraps pub.
func NewNotifySink(pub publisher.Publisher, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{pub: pub, logger: logger}
}

// Consume publishes ITEM_DONE and terminal RUN_STATUS events. Every event is
// attempted; the joined error reports the failures.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		n, ok := notification(evt)
		if !ok {
			continue
		}
		id, err := s.pub.Publish(ctx, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s %s: %w", n.Kind, n.ASIN, err))
			continue
		}
		s.logger.Debug("notification published", zap.String("kind", n.Kind), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

func notification(evt progress.Event) (publisher.Notification, bool) {
	n := publisher.Notification{RunID: evt.RunID, Total: evt.Total, At: evt.TS}
	switch {
	case evt.Stage == progress.StageItemDone:
		n.Kind = publisher.KindItemDone
		n.ASIN, n.Index, n.OK, n.Error = evt.ASIN, evt.Index, evt.OK, evt.Error
	case evt.Terminal():
		n.Kind = publisher.KindRunFinished
		n.Status = string(evt.Status)
		n.OK = evt.Status != progress.StatusError
		n.Succeeded, n.Failed = evt.Succeeded, evt.Failed
		if !n.OK {
			n.Error = evt.Message
		}
	default:
		return publisher.Notification{}, false
	}
	return n, true
}

// Close implements the Sink interface; it performs no action.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
