package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/progress"
	"github.com/JakeFAU/listing-enricher/internal/store"
)

// StoreSink writes run history through a store.RunRepository.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume persists run starts, item outcomes and run endings in event order.
// RUN_PROGRESS events carry nothing the history needs.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consume(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consume(ctx context.Context, evt progress.Event) error {
	switch {
	case evt.Stage == progress.StageRunStatus && evt.Status == progress.StatusStarted:
		if err := s.repo.UpsertRunStart(ctx, evt.RunID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case evt.Terminal():
		summary := store.RunSummary{
			FinishedAt: evt.TS,
			Status:     runStatus(evt.Status),
			Message:    optional(evt.Message),
			Total:      evt.Total,
			Succeeded:  evt.Succeeded,
			Failed:     evt.Failed,
		}
		if err := s.repo.CompleteRun(ctx, evt.RunID, summary); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case evt.Stage == progress.StageItemDone:
		item := store.Item{
			RunID:      evt.RunID,
			ASIN:       evt.ASIN,
			Index:      evt.Index,
			OK:         evt.OK,
			Error:      optional(evt.Error),
			Duration:   evt.Dur,
			FinishedAt: evt.TS,
		}
		if err := s.repo.RecordItem(ctx, item); err != nil {
			return fmt.Errorf("record item %s: %w", evt.ASIN, err)
		}
	}
	return nil
}

func runStatus(status progress.Status) store.RunStatus {
	switch status {
	case progress.StatusDone:
		return store.RunDone
	case progress.StatusInfo:
		return store.RunInfo
	case progress.StatusError:
		return store.RunError
	}
	return store.RunRunning
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
