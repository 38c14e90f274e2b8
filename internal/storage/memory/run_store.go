package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/listing-enricher/internal/store"
)

// RunStore is an in-memory store.RunRepository.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]store.Run
	items map[string]map[string]store.Item
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[string]store.Run),
		items: make(map[string]map[string]store.Item),
	}
}

// UpsertRunStart marks runID running, keeping the first start time.
func (s *RunStore) UpsertRunStart(_ context.Context, runID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, StartedAt: startedAt}
	}
	run.Status = store.RunRunning
	s.runs[runID] = run
	return nil
}

// CompleteRun writes the summary. A run that never started is created finished.
func (s *RunStore) CompleteRun(_ context.Context, runID string, summary store.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, StartedAt: summary.FinishedAt}
	}
	finished := summary.FinishedAt
	run.FinishedAt = &finished
	run.Status = summary.Status
	run.Message = copyString(summary.Message)
	run.Total = summary.Total
	run.Succeeded = summary.Succeeded
	run.Failed = summary.Failed
	s.runs[runID] = run
	return nil
}

// RecordItem stores item, replacing an earlier outcome for the same identifier.
func (s *RunStore) RecordItem(_ context.Context, item store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byASIN := s.items[item.RunID]
	if byASIN == nil {
		byASIN = make(map[string]store.Item)
		s.items[item.RunID] = byASIN
	}
	item.Error = copyString(item.Error)
	byASIN[item.ASIN] = item
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(_ context.Context, runID string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListRunItems returns the item outcomes of runID by index.
func (s *RunStore) ListRunItems(_ context.Context, runID string, limit, offset int) ([]store.Item, error) {
	s.mu.RLock()
	items := make([]store.Item, 0, len(s.items[runID]))
	for _, item := range s.items[runID] {
		items = append(items, item)
	}
	s.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].Index < items[j].Index })
	return page(items, limit, offset), nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
