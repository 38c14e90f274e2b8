package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/listing-enricher/internal/storage/memory"
	"github.com/JakeFAU/listing-enricher/internal/store"
)

// ExampleRunsHandler_GetRun mounts the history handler on a bare router.
func ExampleRunsHandler_GetRun() {
	repo := memory.NewRunStore()
	runID := "0192f5a4-7c1b-7d3e-9a00-0000000000aa"
	started := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	_ = repo.UpsertRunStart(context.Background(), runID, started)
	_ = repo.CompleteRun(context.Background(), runID, store.RunSummary{
		FinishedAt: started.Add(time.Minute),
		Status:     store.RunInfo,
	})

	r := chi.NewRouter()
	r.Get("/v1/runs/{run_id}", NewRunsHandler(repo, nil).GetRun)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID, nil))
	fmt.Println(rec.Code)
	// Output:
	// 200
}
