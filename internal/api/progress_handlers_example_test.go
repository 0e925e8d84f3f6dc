package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	storagememory "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

// ExampleRunHandler_ListRuns shows how to serve the /v1/crawls endpoint.
func ExampleRunHandler_ListRuns() {
	store := storagememory.NewRunStore()
	if err := store.CreateRun(context.Background(), crawler.Run{
		ID:        "run-1",
		Status:    crawler.RunStatusQueued,
		Submitted: time.Unix(0, 0),
	}); err != nil {
		panic(err)
	}
	handler := NewRunHandler(store, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	var payload struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned runs: %d, status: %s\n", len(payload.Runs), payload.Runs[0]["status"])
	// Output:
	// returned runs: 1, status: queued
}
