package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	storagememory "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

func seededStore(t *testing.T) *storagememory.RunStore {
	t.Helper()
	store := storagememory.NewRunStore()
	ctx := context.Background()
	for i, status := range []crawler.RunStatus{
		crawler.RunStatusSucceeded,
		crawler.RunStatusRunning,
		crawler.RunStatusSucceeded,
	} {
		id := []string{"run-a", "run-b", "run-c"}[i]
		require.NoError(t, store.CreateRun(ctx, crawler.Run{
			ID:        id,
			Status:    crawler.RunStatusQueued,
			Submitted: time.Unix(int64(100+i), 0),
		}))
		require.NoError(t, store.UpdateRunStatus(ctx, id, status, "", nil))
	}
	return store
}

func TestRunHandlerListRunsFiltersAndPages(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(seededStore(t), nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/v1/crawls?status=succeeded&limit=1", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []crawler.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, "run-c", body.Runs[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/v1/crawls?status=succeeded&offset=1", nil)
	rec = httptest.NewRecorder()
	handler.ListRuns(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, "run-a", body.Runs[0].ID)
}

func TestRunHandlerListRunsInvalidQuery(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(seededStore(t), nil, zap.NewNop())
	for _, target := range []string{
		"/v1/crawls?status=bogus",
		"/v1/crawls?limit=-1",
		"/v1/crawls?offset=x",
	} {
		rec := httptest.NewRecorder()
		handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestRunHandlerListRunsStoreError(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(&failingRunStore{err: errors.New("db down")}, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunHandlerGetRun(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(seededStore(t), nil, zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/crawls/run-b", nil), "run-b")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run crawler.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, crawler.RunStatusRunning, body.Run.Status)
	require.NotNil(t, body.Run.Started)
}

func TestRunHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(seededStore(t), nil, zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/crawls/missing", nil), "missing")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHandlerListRecords(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	ctx := context.Background()
	for _, title := range []string{"Phone A", "Phone B", "Phone C"} {
		require.NoError(t, store.AppendRecord(ctx, "run-a", crawler.ProductRecord{Title: title}))
	}
	handler := NewRunHandler(store, store, zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/crawls/run-a/records?limit=2", nil), "run-a")
	rec := httptest.NewRecorder()

	handler.ListRecords(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total   int                     `json:"total"`
		Records []crawler.ProductRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	require.Len(t, body.Records, 2)
	require.Equal(t, "Phone A", body.Records[0].Title)
}

func TestRunHandlerListRecordsUnavailable(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(seededStore(t), nil, zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/crawls/run-a/records", nil), "run-a")
	rec := httptest.NewRecorder()

	handler.ListRecords(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "not retained")
}

func TestRunHandlerListRecordsUnknownRun(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	handler := NewRunHandler(store, store, zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/crawls/nope/records", nil), "nope")
	rec := httptest.NewRecorder()

	handler.ListRecords(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "run not found")
}

func TestPage(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4}
	require.Equal(t, []int{1, 2}, page(items, 2, 0))
	require.Equal(t, []int{4}, page(items, 2, 3))
	require.Equal(t, []int{}, page(items, 2, 10))
}

type failingRunStore struct {
	err error
}

func (f *failingRunStore) CreateRun(context.Context, crawler.Run) error {
	return f.err
}

func (f *failingRunStore) UpdateRunStatus(context.Context, string, crawler.RunStatus, string, *crawler.Summary) error {
	return f.err
}

func (f *failingRunStore) GetRun(context.Context, string) (crawler.Run, error) {
	return crawler.Run{}, f.err
}

func (f *failingRunStore) ListRuns(context.Context) ([]crawler.Run, error) {
	return nil, f.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
