package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func newMockRunStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestRunStoreCreateRun(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockRunStore(t)
	run := crawler.Run{
		ID:         "run-1",
		Status:     crawler.RunStatusQueued,
		Submitted:  now,
		Parameters: crawler.RunParameters{StartURLs: []string{"https://a.heureka.cz/"}, MaxPages: 5},
	}

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", "queued", now, []byte(`{"start_urls":["https://a.heureka.cz/"],"max_pages":5,"max_products":0}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateRunStatus(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockRunStore(t)
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs("succeeded", "", pgxmock.AnyArg(), (*time.Time)(nil), &now, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	summary := &crawler.Summary{RunID: "run-1", CategoryPages: 2, ProductsSucceeded: 1}
	require.NoError(t, store.UpdateRunStatus(context.Background(), "run-1", crawler.RunStatusSucceeded, "", summary))

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs("running", "", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := store.UpdateRunStatus(context.Background(), "missing", crawler.RunStatusRunning, "", nil)
	require.True(t, errors.Is(err, crawler.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRun(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockRunStore(t)
	rows := mock.NewRows([]string{"id", "status", "submitted_at", "started_at", "finished_at", "error_text", "parameters", "summary"}).
		AddRow("run-1", "running", now, &now, (*time.Time)(nil), "", []byte(`{"start_urls":["https://a.heureka.cz/"]}`), []byte(nil))
	mock.ExpectQuery("SELECT (.+) FROM crawl_runs").WithArgs("run-1").WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusRunning, run.Status)
	require.Equal(t, []string{"https://a.heureka.cz/"}, run.Parameters.StartURLs)
	require.Nil(t, run.Summary)
	require.Nil(t, run.Finished)

	mock.ExpectQuery("SELECT (.+) FROM crawl_runs").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = store.GetRun(context.Background(), "missing")
	require.True(t, errors.Is(err, crawler.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateRunProgress(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockRunStore(t)
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdateRunProgress(context.Background(), "run-1", crawler.Summary{RunID: "run-1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockRunStore(t)
	rows := mock.NewRows([]string{"id", "status", "submitted_at", "started_at", "finished_at", "error_text", "parameters", "summary"}).
		AddRow("run-2", "succeeded", now, &now, &now, "", []byte(`{}`), []byte(`{"run_id":"run-2","products_succeeded":3}`)).
		AddRow("run-1", "failed", now, &now, &now, "boom", []byte(`{}`), []byte(nil))
	mock.ExpectQuery("SELECT (.+) FROM crawl_runs").WillReturnRows(rows)

	runs, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, 3, runs[0].Summary.ProductsSucceeded)
	require.Equal(t, "boom", runs[1].ErrorText)
	require.NoError(t, mock.ExpectationsWereMet())
}
