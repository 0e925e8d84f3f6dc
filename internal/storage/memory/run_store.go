package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// RunStore provides an in-memory implementation for development/testing.
// It also keeps the records each run produced so the API can serve them.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]crawler.Run
	records map[string][]crawler.ProductRecord
	now     func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string]crawler.Run),
		records: make(map[string][]crawler.ProductRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status and summary for a run.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status crawler.RunStatus,
	errText string,
	summary *crawler.Summary,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	run.Status = status
	run.ErrorText = errText
	if summary != nil {
		copied := *summary
		run.Summary = &copied
	}
	now := s.now()
	if status == crawler.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if isTerminal(status) {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// UpdateRunProgress replaces the summary of a running run. Runs in any other
// status are left untouched.
func (s *RunStore) UpdateRunProgress(_ context.Context, runID string, summary crawler.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	if run.Status != crawler.RunStatusRunning {
		return nil
	}
	run.Summary = &summary
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	return run, nil
}

// ListRuns returns all runs, newest submission first.
func (s *RunStore) ListRuns(_ context.Context) ([]crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out, nil
}

// AppendRecord stores a record produced by a run.
func (s *RunStore) AppendRecord(_ context.Context, runID string, record crawler.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	s.records[runID] = append(s.records[runID], record)
	return nil
}

// ListRecords returns a copy of the records produced by a run.
func (s *RunStore) ListRecords(_ context.Context, runID string) ([]crawler.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, crawler.ErrNotFound)
	}
	records := s.records[runID]
	out := make([]crawler.ProductRecord, len(records))
	copy(out, records)
	return out, nil
}

// RecordSink returns a crawler.RecordSink that appends to runID.
func (s *RunStore) RecordSink(runID string) crawler.RecordSink {
	return &runSink{store: s, runID: runID}
}

type runSink struct {
	store *RunStore
	runID string
}

func (r *runSink) Write(ctx context.Context, record crawler.ProductRecord) error {
	return r.store.AppendRecord(ctx, r.runID, record)
}

func (r *runSink) Close(context.Context) error {
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status crawler.RunStatus) bool {
	switch status {
	case crawler.RunStatusSucceeded, crawler.RunStatusFailed, crawler.RunStatusCanceled:
		return true
	default:
		return false
	}
}
