package sinks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// ProgressWriter persists a partial summary for a run that is still running.
// Implementations must ignore runs that already reached a terminal status.
type ProgressWriter interface {
	UpdateRunProgress(ctx context.Context, runID string, summary crawler.Summary) error
}

// RunStoreSink folds progress events into live per-run counters and writes
// them once per batch so GET /v1/crawls/{id} shows a moving summary.
type RunStoreSink struct {
	writer ProgressWriter
	logger *zap.Logger

	mu   sync.Mutex
	runs map[string]*crawler.Summary
}

// NewRunStoreSink constructs a RunStoreSink for the provided writer.
func NewRunStoreSink(writer ProgressWriter, logger *zap.Logger) *RunStoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStoreSink{
		writer: writer,
		logger: logger,
		runs:   make(map[string]*crawler.Summary),
	}
}

// Consume applies the batch and flushes every run it touched.
func (s *RunStoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	dirty := s.apply(batch)
	for runID, summary := range dirty {
		if err := s.writer.UpdateRunProgress(ctx, runID, summary); err != nil {
			return fmt.Errorf("update run progress %s: %w", runID, err)
		}
	}
	return nil
}

func (s *RunStoreSink) apply(batch []progress.Event) map[string]crawler.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]struct{})
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunDone, progress.StageRunError:
			delete(s.runs, evt.RunID)
			delete(touched, evt.RunID)
			continue
		case progress.StageRunStart:
			s.runs[evt.RunID] = &crawler.Summary{RunID: evt.RunID, StartedAt: evt.TS}
		}
		summary, ok := s.runs[evt.RunID]
		if !ok {
			continue
		}
		foldEvent(summary, evt)
		touched[evt.RunID] = struct{}{}
	}

	out := make(map[string]crawler.Summary, len(touched))
	for runID := range touched {
		out[runID] = *s.runs[runID]
	}
	return out
}

func foldEvent(summary *crawler.Summary, evt progress.Event) {
	switch evt.Stage {
	case progress.StagePageDone:
		if evt.StatusClass != progress.Status2xx {
			summary.FetchFailures++
			return
		}
		if evt.Kind == crawler.TaskCategory {
			summary.CategoryPages++
		}
	case progress.StageProductSeen:
		switch evt.Note {
		case "admitted":
			summary.ProductsDiscovered++
		case "duplicate":
			summary.ProductsDuplicate++
		case "skipped":
			summary.ProductsDiscovered++
			summary.ProductsSkipped++
		}
	case progress.StageProductDone:
		summary.ProductsSucceeded++
	case progress.StageProductFailed:
		summary.ProductsFailed++
	}
}

// Close forgets any runs still tracked.
func (s *RunStoreSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) > 0 {
		s.logger.Debug("progress sink closed with open runs", zap.Int("runs", len(s.runs)))
	}
	s.runs = make(map[string]*crawler.Summary)
	return nil
}
