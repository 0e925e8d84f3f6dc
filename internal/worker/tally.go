package worker

import (
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// maxRecordedFailures bounds the failure list kept in a summary; the
// counters stay exact past the bound.
const maxRecordedFailures = 1000

// Tally accumulates the outcome counters of one run across workers.
type Tally struct {
	mu      sync.Mutex
	summary crawler.Summary
	dropped int
}

// NewTally returns an empty Tally for runID.
func NewTally(runID string) *Tally {
	return &Tally{summary: crawler.Summary{RunID: runID}}
}

func (t *Tally) categoryPage() {
	t.mu.Lock()
	t.summary.CategoryPages++
	t.mu.Unlock()
}

func (t *Tally) discovered(skipped bool) {
	t.mu.Lock()
	t.summary.ProductsDiscovered++
	if skipped {
		t.summary.ProductsSkipped++
	}
	t.mu.Unlock()
}

func (t *Tally) duplicate() {
	t.mu.Lock()
	t.summary.ProductsDuplicate++
	t.mu.Unlock()
}

func (t *Tally) succeeded() {
	t.mu.Lock()
	t.summary.ProductsSucceeded++
	t.mu.Unlock()
}

func (t *Tally) failed(f crawler.Failure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch f.Kind {
	case crawler.FailureFetch, crawler.FailureBlocked:
		t.summary.FetchFailures++
	default:
		t.summary.ProductsFailed++
	}
	if len(t.summary.Failures) >= maxRecordedFailures {
		t.dropped++
		return
	}
	t.summary.Failures = append(t.summary.Failures, f)
}

// Summary returns a snapshot stamped with the run window.
func (t *Tally) Summary(started, finished time.Time) crawler.Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.summary
	out.StartedAt = started
	out.FinishedAt = finished
	out.Failures = append([]crawler.Failure(nil), t.summary.Failures...)
	return out
}

// DroppedFailures reports how many failures exceeded the recorded list.
func (t *Tally) DroppedFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
