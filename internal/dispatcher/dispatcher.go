// Package dispatcher runs a crawl: it seeds a fresh frontier, fans the work
// out to a pool of workers and waits for the frontier to drain.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	queuememory "github.com/JakeFAU/catalog-crawler/internal/queue/memory"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

const sinkCloseTimeout = 30 * time.Second

// Config controls the worker pool.
type Config struct {
	Concurrency int
	Worker      worker.Config
}

// Dispatcher owns the collaborators shared across runs. Frontier, budget,
// gate, sink and tally are created or supplied per run.
type Dispatcher struct {
	cfg    Config
	shared worker.Deps
	logger *zap.Logger
}

// New creates a Dispatcher. Only the run-independent fields of shared are
// used: fetchers, detector, limiter, extractor, blobs, hasher, clock and
// progress.
func New(cfg Config, shared worker.Deps, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if shared.Clock == nil {
		shared.Clock = crawler.SystemClock{}
	}
	if shared.Progress == nil {
		shared.Progress = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, shared: shared, logger: logger.Named("dispatcher")}
}

// Run crawls params.StartURLs to completion and returns the run summary.
// The sink is closed before Run returns. A canceled ctx stops the workers
// and is reported as the returned error alongside the partial summary.
func (d *Dispatcher) Run(
	ctx context.Context,
	runID string,
	params crawler.RunParameters,
	gate crawler.DedupGate,
	sink crawler.RecordSink,
) (crawler.Summary, error) {
	logger := d.logger.With(zap.String("run_id", runID))
	started := d.shared.Clock.Now()
	frontier := queuememory.NewQueue()
	defer frontier.Close()

	deps := d.shared
	deps.Frontier = frontier
	deps.Gate = gate
	deps.Sink = sink
	deps.Budget = crawler.NewBudget(params.MaxPages, params.MaxProducts)
	deps.Tally = worker.NewTally(runID)

	d.emit(runID, progress.Event{Stage: progress.StageRunStart})
	seeded, err := d.seed(ctx, runID, params.StartURLs, deps, logger)
	if err == nil && seeded == 0 {
		err = errors.New("no valid start urls")
	}
	if err == nil {
		err = d.runWorkers(ctx, runID, deps, logger)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkCloseTimeout)
	defer cancel()
	if closeErr := sink.Close(closeCtx); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close sink: %w", closeErr))
	}

	finished := d.shared.Clock.Now()
	summary := deps.Tally.Summary(started, finished)
	status := StatusFor(summary, err)
	metrics.ObserveRun(string(status))

	logger.Info("crawl finished",
		zap.String("status", string(status)),
		zap.Int("category_pages", summary.CategoryPages),
		zap.Int("products_discovered", summary.ProductsDiscovered),
		zap.Int("products_duplicate", summary.ProductsDuplicate),
		zap.Int("products_skipped", summary.ProductsSkipped),
		zap.Int("succeeded", summary.ProductsSucceeded),
		zap.Int("failed", summary.ProductsFailed),
		zap.Int("fetch_failures", summary.FetchFailures),
		zap.Duration("elapsed", finished.Sub(started)),
	)
	if dropped := deps.Tally.DroppedFailures(); dropped > 0 {
		logger.Warn("failure list truncated", zap.Int("dropped", dropped))
	}

	done := progress.Event{Stage: progress.StageRunDone, Dur: nonNegative(finished.Sub(started))}
	if status != crawler.RunStatusSucceeded {
		done.Stage = progress.StageRunError
		if err != nil {
			done.Note = err.Error()
		}
	}
	d.emit(runID, done)
	return summary, err
}

// seed enqueues the start URLs. Each seed consumes one page of the budget.
func (d *Dispatcher) seed(
	ctx context.Context,
	runID string,
	startURLs []string,
	deps worker.Deps,
	logger *zap.Logger,
) (int, error) {
	seen := make(map[string]struct{}, len(startURLs))
	seeded := 0
	for _, raw := range startURLs {
		canonical, err := crawler.CanonicalPageURL(raw, nil)
		if err != nil {
			logger.Warn("skipping invalid start url", zap.String("url", raw), zap.Error(err))
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		if !deps.Budget.TryTakePage() {
			logger.Info("page limit reached while seeding", zap.Int("seeded", seeded))
			break
		}
		err = deps.Frontier.Enqueue(ctx, crawler.Task{
			RunID:    runID,
			Kind:     crawler.TaskDetect,
			URL:      canonical,
			Category: canonical,
			Page:     1,
		})
		if err != nil {
			return seeded, fmt.Errorf("seed %s: %w", canonical, err)
		}
		seeded++
	}
	return seeded, nil
}

func (d *Dispatcher) runWorkers(ctx context.Context, runID string, deps worker.Deps, logger *zap.Logger) error {
	workers := make([]*worker.Worker, 0, d.cfg.Concurrency)
	for i := 0; i < d.cfg.Concurrency; i++ {
		w, err := worker.New(runID, deps, d.cfg.Worker, logger.Named("worker"))
		if err != nil {
			return fmt.Errorf("build worker: %w", err)
		}
		workers = append(workers, w)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, w := range workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			if err := wk.Run(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return firstErr
}

func (d *Dispatcher) emit(runID string, evt progress.Event) {
	evt.RunID = runID
	evt.TS = d.shared.Clock.Now()
	d.shared.Progress.Emit(evt)
}

// StatusFor derives the final run status. A run that produced neither a
// listing page nor a product record failed.
func StatusFor(summary crawler.Summary, err error) crawler.RunStatus {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return crawler.RunStatusCanceled
	case err != nil:
		return crawler.RunStatusFailed
	case summary.CategoryPages == 0 && summary.ProductsSucceeded == 0:
		return crawler.RunStatusFailed
	default:
		return crawler.RunStatusSucceeded
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
