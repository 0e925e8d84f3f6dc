package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
)

const statusWriteTimeout = 10 * time.Second

// CrawlFunc executes one crawl run to completion.
type CrawlFunc func(ctx context.Context, runID string, params crawler.RunParameters) (crawler.Summary, error)

// Runner drives the lifecycle of crawl runs: it marks them running, calls
// the crawl and records the terminal status and summary.
type Runner struct {
	store  crawler.RunStore
	crawl  CrawlFunc
	logger *zap.Logger
	base   context.Context
	slots  chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner builds a Runner allowing maxConcurrent background runs.
// Background runs derive their context from base.
func NewRunner(base context.Context, store crawler.RunStore, crawl CrawlFunc, maxConcurrent int, logger *zap.Logger) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:   store,
		crawl:   crawl,
		logger:  logger.Named("runner"),
		base:    base,
		slots:   make(chan struct{}, maxConcurrent),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start executes run in the background. It returns crawler.ErrBusy without
// touching the run when no slot is free.
func (r *Runner) Start(run crawler.Run) error {
	select {
	case r.slots <- struct{}{}:
	default:
		return crawler.ErrBusy
	}
	ctx, cancel := context.WithCancel(r.base)
	r.track(run.ID, cancel)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.slots }()
		defer r.untrack(run.ID)
		defer cancel()
		if _, err := r.execute(ctx, run); err != nil {
			r.logger.Warn("crawl run ended with error", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	return nil
}

// Execute runs the crawl in the foreground. Cancel works for it too.
func (r *Runner) Execute(ctx context.Context, run crawler.Run) (crawler.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.track(run.ID, cancel)
	defer r.untrack(run.ID)
	return r.execute(ctx, run)
}

// Cancel stops an active run. It reports false when runID is not running
// in this process.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all background runs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) execute(ctx context.Context, run crawler.Run) (crawler.Summary, error) {
	logger := r.logger.With(zap.String("run_id", run.ID))
	if err := r.setStatus(ctx, run.ID, crawler.RunStatusRunning, "", nil); err != nil {
		return crawler.Summary{RunID: run.ID}, err
	}
	logger.Info("crawl run started", zap.Strings("start_urls", run.Parameters.StartURLs))

	summary, crawlErr := r.crawl(ctx, run.ID, run.Parameters)
	status := dispatcher.StatusFor(summary, crawlErr)
	errText := ""
	if crawlErr != nil {
		errText = crawlErr.Error()
	}
	if err := r.setStatus(ctx, run.ID, status, errText, &summary); err != nil {
		return summary, errors.Join(crawlErr, err)
	}
	logger.Info("crawl run finished", zap.String("status", string(status)))
	return summary, crawlErr
}

func (r *Runner) setStatus(
	ctx context.Context,
	runID string,
	status crawler.RunStatus,
	errText string,
	summary *crawler.Summary,
) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := r.store.UpdateRunStatus(ctx, runID, status, errText, summary); err != nil {
		return fmt.Errorf("mark run %s %s: %w", runID, status, err)
	}
	return nil
}

func (r *Runner) track(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancels[runID] = cancel
	r.mu.Unlock()
}

func (r *Runner) untrack(runID string) {
	r.mu.Lock()
	delete(r.cancels, runID)
	r.mu.Unlock()
}
