// Package worker implements the crawl task loop: fetch, classify, then
// either discover products on a listing or extract a product record.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

const snapshotContentType = "text/html; charset=utf-8"

// Config controls Worker behavior.
type Config struct {
	// StaticProducts fetches product pages without the renderer. Offers
	// that load asynchronously will be missing.
	StaticProducts   bool
	SnapshotFailures bool
	BlobPrefix       string
	Retry            crawler.RetryPolicy
}

// Deps are the collaborators shared by every worker of a run.
type Deps struct {
	Frontier  crawler.Frontier
	Gate      crawler.DedupGate
	Budget    *crawler.Budget
	Sink      crawler.RecordSink
	Static    crawler.Fetcher
	Headless  crawler.Fetcher
	Detector  crawler.HeadlessDetector
	Limiter   crawler.Limiter
	Extractor *extract.Extractor
	Blobs     crawler.BlobStore
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Progress  progress.Emitter
	Tally     *Tally
}

// Worker consumes frontier tasks for one run.
type Worker struct {
	runID  string
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(runID string, deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Frontier == nil:
		return nil, errors.New("frontier is required")
	case deps.Gate == nil:
		return nil, errors.New("dedup gate is required")
	case deps.Sink == nil:
		return nil, errors.New("record sink is required")
	case deps.Static == nil:
		return nil, errors.New("static fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Tally == nil:
		return nil, errors.New("tally is required")
	}
	if deps.Headless == nil && !cfg.StaticProducts {
		return nil, errors.New("product pages need a headless fetcher unless static products are allowed")
	}
	if deps.Budget == nil {
		deps.Budget = crawler.NewBudget(0, 0)
	}
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock{}
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = crawler.NewRetryPolicy(1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		runID:  runID,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.String("run_id", runID)),
	}, nil
}

// Run blocks, consuming tasks until the frontier drains or ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for {
		task, err := w.deps.Frontier.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrFrontierDrained) {
				return ctx.Err()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		w.process(ctx, task)
		w.deps.Frontier.Done(task)
	}
}

func (w *Worker) process(ctx context.Context, task crawler.Task) {
	logger := w.logger.With(zap.String("url", task.URL), zap.String("kind", string(task.Kind)))

	resp, err := w.fetch(ctx, task)
	var page *extract.Page
	if err == nil {
		page, err = w.deps.Extractor.Load(w.pageURL(task, resp), resp.Body)
	}
	if err == nil {
		err = w.deps.Extractor.DetectBlock(page)
	}
	if err != nil {
		w.handleFetchFailure(ctx, task, resp, err, logger)
		return
	}
	w.observePage(task, resp, true)

	kind := task.Kind
	if kind == crawler.TaskDetect {
		kind = w.deps.Extractor.Classify(page)
		logger.Debug("seed classified", zap.String("as", string(kind)))
		if kind == crawler.TaskCategory && task.Category == "" {
			task.Category = task.URL
		}
		if kind == crawler.TaskProduct {
			productURL, ok := w.admitSeedProduct(ctx, task, logger)
			if !ok {
				return
			}
			if w.deps.Headless != nil {
				// Offers load asynchronously; render the page like any
				// discovered product.
				w.enqueueProduct(ctx, productURL, task.Category, logger)
				return
			}
		}
	}

	switch kind {
	case crawler.TaskProduct:
		w.handleProduct(ctx, task, page, resp.Body, logger)
	default:
		w.handleCategory(ctx, task, page, logger)
	}
}

// admitSeedProduct runs a seed that turned out to be a product page through
// the gate and the product budget, the same way a discovered product link is.
func (w *Worker) admitSeedProduct(ctx context.Context, task crawler.Task, logger *zap.Logger) (string, bool) {
	productURL, err := crawler.CanonicalProductURL(task.URL, nil)
	if err != nil {
		productURL = task.URL
	} else {
		admitted, err := w.deps.Gate.Admit(ctx, productURL)
		if err != nil {
			logger.Error("dedup admit failed", zap.Error(err))
		} else if !admitted {
			w.deps.Tally.duplicate()
			w.productSeen(productURL, "duplicate")
			return "", false
		}
	}
	if !w.deps.Budget.TryTakeProduct() {
		w.deps.Tally.discovered(true)
		w.productSeen(productURL, "skipped")
		return "", false
	}
	w.deps.Tally.discovered(false)
	w.productSeen(productURL, "admitted")
	return productURL, true
}

func (w *Worker) enqueueProduct(ctx context.Context, productURL, categoryURL string, logger *zap.Logger) {
	err := w.deps.Frontier.Enqueue(ctx, crawler.Task{
		RunID:    w.runID,
		Kind:     crawler.TaskProduct,
		URL:      productURL,
		Category: categoryURL,
	})
	if err != nil {
		logger.Error("enqueue product failed", zap.String("product", productURL), zap.Error(err))
	}
}

// pageURL picks the URL the document is parsed against. Listings use the
// final URL so relative links resolve; products keep the admitted URL as
// their identity.
func (w *Worker) pageURL(task crawler.Task, resp crawler.FetchResponse) string {
	if task.Kind == crawler.TaskProduct || resp.URL == "" {
		return task.URL
	}
	return resp.URL
}

func (w *Worker) fetch(ctx context.Context, task crawler.Task) (crawler.FetchResponse, error) {
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, task.URL); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("rate limit: %w", err)
		}
	}
	sel := w.deps.Extractor.Selectors()
	req := crawler.FetchRequest{RunID: w.runID, URL: task.URL, Kind: task.Kind}

	if task.Kind == crawler.TaskProduct && w.deps.Headless != nil {
		req.WaitSelectors = sel.WaitSelectors()
		return checkStatus(w.deps.Headless.Fetch(ctx, req))
	}

	resp, err := checkStatus(w.deps.Static.Fetch(ctx, req))
	if err != nil || task.Kind == crawler.TaskProduct {
		return resp, err
	}
	return w.maybePromote(ctx, task, req, resp), nil
}

func (w *Worker) maybePromote(
	ctx context.Context,
	task crawler.Task,
	req crawler.FetchRequest,
	resp crawler.FetchResponse,
) crawler.FetchResponse {
	if w.deps.Headless == nil || w.deps.Detector == nil || !w.deps.Detector.ShouldPromote(resp) {
		return resp
	}
	req.WaitSelectors = []string{w.deps.Extractor.Selectors().ProductLinks}
	rendered, err := checkStatus(w.deps.Headless.Fetch(ctx, req))
	if err != nil {
		w.logger.Warn("headless promotion failed", zap.String("url", task.URL), zap.Error(err))
		return resp
	}
	w.logger.Debug("headless promotion applied", zap.String("url", task.URL))
	rendered.UsedHeadless = true
	return rendered
}

func checkStatus(resp crawler.FetchResponse, err error) (crawler.FetchResponse, error) {
	if err != nil {
		return resp, err
	}
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return resp, fmt.Errorf("%w: %d", crawler.ErrFetchStatus, resp.StatusCode)
	}
	return resp, nil
}

func (w *Worker) handleFetchFailure(
	ctx context.Context,
	task crawler.Task,
	resp crawler.FetchResponse,
	err error,
	logger *zap.Logger,
) {
	if ctx.Err() != nil {
		return
	}
	if w.cfg.Retry.ShouldRetry(err, resp.StatusCode, task.Attempt) {
		if w.retry(ctx, task) {
			logger.Warn("fetch failed, retrying", zap.Int("attempt", task.Attempt+1), zap.Error(err))
			return
		}
	}
	kind := crawler.FailureFetch
	if errors.Is(err, crawler.ErrBlocked) {
		kind = crawler.FailureBlocked
	}
	logger.Warn("fetch failed", zap.Int("status", resp.StatusCode), zap.Error(err))
	w.deps.Tally.failed(crawler.Failure{URL: task.URL, Kind: kind, Reason: err.Error()})
	w.observePage(task, resp, false)
}

func (w *Worker) retry(ctx context.Context, task crawler.Task) bool {
	timer := time.NewTimer(w.cfg.Retry.Backoff(task.Attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	task.Attempt++
	if err := w.deps.Frontier.Enqueue(ctx, task); err != nil {
		w.logger.Error("requeue failed", zap.String("url", task.URL), zap.Error(err))
		return false
	}
	return true
}

func (w *Worker) handleCategory(ctx context.Context, task crawler.Task, page *extract.Page, logger *zap.Logger) {
	found := w.deps.Extractor.Discover(page)
	w.deps.Tally.categoryPage()
	logger.Info("category page discovered",
		zap.Int("page", task.Page),
		zap.Int("products", len(found.Products)),
		zap.Bool("has_next", found.Next != ""),
	)

	for _, productURL := range found.Products {
		admitted, err := w.deps.Gate.Admit(ctx, productURL)
		if err != nil {
			logger.Error("dedup admit failed", zap.String("product", productURL), zap.Error(err))
			continue
		}
		if !admitted {
			w.deps.Tally.duplicate()
			w.productSeen(productURL, "duplicate")
			continue
		}
		if !w.deps.Budget.TryTakeProduct() {
			w.deps.Tally.discovered(true)
			w.productSeen(productURL, "skipped")
			continue
		}
		w.deps.Tally.discovered(false)
		w.productSeen(productURL, "admitted")
		w.enqueueProduct(ctx, productURL, task.Category, logger)
	}

	if found.Next == "" {
		return
	}
	if !w.deps.Budget.TryTakePage() {
		logger.Info("page limit reached; not following next page", zap.String("next", found.Next))
		return
	}
	err := w.deps.Frontier.Enqueue(ctx, crawler.Task{
		RunID:    w.runID,
		Kind:     crawler.TaskCategory,
		URL:      found.Next,
		Category: task.Category,
		Page:     task.Page + 1,
	})
	if err != nil {
		logger.Error("enqueue next page failed", zap.String("next", found.Next), zap.Error(err))
	}
}

func (w *Worker) handleProduct(
	ctx context.Context,
	task crawler.Task,
	page *extract.Page,
	body []byte,
	logger *zap.Logger,
) {
	record, err := w.deps.Extractor.Extract(page)
	if err != nil {
		failure := crawler.Failure{URL: task.URL, Kind: crawler.FailureExtraction, Reason: err.Error()}
		failure.SnapshotURI = w.snapshot(ctx, body, logger)
		logger.Warn("product extraction failed", zap.Error(err), zap.String("snapshot", failure.SnapshotURI))
		w.productFailed(failure)
		return
	}
	record.CategoryURL = task.Category

	if err := w.deps.Sink.Write(ctx, record); err != nil {
		logger.Error("record write failed", zap.Error(err))
		w.productFailed(crawler.Failure{URL: task.URL, Kind: crawler.FailureSink, Reason: err.Error()})
		return
	}
	w.deps.Tally.succeeded()
	metrics.ObserveProduct("succeeded")
	w.emit(progress.Event{Stage: progress.StageProductDone, Kind: crawler.TaskProduct, URL: record.URL})
	logger.Debug("product extracted",
		zap.String("title", record.Title),
		zap.Int("offers", len(record.StorePrices)),
	)
}

func (w *Worker) productFailed(failure crawler.Failure) {
	w.deps.Tally.failed(failure)
	metrics.ObserveProduct("failed")
	w.emit(progress.Event{
		Stage: progress.StageProductFailed,
		Kind:  crawler.TaskProduct,
		URL:   failure.URL,
		Note:  string(failure.Kind),
	})
}

func (w *Worker) snapshot(ctx context.Context, body []byte, logger *zap.Logger) string {
	if !w.cfg.SnapshotFailures || w.deps.Blobs == nil || w.deps.Hasher == nil || len(body) == 0 {
		return ""
	}
	hash, err := w.deps.Hasher.Hash(body)
	if err != nil {
		logger.Warn("snapshot hash failed", zap.Error(err))
		return ""
	}
	uri, err := w.deps.Blobs.PutObject(ctx, w.snapshotPath(hash), snapshotContentType, body)
	if err != nil {
		logger.Warn("snapshot upload failed", zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) snapshotPath(hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/failures/%s.html", w.runID, hash)
	}
	return fmt.Sprintf("%s/%s/failures/%s.html", prefix, w.runID, hash)
}

func (w *Worker) observePage(task crawler.Task, resp crawler.FetchResponse, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	metrics.ObservePage(task.URL, string(task.Kind), status, len(resp.Body))
	w.emit(progress.Event{
		Stage:       progress.StagePageDone,
		Kind:        task.Kind,
		Site:        metrics.SanitizeSite(task.URL),
		URL:         task.URL,
		Bytes:       int64(len(resp.Body)),
		StatusClass: pageStatusClass(resp.StatusCode, ok),
		Headless:    resp.UsedHeadless,
		Dur:         resp.Duration,
	})
}

// pageStatusClass reports 2xx only for pages that were processed. A blocked
// 200 counts as "other".
func pageStatusClass(code int, ok bool) progress.StatusClass {
	if ok {
		return progress.Status2xx
	}
	class := progress.ClassifyStatus(code)
	if class == progress.Status2xx {
		return progress.StatusOther
	}
	return class
}

func (w *Worker) productSeen(productURL, outcome string) {
	metrics.ObserveProduct(outcome)
	w.emit(progress.Event{Stage: progress.StageProductSeen, Kind: crawler.TaskProduct, URL: productURL, Note: outcome})
}

func (w *Worker) emit(evt progress.Event) {
	evt.RunID = w.runID
	evt.TS = w.deps.Clock.Now()
	w.deps.Progress.Emit(evt)
}
