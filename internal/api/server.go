// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// RunController starts and cancels crawl runs.
type RunController interface {
	// Start executes run in the background. It returns an error wrapping
	// crawler.ErrBusy when no capacity is left.
	Start(run crawler.Run) error
	// Cancel stops an active run and reports whether it was active.
	Cancel(runID string) bool
}

// RecordLister returns the records a run produced.
type RecordLister interface {
	ListRecords(ctx context.Context, runID string) ([]crawler.ProductRecord, error)
}

// Server wires HTTP handlers to the run registry and controller.
type Server struct {
	router chi.Router
	runs   crawler.RunStore
	runner RunController
	idGen  crawler.IDGenerator
	clock  crawler.Clock
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. records may be
// nil when no record store is retained.
func NewServer(
	runs crawler.RunStore,
	runner RunController,
	records RecordLister,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:   runs,
		runner: runner,
		idGen:  idGen,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	handler := NewRunHandler(runs, records, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/crawls", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/", s.submitCrawl)
		r.Get("/", handler.ListRuns)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", handler.GetRun)
			r.Get("/records", handler.ListRecords)
			r.Post("/cancel", s.cancelCrawl)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.runs.ListRuns(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toRunParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.startRun(r.Context(), params)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	case errors.Is(err, crawler.ErrBusy):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"run_id": runID, "error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if s.runner.Cancel(runID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "canceling"})
		return
	}
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusConflict, map[string]string{
		"run_id": runID,
		"status": string(run.Status),
		"error":  "run is not active",
	})
}

// startRun registers a queued run and hands it to the controller. A run the
// controller refuses is marked failed so it does not linger as queued.
func (s *Server) startRun(ctx context.Context, params crawler.RunParameters) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	run := crawler.Run{
		ID:         runID,
		Status:     crawler.RunStatusQueued,
		Submitted:  s.clock.Now(),
		Parameters: params,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if err := s.runner.Start(run); err != nil {
		if updErr := s.runs.UpdateRunStatus(ctx, runID, crawler.RunStatusFailed, err.Error(), nil); updErr != nil {
			s.logger.Warn("mark refused run failed", zap.String("run_id", runID), zap.Error(updErr))
		}
		return runID, fmt.Errorf("start run: %w", err)
	}
	s.logger.Info("crawl submitted", zap.String("run_id", runID), zap.Strings("start_urls", params.StartURLs))
	return runID, nil
}

func (s *Server) toRunParameters(req crawlRequest) (crawler.RunParameters, error) {
	params := crawler.RunParameters{
		StartURLs:   cloneStringSlice(req.StartURLs),
		MaxPages:    valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPages),
		MaxProducts: valueOrDefault(req.MaxProducts, s.cfg.Crawler.MaxProducts),
	}
	if len(params.StartURLs) == 0 {
		params.StartURLs = cloneStringSlice(s.cfg.Crawler.StartURLs)
	}
	if len(params.StartURLs) == 0 {
		return crawler.RunParameters{}, errors.New("start_urls required")
	}
	if params.MaxPages < 0 || params.MaxProducts < 0 {
		return crawler.RunParameters{}, errors.New("max_pages and max_products must be >= 0")
	}
	return params, nil
}

type crawlRequest struct {
	StartURLs   []string `json:"start_urls"`
	MaxPages    *int     `json:"max_pages"`
	MaxProducts *int     `json:"max_products"`
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func cloneStringSlice(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
