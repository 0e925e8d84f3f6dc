package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
)

// newServeCmd creates the 'serve' subcommand exposing the crawl API.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the crawl API",
		Long: `Starts the HTTP API: crawls are submitted with POST /v1/crawls and run
in the background; their live summaries are read from /v1/crawls/{run_id}.`,
		RunE: withServices(runServeCommand),
	}
}

func runServeCommand(cmd *cobra.Command, svc Services) error {
	cfg := svc.Config()
	logger := svc.Logger()

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	// Runs derive from ctx so a shutdown signal cancels them and they are
	// recorded as canceled with partial summaries.
	runner := app.NewRunner(ctx, svc.Runs(), svc.Crawl, cfg.Server.MaxConcurrentRuns, logger)
	var records api.RecordLister
	if r := svc.Records(); r != nil {
		records = r
	}
	apiServer := api.NewServer(svc.Runs(), runner, records, uuid.New(), crawler.SystemClock{}, cfg, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	runner.Wait()
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
