// Package cmd defines and implements the CLI commands for the catalog-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	storagememory "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

const closeTimeout = 30 * time.Second

// appKeyType is the key for storing the Services in the context.
type appKeyType string

const appKey appKeyType = "app"

// Services defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type Services interface {
	Logger() *zap.Logger
	Config() config.Config
	Runs() app.RunStore
	Records() *storagememory.RunStore
	Crawl(ctx context.Context, runID string, params crawler.RunParameters) (crawler.Summary, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so we can
// replace it with a fake factory in our tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Services, error) {
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls product catalogs and extracts offer prices.",
		Long: `catalog-crawler walks category listings of a price-comparison catalog,
discovers product pages, renders them and extracts titles, ratings and the
featured store offers into structured records.`,
		SilenceUsage: true,

		// Build the application once config is known and inject it into the
		// context for subcommands.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			svc, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, svc))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* env vars override it")
	cmd.AddCommand(newCrawlCmd(), newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (Services, error) {
	svc, ok := ctx.Value(appKey).(Services)
	if !ok || svc == nil {
		return nil, errors.New("application services not initialized")
	}
	return svc, nil
}

// withServices resolves the injected Services for fn and shuts them down
// afterwards, whether or not fn fails.
func withServices(fn func(cmd *cobra.Command, svc Services) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		svc, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
			defer cancel()
			if closeErr := svc.Close(ctx); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("close services: %w", closeErr))
			}
			// Syncing stderr fails on some platforms; that is not worth an exit code.
			_ = svc.Logger().Sync()
		}()
		return fn(cmd, svc)
	}
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context so crawls stop and report partial results.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
