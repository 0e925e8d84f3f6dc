package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
)

type crawlFlags struct {
	startURLs   []string
	maxPages    int
	maxProducts int
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl in the
// foreground and prints its summary as JSON.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl and prints the summary",
		Long: `Crawls the configured (or given) start URLs until the frontier drains
or a page/product limit is reached. Records go to the configured output
sinks; the run summary is written to stdout.`,
		RunE: withServices(func(cmd *cobra.Command, svc Services) error {
			return runCrawlCommand(cmd, svc, flags)
		}),
	}
	cmd.Flags().StringSliceVar(&flags.startURLs, "start-url", nil, "category or product URL to start from (repeatable)")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "page budget, 0 for unlimited")
	cmd.Flags().IntVar(&flags.maxProducts, "max-products", 0, "product budget, 0 for unlimited")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, svc Services, flags crawlFlags) error {
	params, err := crawlParameters(cmd, flags, svc.Config())
	if err != nil {
		return err
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	run := crawler.Run{
		ID:         runID,
		Status:     crawler.RunStatusQueued,
		Submitted:  crawler.SystemClock{}.Now(),
		Parameters: params,
	}
	if err := svc.Runs().CreateRun(cmd.Context(), run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	runner := app.NewRunner(cmd.Context(), svc.Runs(), svc.Crawl, 1, svc.Logger())
	summary, crawlErr := runner.Execute(cmd.Context(), run)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if crawlErr != nil && !errors.Is(crawlErr, context.Canceled) {
		return fmt.Errorf("run crawl: %w", crawlErr)
	}
	return nil
}

func crawlParameters(cmd *cobra.Command, flags crawlFlags, cfg config.Config) (crawler.RunParameters, error) {
	params := crawler.RunParameters{
		StartURLs:   cfg.Crawler.StartURLs,
		MaxPages:    cfg.Crawler.MaxPages,
		MaxProducts: cfg.Crawler.MaxProducts,
	}
	if len(flags.startURLs) > 0 {
		params.StartURLs = flags.startURLs
	}
	if cmd.Flags().Changed("max-pages") {
		params.MaxPages = flags.maxPages
	}
	if cmd.Flags().Changed("max-products") {
		params.MaxProducts = flags.maxProducts
	}
	if len(params.StartURLs) == 0 {
		return crawler.RunParameters{}, errors.New("no start URLs: set crawler.start_urls or pass --start-url")
	}
	if params.MaxPages < 0 || params.MaxProducts < 0 {
		return crawler.RunParameters{}, errors.New("--max-pages and --max-products must be >= 0")
	}
	return params, nil
}
