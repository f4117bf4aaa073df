// Package cmd defines and implements the CLI commands for the catalogd executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vietphim/catalogd/internal/crawler"
	"github.com/vietphim/catalogd/internal/ratelimit"
	"github.com/vietphim/catalogd/internal/source"
	"github.com/vietphim/catalogd/internal/source/ophim"
)

// newCrawlCmd creates and configures the 'crawl' subcommand. It runs one
// ingest pass over the configured page range; --start and --end override
// the configured range.
func newCrawlCmd() *cobra.Command {
	var startPage, endPage int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one catalog ingest pass",
		Long: `Lists the upstream recently-updated pages, fetches every item's detail
payload, and upserts items and playable episodes into the catalog store.
Failed pages and items are logged, counted, and skipped; a partial run
still exits zero.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, startPage, endPage)
		},
	}

	cmd.Flags().IntVar(&startPage, "start", 0, "first listing page (overrides crawler.start_page)")
	cmd.Flags().IntVar(&endPage, "end", 0, "last listing page (overrides crawler.end_page)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, startPage, endPage int) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()

	if startPage <= 0 {
		startPage = cfg.Crawler.StartPage
	}
	if endPage <= 0 {
		endPage = cfg.Crawler.EndPage
	}

	engine, err := buildIngestEngine(appInstance)
	if err != nil {
		return err
	}

	summary, err := engine.Run(cmd.Context(), startPage, endPage)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	appInstance.Logger().Info("crawl command finished",
		zap.Int64("processed", summary.Processed()),
		zap.Int64("skipped", summary.ItemsSkipped),
		zap.Int64("pages_failed", summary.PagesFailed),
	)
	return nil
}

func buildIngestEngine(appInstance App) (*crawler.Engine, error) {
	cfg := appInstance.Config()

	client, err := ophim.NewClient(
		ophim.Config{
			BaseURL:   cfg.Source.BaseURL,
			UserAgent: cfg.Source.UserAgent,
			Timeout:   cfg.SourceTimeout(),
		},
		ophim.WithRetryPolicy(source.NewRetryPolicyWith(
			cfg.Source.MaxRetries,
			time.Duration(cfg.Source.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.Source.BackoffMaxMs)*time.Millisecond,
		)),
		ophim.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Source.RateLimitRPS,
			DefaultBurst: cfg.Source.RateLimitBurst,
		})),
	)
	if err != nil {
		return nil, fmt.Errorf("init source client: %w", err)
	}

	opts := []crawler.Option{crawler.WithEmitter(appInstance.Hub())}
	if archiver := appInstance.Archiver(); archiver != nil {
		opts = append(opts, crawler.WithArchiver(archiver))
	}

	engine, err := crawler.NewEngine(
		crawler.Config{
			Workers:         cfg.Crawler.Workers,
			ThrottleBackoff: cfg.ThrottleBackoff(),
			ArchivePrefix:   cfg.Archive.Prefix,
		},
		client,
		client,
		appInstance.Catalog(),
		appInstance.Logger(),
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("init ingest engine: %w", err)
	}
	return engine, nil
}
