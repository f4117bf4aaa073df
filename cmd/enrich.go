package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vietphim/catalogd/internal/enrich"
	"github.com/vietphim/catalogd/internal/source/tmdb"
)

// newEnrichCmd creates and configures the 'enrich' subcommand.
func newEnrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Drains the enrichment backlog",
		Long: `Selects stored items still carrying the unenriched rating marker, looks
each title up on the external metadata service, and patches ratings,
artwork, descriptions, and tags. Runs until the backlog is empty or the
loop stops making progress.`,
		RunE: runEnrichCommand,
	}
}

func runEnrichCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()

	client, err := tmdb.NewClient(tmdb.Config{
		BaseURL:  cfg.Enrich.BaseURL,
		APIKey:   cfg.Enrich.APIKey,
		Language: cfg.Enrich.Language,
		Timeout:  time.Duration(cfg.Enrich.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init metadata client: %w", err)
	}

	enricher, err := enrich.New(
		enrich.Config{
			BatchSize:  cfg.Enrich.BatchSize,
			Workers:    cfg.Enrich.Workers,
			BatchPause: time.Duration(cfg.Enrich.BatchPauseSeconds) * time.Second,
		},
		appInstance.Catalog(),
		client,
		appInstance.Logger(),
		enrich.WithEmitter(appInstance.Hub()),
	)
	if err != nil {
		return fmt.Errorf("init enricher: %w", err)
	}

	summary, err := enricher.Run(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run enrich: %w", err)
	}

	appInstance.Logger().Info("enrich command finished",
		zap.Int64("patched", summary.Patched()),
		zap.Int64("failed", summary.Failed),
		zap.Int("cycles", summary.Cycles),
	)
	return nil
}
