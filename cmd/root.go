package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vietphim/catalogd/internal/app"
	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/config"
	"github.com/vietphim/catalogd/internal/progress"
	"github.com/vietphim/catalogd/internal/store"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the service container the subcommands consume.
// Keeping it an interface lets tests inject a mock factory.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Catalog() store.CatalogStore
	Hub() *progress.Hub
	Archiver() catalog.Archiver
	Registry() *prometheus.Registry
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can
// replace it with a mock factory.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogd",
		Short: "Vietnamese movie catalog ingestion service",
		Long: `catalogd keeps a local movie catalog in sync with its upstream source.
It crawls the recently-updated listing, normalizes and upserts item
details, enriches stored items with external metadata, and serves the
catalog over HTTP.`,
		SilenceUsage: true,

		// Runs before the subcommand's RunE: build the service container
		// once and hand it to subcommands through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(cmd.Context())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (settings also read from CATALOGD_* env vars)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newEnrichCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
