package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vietphim/catalogd/internal/api"
)

// newServeCmd creates and configures the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the catalog read API",
		Long: `Starts the HTTP server exposing the catalog listing and detail
endpoints, health probes, and Prometheus metrics. When a crawl schedule
is configured, ingest passes also run in the background on that cron.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	server := api.NewServer(appInstance.Catalog(), appInstance.Registry(), logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Schedule.Enabled {
		scheduler, err := startCrawlSchedule(ctx, appInstance)
		if err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// startCrawlSchedule runs ingest passes on the configured cron. Scheduled
// runs reuse the server's service container; overlapping runs are
// serialized by the scheduler's singleton mode.
func startCrawlSchedule(ctx context.Context, appInstance App) (*gocron.Scheduler, error) {
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	engine, err := buildIngestEngine(appInstance)
	if err != nil {
		return nil, err
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err = scheduler.Cron(cfg.Schedule.Cron).Do(func() {
		logger.Info("scheduled crawl starting",
			zap.Int("start_page", cfg.Schedule.StartPage),
			zap.Int("end_page", cfg.Schedule.EndPage),
		)
		summary, err := engine.Run(ctx, cfg.Schedule.StartPage, cfg.Schedule.EndPage)
		if err != nil {
			logger.Warn("scheduled crawl aborted", zap.Error(err))
			return
		}
		logger.Info("scheduled crawl finished",
			zap.Int64("processed", summary.Processed()),
			zap.Int64("skipped", summary.ItemsSkipped),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule crawl: %w", err)
	}

	logger.Info("crawl schedule armed", zap.String("cron", cfg.Schedule.Cron))
	scheduler.StartAsync()
	return scheduler, nil
}
