// Package crawler orchestrates the catalog ingest: it pages through the
// upstream listing, fans slugs out to a bounded worker pool, and
// persists each normalized title.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/clock/system"
	"github.com/vietphim/catalogd/internal/progress"
	"github.com/vietphim/catalogd/internal/store"
)

// Config holds the settings for one ingest session. This struct is
// decoupled from Viper so the engine stays easy to test independently.
type Config struct {
	// Workers bounds the number of concurrent page workers.
	Workers int
	// ThrottleBackoff is slept once after an upstream 429 before the
	// offending slug is abandoned.
	ThrottleBackoff time.Duration
	// ArchivePrefix prefixes raw payload paths in the archive.
	ArchivePrefix string
}

const (
	defaultWorkers         = 10
	defaultThrottleBackoff = 5 * time.Second
	defaultArchivePrefix   = "phim"
)

// Summary reports what one ingest run did.
type Summary struct {
	PagesProcessed int64
	PagesFailed    int64
	ItemsNew       int64
	ItemsEpisode   int64
	ItemsRefresh   int64
	ItemsSkipped   int64
	Episodes       int64
	Duration       time.Duration
}

// Processed counts all items that reached the store.
func (s Summary) Processed() int64 {
	return s.ItemsNew + s.ItemsEpisode + s.ItemsRefresh
}

// Engine wires the lister, fetcher, and store into one ingest pipeline.
type Engine struct {
	cfg      Config
	lister   catalog.Lister
	fetcher  catalog.DetailFetcher
	catalog  store.CatalogStore
	archiver catalog.Archiver
	emitter  progress.Emitter
	clock    catalog.Clock
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes an Engine.
type Option func(*Engine)

// WithArchiver attaches a raw payload archive. Archiving is best-effort;
// failures are logged and never fail ingestion.
func WithArchiver(a catalog.Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithEmitter attaches a progress emitter.
func WithEmitter(em progress.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithClock substitutes the clock (tests).
func WithClock(c catalog.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSleep substitutes the throttle sleep (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// NewEngine builds an ingest engine.
func NewEngine(
	cfg Config,
	lister catalog.Lister,
	fetcher catalog.DetailFetcher,
	catalogStore store.CatalogStore,
	logger *zap.Logger,
	opts ...Option,
) (*Engine, error) {
	if lister == nil {
		return nil, fmt.Errorf("lister is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if catalogStore == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ThrottleBackoff <= 0 {
		cfg.ThrottleBackoff = defaultThrottleBackoff
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = defaultArchivePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:     cfg,
		lister:  lister,
		fetcher: fetcher,
		catalog: catalogStore,
		clock:   system.New(),
		logger:  logger,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type counters struct {
	pagesProcessed atomic.Int64
	pagesFailed    atomic.Int64
	itemsNew       atomic.Int64
	itemsEpisode   atomic.Int64
	itemsRefresh   atomic.Int64
	itemsSkipped   atomic.Int64
	episodes       atomic.Int64
}

// Run ingests listing pages start through end inclusive. Individual page
// and item failures are logged, counted, and skipped; Run only returns
// an error when the context is canceled or the page range is invalid.
func (e *Engine) Run(ctx context.Context, start, end int) (Summary, error) {
	if start <= 0 || end < start {
		return Summary{}, fmt.Errorf("invalid page range %d-%d", start, end)
	}

	runID := progress.NewRunID()
	began := e.clock.Now()
	e.emit(progress.Event{RunID: runID, TS: began, Stage: progress.StageRunStart})
	e.logger.Info("ingest run starting",
		zap.Int("start_page", start),
		zap.Int("end_page", end),
		zap.Int("workers", e.cfg.Workers),
	)

	var tallies counters
	pages := make(chan int)
	var wg sync.WaitGroup
	workers := e.cfg.Workers
	if span := end - start + 1; span < workers {
		workers = span
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range pages {
				e.processPage(ctx, runID, page, &tallies)
			}
		}()
	}

feed:
	for page := start; page <= end; page++ {
		select {
		case pages <- page:
		case <-ctx.Done():
			break feed
		}
	}
	close(pages)
	wg.Wait()

	summary := Summary{
		PagesProcessed: tallies.pagesProcessed.Load(),
		PagesFailed:    tallies.pagesFailed.Load(),
		ItemsNew:       tallies.itemsNew.Load(),
		ItemsEpisode:   tallies.itemsEpisode.Load(),
		ItemsRefresh:   tallies.itemsRefresh.Load(),
		ItemsSkipped:   tallies.itemsSkipped.Load(),
		Episodes:       tallies.episodes.Load(),
		Duration:       e.clock.Now().Sub(began),
	}

	if err := ctx.Err(); err != nil {
		e.emit(progress.Event{
			RunID: runID,
			TS:    e.clock.Now(),
			Stage: progress.StageRunError,
			Count: summary.Processed(),
			Dur:   summary.Duration,
			Note:  err.Error(),
		})
		return summary, fmt.Errorf("ingest run aborted: %w", err)
	}

	e.emit(progress.Event{
		RunID: runID,
		TS:    e.clock.Now(),
		Stage: progress.StageRunDone,
		Count: summary.Processed(),
		Dur:   summary.Duration,
	})
	e.logger.Info("ingest run finished",
		zap.Int64("pages_processed", summary.PagesProcessed),
		zap.Int64("pages_failed", summary.PagesFailed),
		zap.Int64("items_new", summary.ItemsNew),
		zap.Int64("items_episode", summary.ItemsEpisode),
		zap.Int64("items_refresh", summary.ItemsRefresh),
		zap.Int64("items_skipped", summary.ItemsSkipped),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// processPage lists one page and ingests its slugs sequentially so a
// single page never competes with itself for upstream capacity.
func (e *Engine) processPage(ctx context.Context, runID [16]byte, page int, tallies *counters) {
	if ctx.Err() != nil {
		return
	}
	slugs, err := e.lister.ListPage(ctx, page)
	if err != nil {
		tallies.pagesFailed.Add(1)
		e.logger.Warn("listing page failed", zap.Int("page", page), zap.Error(err))
		return
	}
	for _, slug := range slugs {
		if ctx.Err() != nil {
			// The page was only partially ingested; count it so the
			// summary accounts for every page a worker picked up.
			tallies.pagesFailed.Add(1)
			return
		}
		e.processItem(ctx, runID, slug, tallies)
	}
	tallies.pagesProcessed.Add(1)
	e.emit(progress.Event{
		RunID: runID,
		TS:    e.clock.Now(),
		Stage: progress.StagePageDone,
		Page:  page,
		Count: int64(len(slugs)),
	})
}

func (e *Engine) processItem(ctx context.Context, runID [16]byte, slug string, tallies *counters) {
	began := e.clock.Now()
	detail, err := e.fetcher.FetchDetail(ctx, slug)
	if err != nil {
		e.skipItem(ctx, runID, slug, err, tallies)
		return
	}

	e.archiveRaw(ctx, slug, detail.Raw)

	result, err := e.catalog.UpsertItem(ctx, detail.Item, detail.Episodes)
	if err != nil {
		e.skipItem(ctx, runID, slug, err, tallies)
		return
	}

	switch result.Change {
	case catalog.ChangeNew:
		tallies.itemsNew.Add(1)
	case catalog.ChangeEpisode:
		tallies.itemsEpisode.Add(1)
	default:
		tallies.itemsRefresh.Add(1)
	}
	tallies.episodes.Add(int64(result.EpisodesWritten))

	e.emit(progress.Event{
		RunID: runID,
		TS:    e.clock.Now(),
		Stage: progress.StageForChange(result.Change),
		Slug:  slug,
		Count: int64(result.EpisodesWritten),
		Dur:   e.clock.Now().Sub(began),
	})
}

// skipItem records one abandoned slug. An upstream 429 additionally
// pauses the worker so the source gets room to recover.
func (e *Engine) skipItem(ctx context.Context, runID [16]byte, slug string, cause error, tallies *counters) {
	tallies.itemsSkipped.Add(1)
	switch {
	case errors.Is(cause, catalog.ErrNoPlayable):
		e.logger.Debug("skipping item without playable streams", zap.String("slug", slug))
	case errors.Is(cause, catalog.ErrThrottled):
		e.logger.Warn("upstream throttled, backing off",
			zap.String("slug", slug),
			zap.Duration("backoff", e.cfg.ThrottleBackoff),
		)
		if err := e.sleep(ctx, e.cfg.ThrottleBackoff); err != nil {
			return
		}
	default:
		e.logger.Warn("skipping item", zap.String("slug", slug), zap.Error(cause))
	}
	e.emit(progress.Event{
		RunID: runID,
		TS:    e.clock.Now(),
		Stage: progress.StageItemSkip,
		Slug:  slug,
		Note:  cause.Error(),
	})
}

func (e *Engine) archiveRaw(ctx context.Context, slug string, raw []byte) {
	if e.archiver == nil || len(raw) == 0 {
		return
	}
	path := fmt.Sprintf("%s/%s.json", e.cfg.ArchivePrefix, slug)
	if _, err := e.archiver.PutObject(ctx, path, "application/json", raw); err != nil {
		e.logger.Warn("raw payload archive failed", zap.String("slug", slug), zap.Error(err))
	}
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
