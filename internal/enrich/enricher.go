// Package enrich implements the metadata backfill pass: it drains the
// backlog of items still carrying the unenriched rating sentinel and
// patches them with external metadata.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/clock/system"
	"github.com/vietphim/catalogd/internal/progress"
	"github.com/vietphim/catalogd/internal/source/tmdb"
	"github.com/vietphim/catalogd/internal/store"
)

// MetadataClient is the slice of the metadata service the enricher uses.
type MetadataClient interface {
	Search(ctx context.Context, query string, series bool) (tmdb.Match, error)
	FetchDetail(ctx context.Context, id int64, series bool) (tmdb.Detail, error)
}

// Config holds the settings for one enrichment session.
type Config struct {
	// BatchSize bounds how many backlog items one cycle selects.
	BatchSize int
	// Workers bounds concurrent metadata lookups within a cycle.
	Workers int
	// BatchPause is slept between cycles to stay under service quotas.
	BatchPause time.Duration
	// ThrottleBackoff is slept once after a 429 before the offending
	// item is abandoned for this run.
	ThrottleBackoff time.Duration
}

const (
	defaultBatchSize       = 100
	defaultWorkers         = 10
	defaultBatchPause      = time.Second
	defaultThrottleBackoff = 5 * time.Second

	// maxStalledCycles stops the drain loop once this many consecutive
	// cycles make no progress, so a dead metadata service cannot spin
	// the loop forever against the same backlog.
	maxStalledCycles = 2
)

// releaseYear matches a trailing or embedded "(2002)" style annotation
// carried over from upstream titles.
var releaseYear = regexp.MustCompile(`\s*\(\d{4}\)`)

// Summary reports what one enrichment run did.
type Summary struct {
	Matched  int64
	NoMatch  int64
	Empty    int64
	Failed   int64
	Cycles   int
	Duration time.Duration
}

// Patched counts items whose rating moved off the backlog sentinel.
func (s Summary) Patched() int64 {
	return s.Matched + s.NoMatch + s.Empty
}

// Enricher drains the unenriched backlog in batches.
type Enricher struct {
	cfg     Config
	catalog store.CatalogStore
	client  MetadataClient
	emitter progress.Emitter
	clock   catalog.Clock
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes an Enricher.
type Option func(*Enricher)

// WithEmitter attaches a progress emitter.
func WithEmitter(em progress.Emitter) Option {
	return func(e *Enricher) { e.emitter = em }
}

// WithClock substitutes the clock (tests).
func WithClock(c catalog.Clock) Option {
	return func(e *Enricher) { e.clock = c }
}

// WithSleep substitutes the pause sleep (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Enricher) { e.sleep = sleep }
}

// New builds an enricher.
func New(cfg Config, catalogStore store.CatalogStore, client MetadataClient, logger *zap.Logger, opts ...Option) (*Enricher, error) {
	if catalogStore == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("metadata client is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = defaultBatchPause
	}
	if cfg.ThrottleBackoff <= 0 {
		cfg.ThrottleBackoff = defaultThrottleBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enricher{
		cfg:     cfg,
		catalog: catalogStore,
		client:  client,
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
	matched atomic.Int64
	noMatch atomic.Int64
	empty   atomic.Int64
	failed  atomic.Int64
}

// Run drains the backlog until it is empty, the context is canceled, or
// the loop stalls. Individual lookup failures are logged and counted;
// the affected items stay in the backlog for a later run.
func (e *Enricher) Run(ctx context.Context) (Summary, error) {
	runID := progress.NewRunID()
	began := e.clock.Now()
	e.emit(progress.Event{RunID: runID, TS: began, Stage: progress.StageRunStart})

	backlog, err := e.catalog.CountUnenriched(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("count backlog: %w", err)
	}
	e.logger.Info("enrichment run starting",
		zap.Int64("backlog", backlog),
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.Int("workers", e.cfg.Workers),
	)

	var (
		tallies counters
		summary Summary
		stalled int
	)
	for {
		if err := ctx.Err(); err != nil {
			return e.finish(runID, began, &tallies, summary, err)
		}
		batch, err := e.catalog.SelectUnenriched(ctx, e.cfg.BatchSize)
		if err != nil {
			return e.finish(runID, began, &tallies, summary, fmt.Errorf("select backlog: %w", err))
		}
		if len(batch) == 0 {
			break
		}

		before := tallies.patched()
		e.processBatch(ctx, runID, batch, &tallies)
		summary.Cycles++

		if tallies.patched() == before {
			stalled++
			if stalled >= maxStalledCycles {
				e.logger.Warn("enrichment stalled, stopping run",
					zap.Int("cycles_without_progress", stalled),
					zap.Int("remaining", len(batch)),
				)
				break
			}
		} else {
			stalled = 0
		}

		if err := e.sleep(ctx, e.cfg.BatchPause); err != nil {
			return e.finish(runID, began, &tallies, summary, err)
		}
	}
	return e.finish(runID, began, &tallies, summary, nil)
}

func (e *Enricher) processBatch(ctx context.Context, runID [16]byte, batch []catalog.Item, tallies *counters) {
	items := make(chan catalog.Item)
	var wg sync.WaitGroup
	workers := e.cfg.Workers
	if len(batch) < workers {
		workers = len(batch)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				e.enrichOne(ctx, runID, item, tallies)
			}
		}()
	}
	for _, item := range batch {
		select {
		case items <- item:
		case <-ctx.Done():
			close(items)
			wg.Wait()
			return
		}
	}
	close(items)
	wg.Wait()
}

func (e *Enricher) enrichOne(ctx context.Context, runID [16]byte, item catalog.Item, tallies *counters) {
	// The international title is what the metadata service indexes; the
	// Vietnamese display title is a fallback for items that lack one.
	title := item.OriginName
	if title == "" {
		title = item.Title
	}
	query := searchQuery(title)
	match, err := e.client.Search(ctx, query, item.IsSeries)
	switch {
	case errors.Is(err, catalog.ErrThrottled):
		tallies.failed.Add(1)
		e.logger.Warn("metadata service throttled, backing off",
			zap.String("slug", item.Slug),
			zap.Duration("backoff", e.cfg.ThrottleBackoff),
		)
		_ = e.sleep(ctx, e.cfg.ThrottleBackoff)
		return
	case errors.Is(err, catalog.ErrNoMatch):
		e.applyNoMatch(ctx, runID, item, tallies)
		return
	case err != nil:
		tallies.failed.Add(1)
		e.logger.Warn("metadata search failed", zap.String("slug", item.Slug), zap.Error(err))
		return
	}

	patch := store.EnrichmentPatch{
		Description: match.Overview,
		PosterURL:   tmdb.PosterURL(match.PosterPath),
		ThumbURL:    tmdb.BackdropURL(match.BackdropPath),
		Rating:      match.VoteAverage,
	}
	outcome := progress.OutcomeMatched
	if patch.Rating == catalog.RatingUnenriched {
		// A matched title with no votes must still leave the backlog.
		patch.Rating = catalog.RatingMatchedEmpty
		outcome = progress.OutcomeEmpty
	}

	detail, err := e.client.FetchDetail(ctx, match.ID, item.IsSeries)
	if err != nil {
		e.logger.Warn("metadata detail fetch failed, patching from search hit only",
			zap.String("slug", item.Slug),
			zap.Error(err),
		)
	} else {
		patch.Genres = catalog.TagSetFromNames(detail.GenreNames)
		patch.Countries = catalog.TagSetFromNames(detail.CountryNames)
	}

	if err := e.catalog.ApplyEnrichment(ctx, item.Slug, patch); err != nil {
		tallies.failed.Add(1)
		e.logger.Warn("enrichment patch failed", zap.String("slug", item.Slug), zap.Error(err))
		return
	}
	if outcome == progress.OutcomeMatched {
		tallies.matched.Add(1)
	} else {
		tallies.empty.Add(1)
	}
	e.emit(progress.Event{
		RunID: runID,
		TS:    e.clock.Now(),
		Stage: progress.StageEnrichDone,
		Slug:  item.Slug,
		Note:  outcome,
	})
}

// applyNoMatch marks the item visited so it leaves the backlog. The
// crawl-normalized tags already carry both the display name and the
// upstream slug, so they are left untouched.
func (e *Enricher) applyNoMatch(ctx context.Context, runID [16]byte, item catalog.Item, tallies *counters) {
	patch := store.EnrichmentPatch{
		Rating: catalog.RatingNoMatch,
	}
	if err := e.catalog.ApplyEnrichment(ctx, item.Slug, patch); err != nil {
		tallies.failed.Add(1)
		e.logger.Warn("no-match patch failed", zap.String("slug", item.Slug), zap.Error(err))
		return
	}
	tallies.noMatch.Add(1)
	e.emit(progress.Event{
		RunID: runID,
		TS:    e.clock.Now(),
		Stage: progress.StageEnrichDone,
		Slug:  item.Slug,
		Note:  progress.OutcomeNoMatch,
	})
}

func (e *Enricher) finish(runID [16]byte, began time.Time, tallies *counters, summary Summary, cause error) (Summary, error) {
	summary.Matched = tallies.matched.Load()
	summary.NoMatch = tallies.noMatch.Load()
	summary.Empty = tallies.empty.Load()
	summary.Failed = tallies.failed.Load()
	summary.Duration = e.clock.Now().Sub(began)

	stage := progress.StageRunDone
	note := ""
	if cause != nil {
		stage = progress.StageRunError
		note = cause.Error()
	}
	e.emit(progress.Event{
		RunID: runID,
		TS:    e.clock.Now(),
		Stage: stage,
		Count: summary.Patched(),
		Dur:   summary.Duration,
		Note:  note,
	})
	e.logger.Info("enrichment run finished",
		zap.Int64("matched", summary.Matched),
		zap.Int64("no_match", summary.NoMatch),
		zap.Int64("empty", summary.Empty),
		zap.Int64("failed", summary.Failed),
		zap.Int("cycles", summary.Cycles),
		zap.Duration("duration", summary.Duration),
	)
	if cause != nil {
		return summary, fmt.Errorf("enrichment run aborted: %w", cause)
	}
	return summary, nil
}

func (c *counters) patched() int64 {
	return c.matched.Load() + c.noMatch.Load() + c.empty.Load()
}

func (e *Enricher) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// searchQuery strips release-year annotations from an upstream title.
func searchQuery(title string) string {
	return strings.TrimSpace(releaseYear.ReplaceAllString(title, " "))
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
