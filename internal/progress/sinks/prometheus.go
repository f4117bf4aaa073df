package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vietphim/catalogd/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It
// owns all collectors for runs started/completed/running, per-page and
// per-item counters, and enrichment outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	pagesProcessed prometheus.Counter
	itemsUpserted  *prometheus.CounterVec
	itemsSkipped   prometheus.Counter
	itemDuration   prometheus.Histogram
	enriched       *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogd_runs_started_total",
			Help: "Total ingest or enrichment runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogd_runs_completed_total",
			Help: "Total runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalogd_runs_running",
			Help: "Current number of running runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogd_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogd_pages_processed_total",
			Help: "Listing pages fully processed.",
		}),
		itemsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogd_items_upserted_total",
			Help: "Item upserts partitioned by change classification.",
		}, []string{"change"}),
		itemsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogd_items_skipped_total",
			Help: "Items skipped after fetch or normalization failures.",
		}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalogd_item_duration_seconds",
			Help:    "Per-item fetch plus persist latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
		enriched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogd_items_enriched_total",
			Help: "Enrichment completions partitioned by outcome.",
		}, []string{"outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.pagesProcessed,
		s.itemsUpserted,
		s.itemsSkipped,
		s.itemDuration,
		s.enriched,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It
// is safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.completeRun(evt, "success")
	case progress.StageRunError:
		s.completeRun(evt, "error")
	case progress.StagePageDone:
		s.pagesProcessed.Inc()
	case progress.StageItemNew:
		s.observeItem(evt, "new")
	case progress.StageItemEpisode:
		s.observeItem(evt, "episode")
	case progress.StageItemRefresh:
		s.observeItem(evt, "refresh")
	case progress.StageItemSkip:
		s.itemsSkipped.Inc()
	case progress.StageEnrichDone:
		outcome := evt.Note
		if outcome == "" {
			outcome = progress.OutcomeMatched
		}
		s.enriched.WithLabelValues(outcome).Inc()
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeItem(evt progress.Event, change string) {
	s.itemsUpserted.WithLabelValues(change).Inc()
	if evt.Dur > 0 {
		s.itemDuration.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
