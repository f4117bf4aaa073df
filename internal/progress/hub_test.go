package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	events  []Event
	flushes int
	closed  bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	s.flushes++
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() (int, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events), s.flushes, s.closed
}

func validEvent(stage Stage) Event {
	evt := Event{
		RunID: NewRunID(),
		TS:    time.Now().UTC(),
		Stage: stage,
	}
	switch stage {
	case StagePageDone:
		evt.Page = 1
	case StageItemNew, StageItemEpisode, StageItemRefresh, StageItemSkip, StageEnrichDone:
		evt.Slug = "nguoi-nhen"
	}
	return evt
}

func TestHubFlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 2, MaxBatchWait: time.Hour}, sink)

	hub.Emit(validEvent(StageItemNew))
	hub.Emit(validEvent(StageItemRefresh))

	require.Eventually(t, func() bool {
		n, _, _ := sink.snapshot()
		return n == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close(context.Background()))
}

func TestHubFlushesOnTimer(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: 20 * time.Millisecond}, sink)

	hub.Emit(validEvent(StagePageDone))

	require.Eventually(t, func() bool {
		n, _, _ := sink.snapshot()
		return n == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close(context.Background()))
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{})
	hub.Emit(Event{RunID: NewRunID(), TS: time.Now(), Stage: StageItemNew}) // missing slug

	require.NoError(t, hub.Close(context.Background()))
	n, _, closed := sink.snapshot()
	require.Zero(t, n)
	require.True(t, closed)
}

func TestHubCloseDrainsBufferedEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 1000, MaxBatchWait: time.Hour}, sink)

	for i := 0; i < 10; i++ {
		hub.Emit(validEvent(StageEnrichDone))
	}
	require.NoError(t, hub.Close(context.Background()))

	n, _, closed := sink.snapshot()
	require.Equal(t, 10, n)
	require.True(t, closed)
}

func TestHubEmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent(StageItemNew))

	n, _, _ := sink.snapshot()
	require.Zero(t, n)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{name: "valid run start", mutate: func(e *Event) { e.Stage = StageRunStart; e.Slug = ""; e.Page = 0 }},
		{name: "missing run id", mutate: func(e *Event) { e.RunID = [16]byte{} }, wantErr: true},
		{name: "missing timestamp", mutate: func(e *Event) { e.TS = time.Time{} }, wantErr: true},
		{name: "page done without page", mutate: func(e *Event) { e.Stage = StagePageDone; e.Page = 0 }, wantErr: true},
		{name: "item stage without slug", mutate: func(e *Event) { e.Stage = StageItemEpisode; e.Slug = "" }, wantErr: true},
		{name: "unknown stage", mutate: func(e *Event) { e.Stage = "WAT" }, wantErr: true},
		{name: "negative duration", mutate: func(e *Event) { e.Dur = -time.Second }, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt := validEvent(StageItemNew)
			tt.mutate(&evt)
			err := evt.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
