package sinks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/progress"
)

// Default notifier topics.
const (
	DefaultNewTopic     = "catalog.item.new"
	DefaultEpisodeTopic = "catalog.item.episode"
)

// ChangeNotice is the payload published for subscriber-facing changes.
type ChangeNotice struct {
	Slug       string    `json:"slug"`
	Change     string    `json:"change"`
	RunID      string    `json:"run_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NotifierSink forwards subscriber-facing item changes to a publisher.
// Refreshes and skips stay internal; only genuinely new content and new
// episodes leave the process.
type NotifierSink struct {
	publisher    catalog.Publisher
	newTopic     string
	episodeTopic string
	logger       *zap.Logger
}

// NewNotifierSink wires a publisher to the sink interface.
func NewNotifierSink(publisher catalog.Publisher, newTopic, episodeTopic string, logger *zap.Logger) *NotifierSink {
	if newTopic == "" {
		newTopic = DefaultNewTopic
	}
	if episodeTopic == "" {
		episodeTopic = DefaultEpisodeTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifierSink{
		publisher:    publisher,
		newTopic:     newTopic,
		episodeTopic: episodeTopic,
		logger:       logger,
	}
}

// Consume publishes one notice per new-item or new-episode event. A
// failed publish is logged and does not fail the batch; notices are
// best-effort by contract.
func (s *NotifierSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		var topic string
		switch evt.Stage {
		case progress.StageItemNew:
			topic = s.newTopic
		case progress.StageItemEpisode:
			topic = s.episodeTopic
		default:
			continue
		}
		notice := ChangeNotice{
			Slug:       evt.Slug,
			Change:     string(evt.Stage),
			RunID:      evt.RunUUID().String(),
			OccurredAt: evt.TS,
		}
		if _, err := s.publisher.Publish(ctx, topic, notice); err != nil {
			s.logger.Warn("change notice publish failed",
				zap.String("topic", topic),
				zap.String("slug", evt.Slug),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action. The
// publisher itself is closed by its owner.
func (s *NotifierSink) Close(context.Context) error {
	return nil
}
