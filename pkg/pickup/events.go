package pickup

import (
	"context"
	"time"

	"github.com/widedata/platform/pkg/common/logger"
)

const (
	EventTypeCycle     = "pickup.cycle"
	eventPublishWindow = 5 * time.Second
)

// EventPublisher is implemented by *kafka.Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// EventSink publishes every cycle report as an event. Publishing failures are
// logged and otherwise ignored.
type EventSink struct {
	publisher EventPublisher
	source    string
}

func NewEventSink(publisher EventPublisher, source string) *EventSink {
	return &EventSink{publisher: publisher, source: source}
}

func (s *EventSink) ObserveCycle(report CycleReport) {
	ctx, cancel := context.WithTimeout(context.Background(), eventPublishWindow)
	defer cancel()

	data := report.Fields()
	data["started_at"] = report.StartedAt
	if report.QueryError != "" {
		data["query_error"] = report.QueryError
	}
	if report.Cancelled {
		data["cancelled"] = true
	}

	if err := s.publisher.PublishEvent(ctx, EventTypeCycle, s.source, data); err != nil {
		logger.Log.WithError(err).WithField("cycle_id", report.ID).Warn("Failed to publish cycle report")
	}
}
