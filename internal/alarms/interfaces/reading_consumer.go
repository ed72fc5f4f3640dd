package interfaces

import (
	"context"
	"errors"

	"msm-monitoring/internal/eventing"
	telemetry "msm-monitoring/internal/telemetry/domain"
)

// Evaluator evaluates a persisted reading.
type Evaluator interface {
	Evaluate(ctx context.Context, readingID int64) error
}

// ReadingPersistedConsumer adapts reading persisted events into rule evaluation.
type ReadingPersistedConsumer struct {
	app Evaluator
}

// NewReadingPersistedConsumer constructs a consumer.
func NewReadingPersistedConsumer(app Evaluator) (*ReadingPersistedConsumer, error) {
	if app == nil {
		return nil, errors.New("alarms consumer: nil evaluator")
	}
	return &ReadingPersistedConsumer{app: app}, nil
}

// Consume handles a reading persisted event.
func (c *ReadingPersistedConsumer) Consume(ctx context.Context, event telemetry.ReadingPersisted) error {
	if event.ReadingID <= 0 {
		return errors.New("alarms consumer: empty reading id")
	}
	if event.MessageID != "" && eventing.CorrelationIDFromContext(ctx) == "" {
		ctx = eventing.WithCorrelationID(ctx, event.MessageID)
	}
	return c.app.Evaluate(ctx, event.ReadingID)
}
