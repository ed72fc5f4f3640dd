package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"msm-monitoring/internal/observability/metrics"
	telemetry "msm-monitoring/internal/telemetry/domain"
)

// Outcome is the broker-facing disposition of one delivery.
type Outcome int

const (
	// Ack means the reading is stored and the delivery is acknowledged.
	Ack Outcome = iota
	// Reject means the payload is permanently unprocessable.
	Reject
	// Retry means the delivery stays pending for redelivery.
	Retry
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Delivery is one broker message handed to the pipeline.
type Delivery struct {
	ID      string
	Payload []byte
	// Ack acknowledges the message to the broker. It is called once the reading is stored.
	Ack func(ctx context.Context) error
}

// ReadingInserter stores readings.
type ReadingInserter interface {
	Insert(ctx context.Context, reading *telemetry.Reading) error
}

// LivePublisher fans a stored reading out to live subscribers.
type LivePublisher interface {
	PublishReading(ctx context.Context, reading telemetry.Reading) error
}

// Scheduler accepts persisted readings for asynchronous evaluation.
type Scheduler interface {
	Enqueue(event telemetry.ReadingPersisted) bool
}

// Pipeline validates, persists, acknowledges and then hands readings off for evaluation.
type Pipeline struct {
	readings  ReadingInserter
	live      LivePublisher
	scheduler Scheduler
	logger    *zap.Logger
	timeout   time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLivePublisher sets the live fan-out publisher.
func WithLivePublisher(live LivePublisher) PipelineOption {
	return func(p *Pipeline) {
		p.live = live
	}
}

// WithScheduler sets the evaluation scheduler.
func WithScheduler(scheduler Scheduler) PipelineOption {
	return func(p *Pipeline) {
		p.scheduler = scheduler
	}
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithStoreTimeout bounds the persist call.
func WithStoreTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPipeline constructs a pipeline.
func NewPipeline(readings ReadingInserter, opts ...PipelineOption) (*Pipeline, error) {
	if readings == nil {
		return nil, errors.New("ingest pipeline: nil reading repository")
	}
	p := &Pipeline{
		readings: readings,
		logger:   zap.NewNop(),
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Handle processes one delivery. Reject carries ErrInvalidMessage or telemetry.ErrReadingRejected;
// Retry carries a transient persist error.
// Live publish and evaluation scheduling happen after the acknowledgement and never change the outcome.
func (p *Pipeline) Handle(ctx context.Context, delivery Delivery) (Outcome, error) {
	start := time.Now()

	reading, err := Decode(delivery.Payload)
	if err != nil {
		metrics.ObserveIngest(metrics.IngestRejected, time.Since(start))
		return Reject, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err = p.readings.Insert(storeCtx, &reading)
	cancel()
	if errors.Is(err, telemetry.ErrReadingRejected) {
		metrics.ObserveIngest(metrics.IngestRejected, time.Since(start))
		return Reject, fmt.Errorf("ingest pipeline: persist: %w", err)
	}
	if err != nil {
		metrics.ObserveIngest(metrics.IngestRetry, time.Since(start))
		return Retry, fmt.Errorf("ingest pipeline: persist: %w", err)
	}

	if delivery.Ack != nil {
		if err := delivery.Ack(ctx); err != nil {
			p.logger.Warn("ack failed after persist",
				zap.String("message_id", delivery.ID),
				zap.Int64("reading_id", reading.ID),
				zap.Error(err),
			)
		}
	}
	metrics.ObserveIngest(metrics.IngestAccepted, time.Since(start))

	p.afterAck(ctx, delivery.ID, reading)
	return Ack, nil
}

func (p *Pipeline) afterAck(ctx context.Context, messageID string, reading telemetry.Reading) {
	if p.live != nil {
		if err := p.live.PublishReading(ctx, reading); err != nil {
			p.logger.Warn("live publish failed",
				zap.String("message_id", messageID),
				zap.Int64("reading_id", reading.ID),
				zap.Error(err),
			)
		}
	}
	if p.scheduler == nil {
		return
	}
	event := telemetry.ReadingPersisted{
		ReadingID:   reading.ID,
		ParameterID: reading.ParameterID,
		Value:       reading.Value,
		Timestamp:   reading.Timestamp,
		MessageID:   messageID,
	}
	if !p.scheduler.Enqueue(event) {
		p.logger.Warn("evaluation not scheduled",
			zap.String("message_id", messageID),
			zap.Int64("reading_id", reading.ID),
		)
	}
}
