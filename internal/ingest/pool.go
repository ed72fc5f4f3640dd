package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"msm-monitoring/internal/observability/metrics"
	telemetry "msm-monitoring/internal/telemetry/domain"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 1024
	defaultJobTimeout = 30 * time.Second
)

// ReadingConsumer handles a persisted reading event.
type ReadingConsumer interface {
	Consume(ctx context.Context, event telemetry.ReadingPersisted) error
}

// EvaluationPool runs reading consumers off the ingest path on a bounded queue.
type EvaluationPool struct {
	consumer   ReadingConsumer
	logger     *zap.Logger
	workers    int
	jobTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan telemetry.ReadingPersisted
	wg     sync.WaitGroup
	start  sync.Once
}

// PoolOption configures an EvaluationPool.
type PoolOption func(*EvaluationPool)

// WithWorkers sets the number of concurrent evaluators.
func WithWorkers(n int) PoolOption {
	return func(p *EvaluationPool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the pending job capacity.
func WithQueueSize(n int) PoolOption {
	return func(p *EvaluationPool) {
		if n > 0 {
			p.jobs = make(chan telemetry.ReadingPersisted, n)
		}
	}
}

// WithJobTimeout bounds one evaluation.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(p *EvaluationPool) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(p *EvaluationPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewEvaluationPool constructs a pool. Jobs enqueued before Start wait in the queue.
func NewEvaluationPool(consumer ReadingConsumer, opts ...PoolOption) (*EvaluationPool, error) {
	if consumer == nil {
		return nil, errors.New("evaluation pool: nil consumer")
	}
	p := &EvaluationPool{
		consumer:   consumer,
		logger:     zap.NewNop(),
		workers:    defaultWorkers,
		jobTimeout: defaultJobTimeout,
		jobs:       make(chan telemetry.ReadingPersisted, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the workers. Jobs run under ctx values but survive its cancellation until drained.
func (p *EvaluationPool) Start(ctx context.Context) {
	p.start.Do(func() {
		base := context.WithoutCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(base, i)
		}
	})
}

// Enqueue schedules an evaluation without blocking. It reports false when the queue is full or closed.
func (p *EvaluationPool) Enqueue(event telemetry.ReadingPersisted) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- event:
		metrics.SetEvaluationQueueDepth(len(p.jobs))
		return true
	default:
		metrics.IncEvaluationDropped()
		p.logger.Warn("evaluation queue full, dropping reading",
			zap.Int64("reading_id", event.ReadingID),
			zap.Int64("parameter_id", event.ParameterID),
		)
		return false
	}
}

// Close stops intake and waits for queued jobs to finish or ctx to expire.
func (p *EvaluationPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("evaluation pool: drain: %w", ctx.Err())
	}
}

// Pending returns the number of queued jobs.
func (p *EvaluationPool) Pending() int {
	return len(p.jobs)
}

func (p *EvaluationPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for event := range p.jobs {
		metrics.SetEvaluationQueueDepth(len(p.jobs))
		p.run(ctx, id, event)
	}
}

func (p *EvaluationPool) run(ctx context.Context, id int, event telemetry.ReadingPersisted) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("evaluation panic",
				zap.Int("worker", id),
				zap.Int64("reading_id", event.ReadingID),
				zap.Any("panic", r),
			)
		}
	}()
	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()
	if err := p.consumer.Consume(jobCtx, event); err != nil {
		p.logger.Error("evaluation failed",
			zap.Int("worker", id),
			zap.Int64("reading_id", event.ReadingID),
			zap.Error(err),
		)
	}
}
