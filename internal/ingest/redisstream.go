package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	eventingpg "msm-monitoring/internal/eventing/infrastructure/postgres"
)

const (
	// PayloadField is the stream entry field carrying the JSON reading.
	PayloadField = "data"

	deadLetterSource = "redis-stream"

	defaultBatch      = 64
	defaultBlock      = 5 * time.Second
	defaultOpTimeout  = 5 * time.Second
	initialBackoff    = time.Second
	maxReadBackoff    = 30 * time.Second
	defaultRetryPause = time.Second
	// defaultMaxDeliveries bounds how often one entry is handed to the pipeline before it is dead-lettered.
	defaultMaxDeliveries = 10
	replayFromStart      = "0"
)

// ErrDeliveriesExhausted marks an entry dead-lettered after too many failed deliveries.
var ErrDeliveriesExhausted = errors.New("ingest: delivery attempts exhausted")

// Handler processes a delivery.
type Handler interface {
	Handle(ctx context.Context, delivery Delivery) (Outcome, error)
}

// DeadLetterRecorder keeps rejected payloads for inspection.
type DeadLetterRecorder interface {
	Record(ctx context.Context, letter eventingpg.DeadLetter) error
}

// StreamConfig names the stream topology.
type StreamConfig struct {
	Stream           string
	Group            string
	Consumer         string
	DeadLetterStream string
	Batch            int64
	Block            time.Duration
	Parallelism      int
	// MaxDeliveries is the delivery count after which a pending entry is dead-lettered.
	MaxDeliveries int64
}

// StreamConsumer reads readings from a Redis stream consumer group.
type StreamConsumer struct {
	client  *redis.Client
	handler Handler
	cfg     StreamConfig
	dlq     DeadLetterRecorder
	logger  *zap.Logger

	opTimeout  time.Duration
	retryPause time.Duration

	// Replay state. Only the polling goroutine touches it.
	replay        bool
	replayCursor  string
	replayAt      time.Time
	replayRetried bool
	freshOwed     bool
}

// StreamOption configures a StreamConsumer.
type StreamOption func(*StreamConsumer)

// WithDeadLetterRecorder persists rejected payloads.
func WithDeadLetterRecorder(dlq DeadLetterRecorder) StreamOption {
	return func(c *StreamConsumer) {
		c.dlq = dlq
	}
}

// WithStreamLogger sets the consumer logger.
func WithStreamLogger(logger *zap.Logger) StreamOption {
	return func(c *StreamConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryPause sets the wait before replaying pending entries.
func WithRetryPause(d time.Duration) StreamOption {
	return func(c *StreamConsumer) {
		if d >= 0 {
			c.retryPause = d
		}
	}
}

// NewStreamConsumer constructs a consumer.
func NewStreamConsumer(client *redis.Client, handler Handler, cfg StreamConfig, opts ...StreamOption) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("stream consumer: nil redis client")
	}
	if handler == nil {
		return nil, errors.New("stream consumer: nil handler")
	}
	if strings.TrimSpace(cfg.Stream) == "" || strings.TrimSpace(cfg.Group) == "" || strings.TrimSpace(cfg.Consumer) == "" {
		return nil, errors.New("stream consumer: stream, group and consumer are required")
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = defaultMaxDeliveries
	}
	c := &StreamConsumer{
		client:       client,
		handler:      handler,
		cfg:          cfg,
		logger:       zap.NewNop(),
		opTimeout:    defaultOpTimeout,
		retryPause:   defaultRetryPause,
		replayCursor: replayFromStart,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureGroup creates the stream and consumer group when missing.
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("stream consumer: create group: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled. Read failures back off exponentially.
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info("stream consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("consumer_group", c.cfg.Group),
		zap.String("consumer_name", c.cfg.Consumer),
	)
	// Entries delivered before a restart but never acknowledged.
	c.replay = true
	c.replayAt = time.Time{}

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			c.logger.Info("stream consumer stopped", zap.String("stream", c.cfg.Stream))
			return nil
		}
		if err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("stream read failed", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				continue
			}
			backoff *= 2
			if backoff > maxReadBackoff {
				backoff = maxReadBackoff
			}
			continue
		}
		backoff = initialBackoff
	}
}

// Poll reads and processes one batch. It must not be called concurrently.
//
// Pending entries are replayed page by page once the retry pause has passed. A replay pass that
// still leaves failures is always followed by a read of new entries, so a failing entry never
// holds back the rest of the stream. Entries delivered more than MaxDeliveries times are
// dead-lettered.
func (c *StreamConsumer) Poll(ctx context.Context) error {
	if c.replayDue() {
		return c.pollPending(ctx)
	}
	return c.pollNew(ctx)
}

func (c *StreamConsumer) replayDue() bool {
	return c.replay && !c.freshOwed && !time.Now().Before(c.replayAt)
}

func (c *StreamConsumer) pollNew(ctx context.Context) error {
	c.freshOwed = false
	block := c.cfg.Block
	if c.replay {
		// Wake up in time for the scheduled replay.
		if wait := time.Until(c.replayAt); wait < block {
			block = wait
		}
		if block < time.Millisecond {
			block = -1
		}
	}
	messages, err := c.read(ctx, ">", block)
	if err != nil || len(messages) == 0 {
		return err
	}
	if retried := c.process(ctx, messages); retried > 0 && !c.replay {
		c.scheduleReplay()
	}
	return nil
}

func (c *StreamConsumer) pollPending(ctx context.Context) error {
	messages, err := c.read(ctx, c.replayCursor, -1)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		c.finishReplay()
		return nil
	}

	live := c.dropExhausted(ctx, messages)
	if retried := c.process(ctx, live); retried > 0 {
		c.replayRetried = true
	}
	if int64(len(messages)) < c.cfg.Batch {
		c.finishReplay()
		return nil
	}
	c.replayCursor = messages[len(messages)-1].ID
	return nil
}

// finishReplay ends a pass over the pending list and schedules the next one if anything failed.
func (c *StreamConsumer) finishReplay() {
	c.replayCursor = replayFromStart
	if !c.replayRetried {
		c.replay = false
		return
	}
	c.replayRetried = false
	c.scheduleReplay()
	c.freshOwed = true
}

func (c *StreamConsumer) scheduleReplay() {
	c.replay = true
	c.replayAt = time.Now().Add(c.retryPause)
}

func (c *StreamConsumer) read(ctx context.Context, start string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, start},
		Count:    c.cfg.Batch,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			if groupErr := c.EnsureGroup(ctx); groupErr != nil {
				return nil, groupErr
			}
		}
		return nil, err
	}
	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	return messages, nil
}

// dropExhausted dead-letters replayed entries past MaxDeliveries and returns the rest.
func (c *StreamConsumer) dropExhausted(ctx context.Context, messages []redis.XMessage) []redis.XMessage {
	counts, err := c.deliveryCounts(ctx, messages)
	if err != nil {
		c.logger.Warn("pending delivery counts unavailable", zap.Error(err))
		return messages
	}
	live := messages[:0:0]
	for _, msg := range messages {
		deliveries := counts[msg.ID]
		if deliveries <= c.cfg.MaxDeliveries {
			live = append(live, msg)
			continue
		}
		cause := fmt.Errorf("%w: %d deliveries", ErrDeliveriesExhausted, deliveries)
		c.logger.Warn("reading dead-lettered after repeated failures",
			zap.String("message_id", msg.ID),
			zap.Int64("deliveries", deliveries),
		)
		c.deadLetter(ctx, msg.ID, payloadOf(msg), cause)
		if ackErr := c.ack(ctx, msg.ID); ackErr != nil {
			c.logger.Warn("ack of exhausted message failed", zap.String("message_id", msg.ID), zap.Error(ackErr))
		}
	}
	return live
}

func (c *StreamConsumer) deliveryCounts(ctx context.Context, messages []redis.XMessage) (map[string]int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	pending, err := c.client.XPendingExt(opCtx, &redis.XPendingExtArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Start:    messages[0].ID,
		End:      messages[len(messages)-1].ID,
		Count:    int64(len(messages)),
		Consumer: c.cfg.Consumer,
	}).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts, nil
}

// process handles a batch with bounded parallelism and returns the retry count.
// In-flight messages finish even when ctx is cancelled.
func (c *StreamConsumer) process(ctx context.Context, messages []redis.XMessage) int {
	ctx = context.WithoutCancel(ctx)
	var retried atomic.Int32
	group := errgroup.Group{}
	group.SetLimit(c.cfg.Parallelism)
	for _, msg := range messages {
		msg := msg
		group.Go(func() error {
			if c.handleMessage(ctx, msg) == Retry {
				retried.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()
	return int(retried.Load())
}

func (c *StreamConsumer) handleMessage(ctx context.Context, msg redis.XMessage) Outcome {
	payload := payloadOf(msg)
	outcome, err := c.handler.Handle(ctx, Delivery{
		ID:      msg.ID,
		Payload: payload,
		Ack: func(ctx context.Context) error {
			return c.ack(ctx, msg.ID)
		},
	})
	switch outcome {
	case Ack:
	case Reject:
		c.logger.Warn("reading rejected",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		c.deadLetter(ctx, msg.ID, payload, err)
		if ackErr := c.ack(ctx, msg.ID); ackErr != nil {
			c.logger.Warn("ack of rejected message failed", zap.String("message_id", msg.ID), zap.Error(ackErr))
		}
	default:
		c.logger.Error("reading left pending for retry",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	return outcome
}

func (c *StreamConsumer) ack(ctx context.Context, id string) error {
	ackCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.client.XAck(ackCtx, c.cfg.Stream, c.cfg.Group, id).Err()
}

func (c *StreamConsumer) deadLetter(ctx context.Context, id string, payload []byte, cause error) {
	reason := "rejected"
	if cause != nil {
		reason = cause.Error()
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if c.cfg.DeadLetterStream != "" {
		err := c.client.XAdd(opCtx, &redis.XAddArgs{
			Stream: c.cfg.DeadLetterStream,
			Values: map[string]interface{}{
				"source_stream": c.cfg.Stream,
				"message_id":    id,
				"reason":        reason,
				PayloadField:    string(payload),
			},
		}).Err()
		if err != nil {
			c.logger.Error("dead letter stream append failed", zap.String("message_id", id), zap.Error(err))
		}
	}
	if c.dlq != nil {
		err := c.dlq.Record(opCtx, eventingpg.DeadLetter{
			Source:    deadLetterSource + ":" + c.cfg.Stream,
			MessageID: id,
			Payload:   payload,
			Reason:    reason,
		})
		if err != nil {
			c.logger.Error("dead letter record failed", zap.String("message_id", id), zap.Error(err))
		}
	}
}

func payloadOf(msg redis.XMessage) []byte {
	switch v := msg.Values[PayloadField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
