package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	alarmapp "msm-monitoring/internal/alarms/application"
	alarms "msm-monitoring/internal/alarms/domain"
	telemetry "msm-monitoring/internal/telemetry/domain"
)

const (
	// DefaultLiveDataChannel carries stored readings to every API instance.
	DefaultLiveDataChannel = "msm:live_data"
	// DefaultAlertChannel carries created alerts to every API instance.
	DefaultAlertChannel = "msm:alerts"

	publishTimeout = 2 * time.Second
)

// LiveMessage is the fan-out payload pushed to subscribers.
type LiveMessage struct {
	ParameterID int64     `json:"parameter_id"`
	Value       float64   `json:"parameter_value"`
	Timestamp   time.Time `json:"data_timestamp"`
	ReadingID   int64     `json:"parameter_data_id"`
}

// NewLiveMessage builds the fan-out payload for a stored reading.
func NewLiveMessage(reading telemetry.Reading) LiveMessage {
	return LiveMessage{
		ParameterID: reading.ParameterID,
		Value:       reading.Value,
		Timestamp:   reading.Timestamp.UTC(),
		ReadingID:   reading.ID,
	}
}

// RedisPublisher broadcasts stored readings on a Pub/Sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher constructs a reading publisher.
func NewRedisPublisher(client *redis.Client, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("live publisher: nil redis client")
	}
	if strings.TrimSpace(channel) == "" {
		channel = DefaultLiveDataChannel
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// PublishReading broadcasts one reading.
func (p *RedisPublisher) PublishReading(ctx context.Context, reading telemetry.Reading) error {
	payload, err := json.Marshal(NewLiveMessage(reading))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// LocalPublisher delivers stored readings straight to an in-process registry.
type LocalPublisher struct {
	registry *Registry
}

// NewLocalPublisher constructs an in-process publisher.
func NewLocalPublisher(registry *Registry) *LocalPublisher {
	return &LocalPublisher{registry: registry}
}

// PublishReading delivers one reading.
func (p *LocalPublisher) PublishReading(_ context.Context, reading telemetry.Reading) error {
	payload, err := json.Marshal(NewLiveMessage(reading))
	if err != nil {
		return err
	}
	p.registry.Publish(reading.ParameterID, payload)
	return nil
}

// MessageSink consumes relayed Pub/Sub payloads.
type MessageSink interface {
	Deliver(ctx context.Context, payload []byte) error
}

// Subscriber relays one Pub/Sub channel into a sink.
type Subscriber struct {
	client  *redis.Client
	channel string
	sink    MessageSink
	logger  *zap.Logger
}

// NewSubscriber constructs a relay subscriber.
func NewSubscriber(client *redis.Client, channel string, sink MessageSink, logger *zap.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("live subscriber: nil redis client")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("live subscriber: empty channel")
	}
	if sink == nil {
		return nil, errors.New("live subscriber: nil sink")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{client: client, channel: channel, sink: sink, logger: logger}, nil
}

// Run relays messages until ctx is cancelled. The client reconnects the subscription on its own.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.logger.Info("live relay subscribed", zap.String("channel", s.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := s.sink.Deliver(ctx, []byte(msg.Payload)); err != nil {
				s.logger.Warn("relay delivery failed", zap.String("channel", s.channel), zap.Error(err))
			}
		}
	}
}

// RegistrySink routes relayed readings to their parameter's subscribers.
type RegistrySink struct {
	registry *Registry
}

// NewRegistrySink constructs a registry sink.
func NewRegistrySink(registry *Registry) *RegistrySink {
	return &RegistrySink{registry: registry}
}

// Deliver publishes payload to the subscribers of its parameter_id.
func (s *RegistrySink) Deliver(_ context.Context, payload []byte) error {
	var head struct {
		ParameterID int64 `json:"parameter_id"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return err
	}
	if head.ParameterID <= 0 {
		return errors.New("live relay: missing parameter_id")
	}
	s.registry.Publish(head.ParameterID, payload)
	return nil
}

// AlertMessage is the cross-process alert broadcast.
type AlertMessage struct {
	OwnerID int64        `json:"owner_id"`
	Alert   alarms.Alert `json:"alert"`
}

// AlertPublisher broadcasts created alerts on a Pub/Sub channel.
type AlertPublisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewAlertPublisher constructs an alert publisher.
func NewAlertPublisher(client *redis.Client, channel string, logger *zap.Logger) (*AlertPublisher, error) {
	if client == nil {
		return nil, errors.New("alert publisher: nil redis client")
	}
	if strings.TrimSpace(channel) == "" {
		channel = DefaultAlertChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertPublisher{client: client, channel: channel, logger: logger}, nil
}

// Notify implements alarmapp.AlertNotifier.
func (p *AlertPublisher) Notify(ctx context.Context, event alarmapp.AlertEvent) {
	payload, err := json.Marshal(AlertMessage{OwnerID: event.OwnerID, Alert: event.Alert})
	if err != nil {
		p.logger.Error("alert broadcast encode failed", zap.Int64("alert_id", event.Alert.ID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn("alert broadcast failed", zap.Int64("alert_id", event.Alert.ID), zap.Error(err))
	}
}

// AlertSink hands relayed alerts to a local notifier such as the SSE broker.
type AlertSink struct {
	notifier alarmapp.AlertNotifier
}

// NewAlertSink constructs an alert sink.
func NewAlertSink(notifier alarmapp.AlertNotifier) *AlertSink {
	return &AlertSink{notifier: notifier}
}

// Deliver decodes an AlertMessage and notifies locally.
func (s *AlertSink) Deliver(ctx context.Context, payload []byte) error {
	var msg AlertMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if msg.OwnerID <= 0 {
		return errors.New("alert relay: missing owner_id")
	}
	s.notifier.Notify(ctx, alarmapp.AlertEvent{OwnerID: msg.OwnerID, Alert: msg.Alert})
	return nil
}

var (
	_ alarmapp.AlertNotifier = (*AlertPublisher)(nil)
	_ MessageSink            = (*RegistrySink)(nil)
	_ MessageSink            = (*AlertSink)(nil)
)
