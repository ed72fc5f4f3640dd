package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	alarmapp "msm-monitoring/internal/alarms/application"
	"msm-monitoring/internal/eventing"
	"msm-monitoring/internal/observability/metrics"
)

// DefaultAlertTopic is the topic consumed by the notification service.
const DefaultAlertTopic = "alert_notification"

const (
	alertSeverityWarning = 2
	alertStatusActive    = "active"
)

// MessageWriter is the subset of kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AlertPayload is the body of an alert.created event.
type AlertPayload struct {
	AlertID    string    `json:"alert_id"`
	RuleID     int64     `json:"rule_id"`
	AlertName  string    `json:"alert_name"`
	Severity   int       `json:"severity"`
	Status     string    `json:"status"`
	UserID     int64     `json:"user_id"`
	Message    string    `json:"message"`
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	Operator   string    `json:"operator"`
	ReadingID  int64     `json:"parameter_data_id"`
	CreatedAt  time.Time `json:"alert_timestamp"`
}

// KafkaNotifier publishes alert events to a Kafka topic keyed by owner id.
type KafkaNotifier struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaWriter builds a writer for the alert topic.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka notifier: no brokers")
	}
	if topic == "" {
		topic = DefaultAlertTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaNotifier constructs a notifier over writer.
func NewKafkaNotifier(writer MessageWriter, logger *zap.Logger) (*KafkaNotifier, error) {
	if writer == nil {
		return nil, errors.New("kafka notifier: nil writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{writer: writer, logger: logger}, nil
}

// Notify implements alarmapp.AlertNotifier.
func (k *KafkaNotifier) Notify(ctx context.Context, event alarmapp.AlertEvent) {
	if k == nil || k.writer == nil {
		return
	}
	msg, err := BuildAlertMessage(ctx, event)
	if err != nil {
		k.logger.Error("build alert event failed", zap.Int64("alert_id", event.Alert.ID), zap.Error(err))
		metrics.IncNotification("kafka", metrics.ResultError)
		return
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Warn("publish alert event failed",
			zap.Int64("alert_id", event.Alert.ID),
			zap.Int64("user_id", event.OwnerID),
			zap.Error(err),
		)
		metrics.IncNotification("kafka", metrics.ResultError)
		return
	}
	metrics.IncNotification("kafka", metrics.ResultSuccess)
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// BuildAlertMessage wraps the event in an envelope and encodes it as a Kafka message.
func BuildAlertMessage(ctx context.Context, event alarmapp.AlertEvent) (kafka.Message, error) {
	createdAt := event.Alert.CreatedAt.UTC()
	payload := AlertPayload{
		AlertID:    strconv.FormatInt(event.Alert.ID, 10),
		RuleID:     event.Rule.ID,
		AlertName:  event.Rule.Label(),
		Severity:   alertSeverityWarning,
		Status:     alertStatusActive,
		UserID:     event.OwnerID,
		Message:    event.Alert.Message,
		MetricName: event.ParameterName,
		Value:      event.Value,
		Threshold:  event.Rule.Threshold,
		Operator:   string(event.Rule.Operator),
		ReadingID:  event.Alert.ReadingID,
		CreatedAt:  createdAt,
	}
	meta := eventing.MetaFromContext(ctx)
	meta.OccurredAt = createdAt
	env, err := eventing.BuildEnvelope(eventing.EventAlertCreated, payload, meta)
	if err != nil {
		return kafka.Message{}, err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OwnerID, 10)),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	}, nil
}
