package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "msm_"

	resultSuccess = "success"
	resultError   = "error"

	ingestResultAccepted = "accepted"
	ingestResultRejected = "rejected"
	ingestResultRetry    = "retry"
)

var (
	registerOnce sync.Once

	ingestMessages *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	evaluationTotal   *prometheus.CounterVec
	evaluationLatency prometheus.Histogram
	evaluationQueue   prometheus.Gauge

	alertsCreated prometheus.Counter
	notifications *prometheus.CounterVec

	liveConnections prometheus.Gauge
	liveDeliveries  *prometheus.CounterVec

	ruleOperations *prometheus.CounterVec
)

// Init registers process metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_messages_total",
				Help: "Total inbound readings by outcome",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Validate and persist latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		evaluationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_total",
				Help: "Total rule evaluations by result",
			},
			[]string{"result"},
		)
		evaluationLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Rule evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		evaluationQueue = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "evaluation_queue_depth",
				Help: "Readings waiting for evaluation",
			},
		)

		alertsCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_created_total",
				Help: "Total alerts persisted",
			},
		)
		notifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notification attempts by channel and result",
			},
			[]string{"channel", "result"},
		)

		liveConnections = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_connections",
				Help: "Registered live subscribers",
			},
		)
		liveDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_deliveries_total",
				Help: "Total live fan-out sends by result",
			},
			[]string{"result"},
		)

		ruleOperations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_operations_total",
				Help: "Total rule CRUD operations by op and result",
			},
			[]string{"op", "result"},
		)

		prometheus.MustRegister(
			ingestMessages,
			ingestLatency,
			evaluationTotal,
			evaluationLatency,
			evaluationQueue,
			alertsCreated,
			notifications,
			liveConnections,
			liveDeliveries,
			ruleOperations,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records one inbound message outcome.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = "unknown"
	}
	if ingestMessages != nil {
		ingestMessages.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveEvaluation records one evaluation pass.
func ObserveEvaluation(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if evaluationTotal != nil {
		evaluationTotal.WithLabelValues(result).Inc()
	}
	if evaluationLatency != nil {
		evaluationLatency.Observe(duration.Seconds())
	}
}

// IncEvaluationDropped counts readings that never reached the evaluator.
func IncEvaluationDropped() {
	if evaluationTotal != nil {
		evaluationTotal.WithLabelValues("dropped").Inc()
	}
}

// SetEvaluationQueueDepth publishes the pending evaluation count.
func SetEvaluationQueueDepth(depth int) {
	if evaluationQueue != nil {
		evaluationQueue.Set(float64(depth))
	}
}

// IncAlertsCreated counts persisted alerts.
func IncAlertsCreated() {
	if alertsCreated != nil {
		alertsCreated.Inc()
	}
}

// IncNotification counts a notification attempt.
func IncNotification(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = "unknown"
	}
	if notifications != nil {
		notifications.WithLabelValues(channel, result).Inc()
	}
}

// AddLiveConnections moves the live subscriber gauge by delta.
func AddLiveConnections(delta int) {
	if liveConnections != nil {
		liveConnections.Add(float64(delta))
	}
}

// IncLiveDelivery counts a fan-out send.
func IncLiveDelivery(result string) {
	if result == "" {
		result = "unknown"
	}
	if liveDeliveries != nil {
		liveDeliveries.WithLabelValues(result).Inc()
	}
}

// IncRuleOperation counts a rule CRUD call.
func IncRuleOperation(op, result string) {
	if op == "" {
		op = "unknown"
	}
	if result == "" {
		result = "unknown"
	}
	if ruleOperations != nil {
		ruleOperations.WithLabelValues(op, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	IngestAccepted = ingestResultAccepted
	IngestRejected = ingestResultRejected
	IngestRetry    = ingestResultRetry
)
