package notify

import (
	"context"

	"go.uber.org/zap"

	alarmapp "msm-monitoring/internal/alarms/application"
	"msm-monitoring/internal/observability/metrics"
)

// LogNotifier writes alert events to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements alarmapp.AlertNotifier.
func (l *LogNotifier) Notify(_ context.Context, event alarmapp.AlertEvent) {
	if l == nil {
		return
	}
	l.logger.Info("alert created",
		zap.Int64("alert_id", event.Alert.ID),
		zap.Int64("rule_id", event.Rule.ID),
		zap.Int64("user_id", event.OwnerID),
		zap.Int64("parameter_data_id", event.Alert.ReadingID),
		zap.Float64("value", event.Value),
		zap.String("message", event.Alert.Message),
	)
	metrics.IncNotification("log", metrics.ResultSuccess)
}
