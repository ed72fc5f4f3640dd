package application

import (
	"context"
	"time"

	alarms "msm-monitoring/internal/alarms/domain"
)

// AlertNotifier delivers created alerts to their rule owners.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent describes one persisted alert for outbound notification.
type AlertEvent struct {
	Alert         alarms.Alert
	Rule          alarms.MonitoringRule
	OwnerID       int64
	ParameterName string
	Unit          string
	Value         float64
}

// NotifierFunc adapts a function to AlertNotifier.
type NotifierFunc func(ctx context.Context, event AlertEvent)

// Notify implements AlertNotifier.
func (f NotifierFunc) Notify(ctx context.Context, event AlertEvent) {
	if f != nil {
		f(ctx, event)
	}
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
