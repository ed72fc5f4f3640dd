package notify

import (
	"context"

	alarmapp "msm-monitoring/internal/alarms/application"
)

// MultiNotifier dispatches alert events to multiple notifiers.
type MultiNotifier struct {
	notifiers []alarmapp.AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil entries are dropped.
func NewMultiNotifier(notifiers ...alarmapp.AlertNotifier) *MultiNotifier {
	kept := make([]alarmapp.AlertNotifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			kept = append(kept, notifier)
		}
	}
	return &MultiNotifier{notifiers: kept}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event alarmapp.AlertEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		notifier.Notify(ctx, event)
	}
}

// Len returns the number of wired notifiers.
func (m *MultiNotifier) Len() int {
	if m == nil {
		return 0
	}
	return len(m.notifiers)
}
