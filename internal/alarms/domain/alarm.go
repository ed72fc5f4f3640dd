package alarms

import (
	"context"
	"time"
	"unicode/utf8"
)

// MaxAlertMessageLength bounds Alert.Message in characters.
const MaxAlertMessageLength = 150

// Alert records one rule firing against one reading. Only IsRead changes after creation.
type Alert struct {
	ID        int64     `json:"alert_id"`
	RuleID    int64     `json:"rule_id"`
	ReadingID int64     `json:"parameter_data_id"`
	CreatedAt time.Time `json:"alert_timestamp"`
	Message   string    `json:"alert_message"`
	IsRead    bool      `json:"is_read"`
}

// TruncateMessage cuts a message to MaxAlertMessageLength characters.
func TruncateMessage(message string) string {
	if utf8.RuneCountInString(message) <= MaxAlertMessageLength {
		return message
	}
	runes := []rune(message)
	return string(runes[:MaxAlertMessageLength])
}

// AlertQuery filters an owner's alert inbox.
type AlertQuery struct {
	UserID     int64
	OnlyUnread bool
	Limit      int
	Offset     int
}

// RuleRepository persists monitoring rules.
type RuleRepository interface {
	Create(ctx context.Context, rule *MonitoringRule) error
	Update(ctx context.Context, rule *MonitoringRule) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*MonitoringRule, error)
	ListByUser(ctx context.Context, userID int64, parameterID int64) ([]MonitoringRule, error)
	ListActiveByParameter(ctx context.Context, parameterID int64) ([]MonitoringRule, error)
}

// AlertRepository persists alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *Alert) error
	GetOwned(ctx context.Context, id int64) (*Alert, int64, error)
	ListByUser(ctx context.Context, query AlertQuery) ([]Alert, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}
