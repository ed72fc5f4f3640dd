package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	alarmapp "msm-monitoring/internal/alarms/application"
	"msm-monitoring/internal/observability/metrics"
)

// Clock provides time for cooldown tracking.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert events and delivers them through a channel.
// Repeated notifications for the same rule can be throttled.
type Notifier struct {
	name         string
	channel      Channel
	template     *Template
	clock        Clock
	logger       *zap.Logger
	mu           sync.Mutex
	sent         map[int64]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same rule.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithName labels the channel in metrics and logs.
func WithName(name string) Option {
	return func(n *Notifier) {
		if name != "" {
			n.name = name
		}
	}
}

// NewNotifier constructs a channel notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		name:     "webhook",
		channel:  channel,
		template: template,
		clock:    systemClock{},
		logger:   zap.NewNop(),
		sent:     make(map[int64]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements alarmapp.AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	content, err := n.template.Render(buildTemplateData(event))
	if err != nil {
		n.logger.Error("render alert notification failed", zap.Int64("alert_id", event.Alert.ID), zap.Error(err))
		metrics.IncNotification(n.name, metrics.ResultError)
		return
	}
	ruleID := event.Rule.ID
	if !n.shouldSend(ruleID, event.Alert.Message) {
		metrics.IncNotification(n.name, "suppressed")
		return
	}
	if err := n.channel.Send(ctx, Message{Event: event, Text: content}); err != nil {
		n.logger.Warn("alert notification failed",
			zap.String("channel", n.name),
			zap.Int64("alert_id", event.Alert.ID),
			zap.Int64("user_id", event.OwnerID),
			zap.Error(err),
		)
		metrics.IncNotification(n.name, metrics.ResultError)
		return
	}
	n.markSent(ruleID, event.Alert.Message)
	metrics.IncNotification(n.name, metrics.ResultSuccess)
}

func buildTemplateData(event alarmapp.AlertEvent) TemplateData {
	createdAt := event.Alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return TemplateData{
		AlertID:   event.Alert.ID,
		RuleID:    event.Rule.ID,
		Rule:      event.Rule.Label(),
		OwnerID:   event.OwnerID,
		Parameter: event.ParameterName,
		Unit:      event.Unit,
		Value:     fmt.Sprintf("%.2f", event.Value),
		Threshold: fmt.Sprintf("%s %s", event.Rule.Operator, strconv.FormatFloat(event.Rule.Threshold, 'f', -1, 64)),
		Message:   event.Alert.Message,
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}

func (n *Notifier) shouldSend(ruleID int64, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()

	n.mu.Lock()
	record, ok := n.sent[ruleID]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hashContent(content) && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(ruleID int64, content string) {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return
	}
	n.mu.Lock()
	n.sent[ruleID] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
