package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"msm-monitoring/internal/access"
	alarms "msm-monitoring/internal/alarms/domain"
	"msm-monitoring/internal/audit"
	"msm-monitoring/internal/auth"
	masterdata "msm-monitoring/internal/masterdata/domain"
	telemetry "msm-monitoring/internal/telemetry/domain"
)

type stubReadings struct {
	reading *telemetry.ReadingWithAncestry
	err     error
}

func (s stubReadings) GetWithAncestry(_ context.Context, id int64) (*telemetry.ReadingWithAncestry, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.reading == nil || s.reading.Reading.ID != id {
		return nil, nil
	}
	copied := *s.reading
	return &copied, nil
}

// memoryRules enforces the (user, parameter, operator, threshold) uniqueness like the real table.
type memoryRules struct {
	mu     sync.Mutex
	nextID int64
	rules  map[int64]alarms.MonitoringRule
}

func newMemoryRules(seed ...alarms.MonitoringRule) *memoryRules {
	m := &memoryRules{rules: make(map[int64]alarms.MonitoringRule)}
	for _, rule := range seed {
		m.rules[rule.ID] = rule
		if rule.ID > m.nextID {
			m.nextID = rule.ID
		}
	}
	return m
}

func (m *memoryRules) conflicts(rule alarms.MonitoringRule) bool {
	for id, existing := range m.rules {
		if id == rule.ID {
			continue
		}
		if existing.UserID == rule.UserID && existing.ParameterID == rule.ParameterID &&
			existing.Operator == rule.Operator && existing.Threshold == rule.Threshold {
			return true
		}
	}
	return false
}

func (m *memoryRules) Create(_ context.Context, rule *alarms.MonitoringRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts(*rule) {
		return alarms.ErrDuplicateRule
	}
	m.nextID++
	rule.ID = m.nextID
	rule.CreatedAt = time.Date(2026, time.January, 26, 9, 0, 0, 0, time.UTC)
	rule.UpdatedAt = rule.CreatedAt
	m.rules[rule.ID] = *rule
	return nil
}

func (m *memoryRules) Update(_ context.Context, rule *alarms.MonitoringRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[rule.ID]
	if !ok {
		return alarms.ErrNotFound
	}
	if m.conflicts(*rule) {
		return alarms.ErrDuplicateRule
	}
	rule.ParameterID = existing.ParameterID
	m.rules[rule.ID] = *rule
	return nil
}

func (m *memoryRules) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return alarms.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *memoryRules) GetByID(_ context.Context, id int64) (*alarms.MonitoringRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (m *memoryRules) ListByUser(_ context.Context, userID, parameterID int64) ([]alarms.MonitoringRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []alarms.MonitoringRule
	for _, rule := range m.rules {
		if rule.UserID == userID && (parameterID == 0 || rule.ParameterID == parameterID) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (m *memoryRules) ListActiveByParameter(_ context.Context, parameterID int64) ([]alarms.MonitoringRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []alarms.MonitoringRule
	for id := int64(1); id <= m.nextID; id++ {
		rule, ok := m.rules[id]
		if ok && rule.ParameterID == parameterID && rule.Active {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (m *memoryRules) countForParameter(parameterID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rule := range m.rules {
		if rule.ParameterID == parameterID {
			n++
		}
	}
	return n
}

type memoryAlerts struct {
	mu      sync.Mutex
	nextID  int64
	alerts  []alarms.Alert
	owners  map[int64]int64
	failFor map[int64]bool
}

func newMemoryAlerts() *memoryAlerts {
	return &memoryAlerts{owners: make(map[int64]int64), failFor: make(map[int64]bool)}
}

func (m *memoryAlerts) Create(_ context.Context, alert *alarms.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[alert.RuleID] {
		return errors.New("insert failed")
	}
	m.nextID++
	alert.ID = m.nextID
	alert.Message = alarms.TruncateMessage(alert.Message)
	m.alerts = append(m.alerts, *alert)
	return nil
}

func (m *memoryAlerts) GetOwned(_ context.Context, id int64) (*alarms.Alert, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, alert := range m.alerts {
		if alert.ID == id {
			copied := alert
			return &copied, m.owners[id], nil
		}
	}
	return nil, 0, nil
}

func (m *memoryAlerts) ListByUser(_ context.Context, query alarms.AlertQuery) ([]alarms.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []alarms.Alert
	for i := len(m.alerts) - 1; i >= 0; i-- {
		alert := m.alerts[i]
		if m.owners[alert.ID] != query.UserID {
			continue
		}
		if query.OnlyUnread && alert.IsRead {
			continue
		}
		out = append(out, alert)
	}
	return out, nil
}

func (m *memoryAlerts) MarkRead(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].IsRead = true
			return nil
		}
	}
	return alarms.ErrNotFound
}

func (m *memoryAlerts) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.alerts {
		if m.owners[m.alerts[i].ID] == userID && !m.alerts[i].IsRead {
			m.alerts[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *memoryAlerts) snapshot() []alarms.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]alarms.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []AlertEvent
}

func (r *recordingNotifier) Notify(_ context.Context, event AlertEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AlertEvent, len(r.events))
	copy(out, r.events)
	return out
}

type stubParameters map[int64]masterdata.Parameter

func (s stubParameters) GetParameter(_ context.Context, id int64) (*masterdata.Parameter, error) {
	param, ok := s[id]
	if !ok {
		return nil, nil
	}
	return &param, nil
}

// stubScopes grants access to the listed parameters for every actor.
type stubScopes struct {
	allowed map[int64]bool
	err     error
}

func (s stubScopes) Resolve(_ context.Context, _ auth.Actor) (access.Scope, error) {
	if s.err != nil {
		return access.None(), s.err
	}
	return access.Lines(12), nil
}

func (s stubScopes) CanAccessParameter(_ context.Context, _ access.Scope, parameterID int64) (bool, error) {
	return s.allowed[parameterID], nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func sampleReading(value float64) *telemetry.ReadingWithAncestry {
	return &telemetry.ReadingWithAncestry{
		Reading: telemetry.Reading{
			ID:          100,
			ParameterID: 7,
			Value:       value,
			Timestamp:   time.Date(2026, time.January, 26, 8, 0, 0, 0, time.UTC),
		},
		Ancestry: masterdata.Ancestry{
			Parameter: &masterdata.Parameter{ID: 7, ActuatorID: 5, TypeName: "Температура", Unit: "°C"},
			Actuator:  &masterdata.Actuator{ID: 5, AggregateID: 4, TypeName: "Электродвигатель"},
			Aggregate: &masterdata.Aggregate{ID: 4, LineID: 12, TypeName: "Клеть"},
			Line:      &masterdata.Line{ID: 12, ShopID: 1, Type: masterdata.LineFirst},
			Shop:      &masterdata.Shop{ID: 1, Name: "Цех 1"},
		},
	}
}
