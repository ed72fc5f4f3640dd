package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	alarms "msm-monitoring/internal/alarms/domain"
	"msm-monitoring/internal/observability/metrics"
	telemetry "msm-monitoring/internal/telemetry/domain"
)

const defaultNotifyTimeout = 10 * time.Second

// ReadingLoader loads a persisted reading with its equipment ancestry.
type ReadingLoader interface {
	GetWithAncestry(ctx context.Context, id int64) (*telemetry.ReadingWithAncestry, error)
}

// ActiveRuleLister lists the active rules on a parameter.
type ActiveRuleLister interface {
	ListActiveByParameter(ctx context.Context, parameterID int64) ([]alarms.MonitoringRule, error)
}

// AlertCreator persists alerts.
type AlertCreator interface {
	Create(ctx context.Context, alert *alarms.Alert) error
}

// Evaluator checks a persisted reading against its parameter's active rules.
type Evaluator struct {
	readings      ReadingLoader
	rules         ActiveRuleLister
	alerts        AlertCreator
	notifier      AlertNotifier
	clock         Clock
	logger        *zap.Logger
	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// EvaluatorOption customizes the evaluator.
type EvaluatorOption func(*Evaluator)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlertNotifier) EvaluatorOption {
	return func(e *Evaluator) {
		e.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNotifyTimeout bounds each notification dispatch.
func WithNotifyTimeout(timeout time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if timeout > 0 {
			e.notifyTimeout = timeout
		}
	}
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(readings ReadingLoader, rules ActiveRuleLister, alertRepo AlertCreator, opts ...EvaluatorOption) (*Evaluator, error) {
	if readings == nil {
		return nil, errors.New("alarms: nil reading loader")
	}
	if rules == nil || alertRepo == nil {
		return nil, errors.New("alarms: nil repository")
	}
	e := &Evaluator{
		readings:      readings,
		rules:         rules,
		alerts:        alertRepo,
		clock:         systemClock{},
		logger:        zap.NewNop(),
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate runs every active rule of the reading's parameter and persists one
// alert per violation. Notifications go out after all alerts are stored and
// never block the caller. The returned error covers load failures only; a
// failure on one rule is logged and the rest still run.
func (e *Evaluator) Evaluate(ctx context.Context, readingID int64) error {
	if e == nil {
		return errors.New("alarms: nil evaluator")
	}
	started := time.Now()
	created, err := e.evaluate(ctx, readingID)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveEvaluation(result, time.Since(started))
	if len(created) > 0 {
		e.dispatch(ctx, created)
	}
	return err
}

// Wait blocks until in-flight notification dispatches finish.
func (e *Evaluator) Wait() {
	if e == nil {
		return
	}
	e.pending.Wait()
}

func (e *Evaluator) evaluate(ctx context.Context, readingID int64) ([]AlertEvent, error) {
	reading, err := e.readings.GetWithAncestry(ctx, readingID)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		e.logger.Warn("reading not found for evaluation", zap.Int64("parameter_data_id", readingID))
		return nil, nil
	}

	rules, err := e.rules.ListActiveByParameter(ctx, reading.Reading.ParameterID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	value := reading.Reading.Value
	var created []AlertEvent
	for _, rule := range rules {
		if !rule.Active || !rule.Operator.Violated(value, rule.Threshold) {
			continue
		}
		alert := &alarms.Alert{
			RuleID:    rule.ID,
			ReadingID: reading.Reading.ID,
			CreatedAt: e.clock.Now().UTC(),
			Message:   RenderAlertMessage(reading.Ancestry, rule, value),
		}
		if err := e.alerts.Create(ctx, alert); err != nil {
			e.logger.Error("create alert failed",
				zap.Int64("rule_id", rule.ID),
				zap.Int64("parameter_data_id", reading.Reading.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.IncAlertsCreated()
		created = append(created, AlertEvent{
			Alert:         *alert,
			Rule:          rule,
			OwnerID:       rule.UserID,
			ParameterName: reading.Ancestry.ParameterType(),
			Unit:          reading.Ancestry.Unit(),
			Value:         value,
		})
	}
	return created, nil
}

func (e *Evaluator) dispatch(ctx context.Context, events []AlertEvent) {
	if e.notifier == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("alert notifier panicked", zap.Any("panic", r))
			}
		}()
		for _, event := range events {
			notifyCtx, cancel := context.WithTimeout(base, e.notifyTimeout)
			e.notifier.Notify(notifyCtx, event)
			cancel()
		}
	}()
}
