package application

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"msm-monitoring/internal/access"
	alarms "msm-monitoring/internal/alarms/domain"
	"msm-monitoring/internal/audit"
	"msm-monitoring/internal/auth"
	masterdata "msm-monitoring/internal/masterdata/domain"
	"msm-monitoring/internal/observability/metrics"
)

// ParameterReader loads parameters from the equipment tree.
type ParameterReader interface {
	GetParameter(ctx context.Context, id int64) (*masterdata.Parameter, error)
}

// ScopeChecker resolves an actor's scope and checks parameter access.
type ScopeChecker interface {
	Resolve(ctx context.Context, actor auth.Actor) (access.Scope, error)
	CanAccessParameter(ctx context.Context, scope access.Scope, parameterID int64) (bool, error)
}

// CreateRuleInput carries the fields of a new rule.
type CreateRuleInput struct {
	ParameterID int64
	Name        string
	Operator    alarms.Operator
	Threshold   float64
	Active      *bool
}

// UpdateRuleInput carries a partial rule update. Nil fields are left untouched.
type UpdateRuleInput struct {
	ParameterID *int64
	Name        *string
	Operator    *alarms.Operator
	Threshold   *float64
	Active      *bool
}

// RuleService manages monitoring rules on behalf of authenticated actors.
type RuleService struct {
	rules  alarms.RuleRepository
	params ParameterReader
	scopes ScopeChecker
	admins auth.AdminTitles
	audit  audit.Logger
	logger *zap.Logger
}

// RuleServiceOption customizes the rule service.
type RuleServiceOption func(*RuleService)

// WithAuditLogger records rule changes.
func WithAuditLogger(logger audit.Logger) RuleServiceOption {
	return func(s *RuleService) {
		s.audit = logger
	}
}

// WithAdminTitles sets the job titles allowed to manage any user's rules.
func WithAdminTitles(admins auth.AdminTitles) RuleServiceOption {
	return func(s *RuleService) {
		s.admins = admins
	}
}

// WithRuleLogger assigns a logger.
func WithRuleLogger(logger *zap.Logger) RuleServiceOption {
	return func(s *RuleService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRuleService constructs a rule service.
func NewRuleService(rules alarms.RuleRepository, params ParameterReader, scopes ScopeChecker, opts ...RuleServiceOption) (*RuleService, error) {
	if rules == nil {
		return nil, errors.New("rules: nil repository")
	}
	if params == nil {
		return nil, errors.New("rules: nil parameter reader")
	}
	if scopes == nil {
		return nil, errors.New("rules: nil scope checker")
	}
	s := &RuleService{
		rules:  rules,
		params: params,
		scopes: scopes,
		admins: auth.NewAdminTitles(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create stores a rule owned by the actor. The parameter must exist and be
// inside the actor's scope.
func (s *RuleService) Create(ctx context.Context, actor auth.Actor, input CreateRuleInput) (*alarms.MonitoringRule, error) {
	rule, err := s.create(ctx, actor, input)
	s.observe("create", err)
	return rule, err
}

func (s *RuleService) create(ctx context.Context, actor auth.Actor, input CreateRuleInput) (*alarms.MonitoringRule, error) {
	if actor.ID <= 0 {
		return nil, auth.ErrUnauthorized
	}
	if err := s.ensureParameter(ctx, actor, input.ParameterID); err != nil {
		return nil, err
	}
	active := true
	if input.Active != nil {
		active = *input.Active
	}
	rule := &alarms.MonitoringRule{
		UserID:      actor.ID,
		ParameterID: input.ParameterID,
		Name:        strings.TrimSpace(input.Name),
		Operator:    input.Operator,
		Threshold:   input.Threshold,
		Active:      active,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionRuleCreate, rule)
	return rule, nil
}

// Get returns a rule visible to the actor: its own, or any rule for admins.
func (s *RuleService) Get(ctx context.Context, actor auth.Actor, id int64) (*alarms.MonitoringRule, error) {
	return s.load(ctx, actor, id)
}

// List returns the actor's rules, narrowed to a parameter when parameterID > 0.
func (s *RuleService) List(ctx context.Context, actor auth.Actor, parameterID int64) ([]alarms.MonitoringRule, error) {
	if actor.ID <= 0 {
		return nil, auth.ErrUnauthorized
	}
	rules, err := s.rules.ListByUser(ctx, actor.ID, parameterID)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []alarms.MonitoringRule{}
	}
	return rules, nil
}

// Update applies a partial update. The parameter binding cannot change.
func (s *RuleService) Update(ctx context.Context, actor auth.Actor, id int64, input UpdateRuleInput) (*alarms.MonitoringRule, error) {
	rule, err := s.update(ctx, actor, id, input)
	s.observe("update", err)
	return rule, err
}

func (s *RuleService) update(ctx context.Context, actor auth.Actor, id int64, input UpdateRuleInput) (*alarms.MonitoringRule, error) {
	rule, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if input.ParameterID != nil && *input.ParameterID != rule.ParameterID {
		return nil, alarms.ErrParameterChange
	}
	if input.Name != nil {
		rule.Name = strings.TrimSpace(*input.Name)
	}
	if input.Operator != nil {
		rule.Operator = *input.Operator
	}
	if input.Threshold != nil {
		rule.Threshold = *input.Threshold
	}
	if input.Active != nil {
		rule.Active = *input.Active
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionRuleUpdate, rule)
	return rule, nil
}

// Delete removes a rule and, through the store, its alerts.
func (s *RuleService) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	err := s.delete(ctx, actor, id)
	s.observe("delete", err)
	return err
}

func (s *RuleService) delete(ctx context.Context, actor auth.Actor, id int64) error {
	rule, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.rules.Delete(ctx, rule.ID); err != nil {
		return err
	}
	s.record(ctx, actor, audit.ActionRuleDelete, rule)
	return nil
}

func (s *RuleService) load(ctx context.Context, actor auth.Actor, id int64) (*alarms.MonitoringRule, error) {
	if s == nil {
		return nil, errors.New("rules: nil service")
	}
	if actor.ID <= 0 {
		return nil, auth.ErrUnauthorized
	}
	if id <= 0 {
		return nil, alarms.ErrNotFound
	}
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, alarms.ErrNotFound
	}
	if rule.UserID != actor.ID && !s.admins.IsAdmin(actor) {
		return nil, access.ErrForbidden
	}
	return rule, nil
}

func (s *RuleService) ensureParameter(ctx context.Context, actor auth.Actor, parameterID int64) error {
	if parameterID <= 0 {
		return alarms.ErrNotFound
	}
	param, err := s.params.GetParameter(ctx, parameterID)
	if err != nil {
		return err
	}
	if param == nil {
		return alarms.ErrNotFound
	}
	scope, err := s.scopes.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	ok, err := s.scopes.CanAccessParameter(ctx, scope, parameterID)
	if err != nil {
		return err
	}
	if !ok {
		return access.ErrForbidden
	}
	return nil
}

func (s *RuleService) record(ctx context.Context, actor auth.Actor, action string, rule *alarms.MonitoringRule) {
	if s.audit == nil || rule == nil {
		return
	}
	metadata, err := json.Marshal(rule)
	if err != nil {
		metadata = nil
	}
	entry := audit.Entry{
		ActorID:      actor.ID,
		JobTitle:     actor.JobTitle,
		Action:       action,
		ResourceType: audit.ResourceRule,
		ResourceID:   strconv.FormatInt(rule.ID, 10),
		Metadata:     metadata,
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.Int64("rule_id", rule.ID), zap.Error(err))
	}
}

func (s *RuleService) observe(op string, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.IncRuleOperation(op, result)
}
