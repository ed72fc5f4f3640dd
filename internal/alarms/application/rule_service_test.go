package application

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msm-monitoring/internal/access"
	alarms "msm-monitoring/internal/alarms/domain"
	"msm-monitoring/internal/audit"
	"msm-monitoring/internal/auth"
	masterdata "msm-monitoring/internal/masterdata/domain"
)

var (
	engineer = auth.Actor{ID: 3, JobTitle: "Инженер-технолог"}
	other    = auth.Actor{ID: 4, JobTitle: "Оператор"}
	director = auth.Actor{ID: 1, JobTitle: "Директор"}
)

func newTestRuleService(t *testing.T, rules *memoryRules, auditLog audit.Logger) *RuleService {
	t.Helper()
	params := stubParameters{
		7: masterdata.Parameter{ID: 7, ActuatorID: 5, TypeName: "Температура"},
		8: masterdata.Parameter{ID: 8, ActuatorID: 6, TypeName: "Давление"},
	}
	scopes := stubScopes{allowed: map[int64]bool{7: true}}
	svc, err := NewRuleService(rules, params, scopes,
		WithAdminTitles(auth.NewAdminTitles("Директор")),
		WithAuditLogger(auditLog),
	)
	require.NoError(t, err)
	return svc
}

func TestRuleServiceCreate(t *testing.T) {
	rules := newMemoryRules()
	auditLog := &recordingAudit{}
	svc := newTestRuleService(t, rules, auditLog)

	rule, err := svc.Create(context.Background(), engineer, CreateRuleInput{
		ParameterID: 7, Name: "  Перегрев ", Operator: alarms.OperatorGreater, Threshold: 80,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rule.UserID)
	assert.Equal(t, "Перегрев", rule.Name)
	assert.True(t, rule.Active)
	require.Len(t, auditLog.entries, 1)
	assert.Equal(t, audit.ActionRuleCreate, auditLog.entries[0].Action)
	assert.Equal(t, "1", auditLog.entries[0].ResourceID)
}

func TestRuleServiceCreateDuplicateKeepsRowCount(t *testing.T) {
	rules := newMemoryRules()
	svc := newTestRuleService(t, rules, nil)
	input := CreateRuleInput{ParameterID: 7, Operator: alarms.OperatorGreater, Threshold: 80}

	_, err := svc.Create(context.Background(), engineer, input)
	require.NoError(t, err)
	before := rules.countForParameter(7)

	_, err = svc.Create(context.Background(), engineer, input)
	assert.ErrorIs(t, err, alarms.ErrDuplicateRule)
	assert.Equal(t, before, rules.countForParameter(7))
}

func TestRuleServiceCreateParameterChecks(t *testing.T) {
	svc := newTestRuleService(t, newMemoryRules(), nil)

	_, err := svc.Create(context.Background(), engineer, CreateRuleInput{ParameterID: 999, Operator: alarms.OperatorGreater})
	assert.ErrorIs(t, err, alarms.ErrNotFound)

	_, err = svc.Create(context.Background(), engineer, CreateRuleInput{ParameterID: 8, Operator: alarms.OperatorGreater})
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = svc.Create(context.Background(), engineer, CreateRuleInput{ParameterID: 7, Operator: ">="})
	assert.ErrorIs(t, err, alarms.ErrInvalidRule)

	_, err = svc.Create(context.Background(), engineer, CreateRuleInput{ParameterID: 7, Operator: alarms.OperatorLess, Name: strings.Repeat("a", 51)})
	assert.ErrorIs(t, err, alarms.ErrInvalidRule)

	_, err = svc.Create(context.Background(), auth.Actor{}, CreateRuleInput{ParameterID: 7, Operator: alarms.OperatorLess})
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRuleServiceOwnershipAndAdmin(t *testing.T) {
	rules := newMemoryRules(alarms.MonitoringRule{ID: 1, UserID: 3, ParameterID: 7, Operator: alarms.OperatorGreater, Threshold: 80, Active: true})
	svc := newTestRuleService(t, rules, nil)
	ctx := context.Background()

	_, err := svc.Get(ctx, other, 1)
	assert.ErrorIs(t, err, access.ErrForbidden)

	rule, err := svc.Get(ctx, director, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rule.UserID)

	_, err = svc.Get(ctx, engineer, 42)
	assert.ErrorIs(t, err, alarms.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, other, 1), access.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, director, 1))
	assert.Zero(t, rules.countForParameter(7))
}

func TestRuleServiceUpdate(t *testing.T) {
	rules := newMemoryRules(
		alarms.MonitoringRule{ID: 1, UserID: 3, ParameterID: 7, Operator: alarms.OperatorGreater, Threshold: 80, Active: true},
		alarms.MonitoringRule{ID: 2, UserID: 3, ParameterID: 7, Operator: alarms.OperatorGreater, Threshold: 90, Active: true},
	)
	auditLog := &recordingAudit{}
	svc := newTestRuleService(t, rules, auditLog)
	ctx := context.Background()

	inactive := false
	threshold := 95.5
	rule, err := svc.Update(ctx, engineer, 1, UpdateRuleInput{Active: &inactive, Threshold: &threshold})
	require.NoError(t, err)
	assert.False(t, rule.Active)
	assert.Equal(t, 95.5, rule.Threshold)

	otherParam := int64(8)
	_, err = svc.Update(ctx, engineer, 1, UpdateRuleInput{ParameterID: &otherParam})
	assert.ErrorIs(t, err, alarms.ErrParameterChange)

	sameParam := int64(7)
	_, err = svc.Update(ctx, engineer, 1, UpdateRuleInput{ParameterID: &sameParam})
	assert.NoError(t, err)

	clash := 90.0
	_, err = svc.Update(ctx, engineer, 1, UpdateRuleInput{Threshold: &clash})
	assert.ErrorIs(t, err, alarms.ErrDuplicateRule)

	require.Len(t, auditLog.entries, 2)
	assert.Equal(t, audit.ActionRuleUpdate, auditLog.entries[0].Action)
}

func TestRuleServiceList(t *testing.T) {
	rules := newMemoryRules(
		alarms.MonitoringRule{ID: 1, UserID: 3, ParameterID: 7, Operator: alarms.OperatorGreater, Threshold: 80},
		alarms.MonitoringRule{ID: 2, UserID: 3, ParameterID: 8, Operator: alarms.OperatorLess, Threshold: 2},
		alarms.MonitoringRule{ID: 3, UserID: 4, ParameterID: 7, Operator: alarms.OperatorLess, Threshold: 2},
	)
	svc := newTestRuleService(t, rules, nil)

	all, err := svc.List(context.Background(), engineer, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := svc.List(context.Background(), engineer, 8)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, int64(2), filtered[0].ID)

	none, err := svc.List(context.Background(), director, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
