package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "msm-monitoring/internal/alarms/domain"
)

const ruleColumns = `rule_id, user_id, parameter_id, rule_name, comparison_operator, threshold, is_active, created_at, updated_at`

// RuleRepository is a Postgres repository for monitoring rules.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create inserts a rule and fills its id and timestamps.
// A duplicate (user, parameter, operator, threshold) returns alarms.ErrDuplicateRule.
func (r *RuleRepository) Create(ctx context.Context, rule *alarms.MonitoringRule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil {
		return errors.New("rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, `
INSERT INTO monitoring_rules (
	user_id, parameter_id, rule_name, comparison_operator, threshold, is_active, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $7
)
RETURNING rule_id, created_at, updated_at`,
		rule.UserID, rule.ParameterID, nullableString(rule.Name), string(rule.Operator),
		rule.Threshold, rule.Active, now,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return nil
}

// Update rewrites the mutable rule fields. The parameter binding is never updated.
func (r *RuleRepository) Update(ctx context.Context, rule *alarms.MonitoringRule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil || rule.ID <= 0 {
		return errors.New("rule repo: invalid rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE monitoring_rules
SET rule_name = $1, comparison_operator = $2, threshold = $3, is_active = $4, updated_at = $5
WHERE rule_id = $6`,
		nullableString(rule.Name), string(rule.Operator), rule.Threshold, rule.Active, rule.UpdatedAt, rule.ID)
	if err != nil {
		return translate(err)
	}
	return expectAffected(res)
}

// Delete removes a rule; its alerts go with it by cascade.
func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM monitoring_rules WHERE rule_id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// GetByID loads a rule by id. A missing rule returns nil, nil.
func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*alarms.MonitoringRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+ruleColumns+`
FROM monitoring_rules
WHERE rule_id = $1`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// ListByUser returns a user's rules, optionally narrowed to one parameter when parameterID > 0.
func (r *RuleRepository) ListByUser(ctx context.Context, userID int64, parameterID int64) ([]alarms.MonitoringRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if userID <= 0 {
		return nil, errors.New("rule repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+ruleColumns+`
FROM monitoring_rules
WHERE user_id = $1 AND ($2::BIGINT = 0 OR parameter_id = $2)
ORDER BY rule_id ASC`, userID, parameterID)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// ListActiveByParameter returns the current active rule set for a parameter.
func (r *RuleRepository) ListActiveByParameter(ctx context.Context, parameterID int64) ([]alarms.MonitoringRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+ruleColumns+`
FROM monitoring_rules
WHERE parameter_id = $1 AND is_active = TRUE
ORDER BY rule_id ASC`, parameterID)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*alarms.MonitoringRule, error) {
	var rule alarms.MonitoringRule
	var name sql.NullString
	var op string
	if err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.ParameterID,
		&name,
		&op,
		&rule.Threshold,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Name = name.String
	rule.Operator = alarms.Operator(op)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]alarms.MonitoringRule, error) {
	defer rows.Close()
	var result []alarms.MonitoringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return alarms.ErrNotFound
	}
	return nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
