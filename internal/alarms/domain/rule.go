package alarms

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

type Operator string

const (
	OperatorGreater Operator = ">"
	OperatorLess    Operator = "<"
)

// MaxRuleNameLength bounds MonitoringRule.Name in characters.
const MaxRuleNameLength = 50

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorLess:
		return true
	default:
		return false
	}
}

// Violated reports whether value breaks the threshold under this operator.
func (o Operator) Violated(value, threshold float64) bool {
	switch o {
	case OperatorGreater:
		return value > threshold
	case OperatorLess:
		return value < threshold
	default:
		return false
	}
}

// MonitoringRule is a user-owned threshold condition on one parameter.
// (UserID, ParameterID, Operator, Threshold) is unique.
type MonitoringRule struct {
	ID          int64     `json:"rule_id"`
	UserID      int64     `json:"user_id"`
	ParameterID int64     `json:"parameter_id"`
	Name        string    `json:"rule_name,omitempty"`
	Operator    Operator  `json:"comparison_operator"`
	Threshold   float64   `json:"threshold"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks rule invariants.
func (r MonitoringRule) Validate() error {
	if r.UserID <= 0 {
		return invalidRule("empty user id")
	}
	if r.ParameterID <= 0 {
		return invalidRule("empty parameter id")
	}
	if !r.Operator.Valid() {
		return invalidRule("invalid operator")
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return invalidRule("threshold is not finite")
	}
	if utf8.RuneCountInString(r.Name) > MaxRuleNameLength {
		return invalidRule(fmt.Sprintf("name longer than %d characters", MaxRuleNameLength))
	}
	return nil
}

// Label renders the rule for alert text: the quoted name, or its id.
func (r MonitoringRule) Label() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return "'" + name + "'"
	}
	return fmt.Sprintf("(ID: %d)", r.ID)
}

func invalidRule(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, reason)
}
