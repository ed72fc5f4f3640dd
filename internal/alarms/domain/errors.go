package alarms

import "errors"

var (
	// ErrNotFound indicates a missing rule, alert or referenced parameter.
	ErrNotFound = errors.New("alarm: not found")
	// ErrDuplicateRule indicates the (user, parameter, operator, threshold) tuple already exists.
	ErrDuplicateRule = errors.New("alarm: duplicate rule")
	// ErrInvalidRule indicates a rule that fails validation.
	ErrInvalidRule = errors.New("alarm: invalid rule")
	// ErrParameterChange indicates an update tried to rebind a rule to another parameter.
	ErrParameterChange = errors.New("alarm: rule parameter cannot change")
)
