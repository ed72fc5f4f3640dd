package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	alarms "msm-monitoring/internal/alarms/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"

	ruleUniqueConstraint = "uq_monitoring_rules_user_parameter_operator_threshold"
)

// translate maps Postgres constraint failures onto domain sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		if pgErr.ConstraintName == "" || pgErr.ConstraintName == ruleUniqueConstraint {
			return alarms.ErrDuplicateRule
		}
	case pgForeignKeyViolation:
		return alarms.ErrNotFound
	case pgCheckViolation:
		return alarms.ErrInvalidRule
	}
	return err
}
