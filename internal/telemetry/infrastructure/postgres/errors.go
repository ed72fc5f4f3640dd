package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	telemetry "msm-monitoring/internal/telemetry/domain"
)

const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
	// Class 22 covers data exceptions such as numeric overflow.
	pgDataExceptionClass = "22"
)

// translate marks constraint and data failures as permanent rejections.
// Everything else stays transient.
func translate(err error, parameterID int64) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgForeignKeyViolation:
		return fmt.Errorf("%w: unknown parameter %d", telemetry.ErrReadingRejected, parameterID)
	case pgErr.Code == pgCheckViolation, pgErr.Code == pgNotNullViolation,
		strings.HasPrefix(pgErr.Code, pgDataExceptionClass):
		return fmt.Errorf("%w: %s", telemetry.ErrReadingRejected, pgErr.Message)
	}
	return err
}
