package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdatarepo "msm-monitoring/internal/masterdata/infrastructure/postgres"
	telemetry "msm-monitoring/internal/telemetry/domain"
)

const defaultReadingsTable = "parameter_data"

// ReadingRepository is a Postgres implementation for parameter readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository with default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Insert appends a reading in a single statement and sets its id.
// A redelivered reading produces a second row; constraint failures wrap telemetry.ErrReadingRejected.
func (r *ReadingRepository) Insert(ctx context.Context, reading *telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	if err := reading.Validate(); err != nil {
		return fmt.Errorf("%w: %v", telemetry.ErrReadingRejected, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (parameter_id, parameter_value, data_timestamp)
VALUES ($1, $2, $3)
RETURNING parameter_data_id`, r.table)
	err := r.db.QueryRowContext(ctx, query, reading.ParameterID, reading.Value, reading.Timestamp.UTC()).Scan(&reading.ID)
	return translate(err, reading.ParameterID)
}

// GetWithAncestry loads a reading and its equipment path in one query.
// A missing reading returns nil, nil.
func (r *ReadingRepository) GetWithAncestry(ctx context.Context, id int64) (*telemetry.ReadingWithAncestry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT d.parameter_data_id, d.parameter_id, d.parameter_value, d.data_timestamp,
	%s
FROM %s d
LEFT JOIN parameters p ON p.parameter_id = d.parameter_id%s
WHERE d.parameter_data_id = $1`, masterdatarepo.AncestryColumns, r.table, masterdatarepo.AncestryJoin)

	var out telemetry.ReadingWithAncestry
	var scan masterdatarepo.AncestryScan
	dest := append([]any{
		&out.Reading.ID,
		&out.Reading.ParameterID,
		&out.Reading.Value,
		&out.Reading.Timestamp,
	}, scan.Dest()...)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	out.Reading.Timestamp = out.Reading.Timestamp.UTC()
	out.Ancestry = scan.Ancestry()
	return &out, nil
}
