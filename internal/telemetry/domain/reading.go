package telemetry

import (
	"context"
	"errors"
	"math"
	"time"

	masterdata "msm-monitoring/internal/masterdata/domain"
)

// ErrReadingRejected marks a reading the store refuses permanently, such as one for an unknown parameter.
var ErrReadingRejected = errors.New("reading: rejected by store")

// Reading is one timestamped sample of a parameter. Readings are append-only.
type Reading struct {
	ID          int64
	ParameterID int64
	Value       float64
	Timestamp   time.Time
}

// Validate checks reading invariants.
func (r Reading) Validate() error {
	if r.ParameterID <= 0 {
		return errors.New("reading: invalid parameter id")
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errors.New("reading: value is not finite")
	}
	if r.Timestamp.IsZero() {
		return errors.New("reading: empty timestamp")
	}
	return nil
}

// ReadingWithAncestry pairs a reading with the equipment path above its parameter.
type ReadingWithAncestry struct {
	Reading  Reading
	Ancestry masterdata.Ancestry
}

// ReadingRepository persists and loads readings.
type ReadingRepository interface {
	Insert(ctx context.Context, reading *Reading) error
	GetWithAncestry(ctx context.Context, id int64) (*ReadingWithAncestry, error)
}

// ReadingPersisted is emitted after a reading is stored and acknowledged.
// MessageID is the broker id of the delivery that carried the reading.
type ReadingPersisted struct {
	ReadingID   int64
	ParameterID int64
	Value       float64
	Timestamp   time.Time
	MessageID   string
}
