package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultDLQTable = "dead_letter_messages"

// DeadLetter is an inbound message that was permanently rejected.
type DeadLetter struct {
	Source    string
	MessageID string
	Payload   []byte
	Reason    string
}

// DLQStore is a Postgres implementation for rejected inbound messages.
type DLQStore struct {
	db    *sql.DB
	table string
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB, opts ...DLQOption) *DLQStore {
	store := &DLQStore{db: db, table: defaultDLQTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// DLQOption configures the DLQ store.
type DLQOption func(*DLQStore)

// WithDLQTable overrides the table name.
func WithDLQTable(table string) DLQOption {
	return func(store *DLQStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Record inserts or bumps a dead letter row keyed by (source, message_id).
func (s *DLQStore) Record(ctx context.Context, letter DeadLetter) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if letter.Source == "" || letter.MessageID == "" {
		return errors.New("dlq store: empty source or message id")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	source,
	message_id,
	payload,
	reason,
	first_seen_at,
	last_seen_at,
	attempts
) VALUES (
	$1, $2, $3, $4, $5, $5, 1
)
ON CONFLICT (source, message_id)
DO UPDATE SET
	payload = EXCLUDED.payload,
	reason = EXCLUDED.reason,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %s.attempts + 1`, s.table, s.table)

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query, letter.Source, letter.MessageID, letter.Payload, letter.Reason, now)
	return err
}
