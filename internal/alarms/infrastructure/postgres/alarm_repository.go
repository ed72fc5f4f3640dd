package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "msm-monitoring/internal/alarms/domain"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 500
)

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert with its pre-rendered message.
func (r *AlertRepository) Create(ctx context.Context, alert *alarms.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.RuleID <= 0 || alert.ReadingID <= 0 {
		return errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alert.Message = alarms.TruncateMessage(alert.Message)
	err := r.db.QueryRowContext(ctx, `
INSERT INTO alerts (rule_id, parameter_data_id, alert_timestamp, alert_message, is_read)
VALUES ($1, $2, $3, $4, FALSE)
RETURNING alert_id`,
		alert.RuleID, alert.ReadingID, alert.CreatedAt, alert.Message,
	).Scan(&alert.ID)
	if err != nil {
		return translate(err)
	}
	alert.IsRead = false
	return nil
}

// GetOwned loads an alert with the id of its rule's owner. A missing alert returns nil, 0, nil.
func (r *AlertRepository) GetOwned(ctx context.Context, id int64) (*alarms.Alert, int64, error) {
	if r == nil || r.db == nil {
		return nil, 0, errors.New("alert repo: nil db")
	}
	var alert alarms.Alert
	var ownerID int64
	err := r.db.QueryRowContext(ctx, `
SELECT a.alert_id, a.rule_id, a.parameter_data_id, a.alert_timestamp, a.alert_message, a.is_read, mr.user_id
FROM alerts a
JOIN monitoring_rules mr ON mr.rule_id = a.rule_id
WHERE a.alert_id = $1`, id).Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.ReadingID,
		&alert.CreatedAt,
		&alert.Message,
		&alert.IsRead,
		&ownerID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	alert.CreatedAt = alert.CreatedAt.UTC()
	return &alert, ownerID, nil
}

// ListByUser returns the owner's alerts, newest first.
func (r *AlertRepository) ListByUser(ctx context.Context, query alarms.AlertQuery) ([]alarms.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if query.UserID <= 0 {
		return nil, errors.New("alert repo: invalid query")
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT a.alert_id, a.rule_id, a.parameter_data_id, a.alert_timestamp, a.alert_message, a.is_read
FROM alerts a
JOIN monitoring_rules mr ON mr.rule_id = a.rule_id
WHERE mr.user_id = $1 AND (NOT $2::BOOLEAN OR a.is_read = FALSE)
ORDER BY a.alert_timestamp DESC, a.alert_id DESC
LIMIT $3 OFFSET $4`, query.UserID, query.OnlyUnread, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Alert
	for rows.Next() {
		var alert alarms.Alert
		if err := rows.Scan(
			&alert.ID,
			&alert.RuleID,
			&alert.ReadingID,
			&alert.CreatedAt,
			&alert.Message,
			&alert.IsRead,
		); err != nil {
			return nil, err
		}
		alert.CreatedAt = alert.CreatedAt.UTC()
		result = append(result, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkRead sets the read flag on one alert.
func (r *AlertRepository) MarkRead(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET is_read = TRUE WHERE alert_id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// MarkAllRead flags every unread alert of the owner and returns how many changed.
func (r *AlertRepository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alert repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE alerts a
SET is_read = TRUE
FROM monitoring_rules mr
WHERE mr.rule_id = a.rule_id AND mr.user_id = $1 AND a.is_read = FALSE`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
