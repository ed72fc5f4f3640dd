package application

import (
	"context"
	"errors"

	"msm-monitoring/internal/access"
	alarms "msm-monitoring/internal/alarms/domain"
	"msm-monitoring/internal/auth"
)

// AlertService serves an owner's alert inbox.
type AlertService struct {
	alerts alarms.AlertRepository
}

// NewAlertService constructs an alert service.
func NewAlertService(alertRepo alarms.AlertRepository) (*AlertService, error) {
	if alertRepo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	return &AlertService{alerts: alertRepo}, nil
}

// List returns the actor's alerts, newest first.
func (s *AlertService) List(ctx context.Context, actor auth.Actor, onlyUnread bool, limit, offset int) ([]alarms.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if actor.ID <= 0 {
		return nil, auth.ErrUnauthorized
	}
	list, err := s.alerts.ListByUser(ctx, alarms.AlertQuery{
		UserID:     actor.ID,
		OnlyUnread: onlyUnread,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []alarms.Alert{}
	}
	return list, nil
}

// MarkRead flags one alert as read. Only the owner of the alert's rule may do so.
func (s *AlertService) MarkRead(ctx context.Context, actor auth.Actor, id int64) (*alarms.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if actor.ID <= 0 {
		return nil, auth.ErrUnauthorized
	}
	alert, ownerID, err := s.alerts.GetOwned(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alarms.ErrNotFound
	}
	if ownerID != actor.ID {
		return nil, access.ErrForbidden
	}
	if alert.IsRead {
		return alert, nil
	}
	if err := s.alerts.MarkRead(ctx, alert.ID); err != nil {
		return nil, err
	}
	alert.IsRead = true
	return alert, nil
}

// MarkAllRead flags every unread alert of the actor and returns the count.
func (s *AlertService) MarkAllRead(ctx context.Context, actor auth.Actor) (int64, error) {
	if s == nil {
		return 0, errors.New("alerts: nil service")
	}
	if actor.ID <= 0 {
		return 0, auth.ErrUnauthorized
	}
	return s.alerts.MarkAllRead(ctx, actor.ID)
}
