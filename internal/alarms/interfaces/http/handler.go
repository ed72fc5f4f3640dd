package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"msm-monitoring/internal/access"
	alarmapp "msm-monitoring/internal/alarms/application"
	alarms "msm-monitoring/internal/alarms/domain"
	"msm-monitoring/internal/auth"
)

const maxBodyBytes = 1 << 16

// RuleManager is the rule use-case surface served over HTTP.
type RuleManager interface {
	Create(ctx context.Context, actor auth.Actor, input alarmapp.CreateRuleInput) (*alarms.MonitoringRule, error)
	Get(ctx context.Context, actor auth.Actor, id int64) (*alarms.MonitoringRule, error)
	List(ctx context.Context, actor auth.Actor, parameterID int64) ([]alarms.MonitoringRule, error)
	Update(ctx context.Context, actor auth.Actor, id int64, input alarmapp.UpdateRuleInput) (*alarms.MonitoringRule, error)
	Delete(ctx context.Context, actor auth.Actor, id int64) error
}

// AlertInbox is the alert use-case surface served over HTTP.
type AlertInbox interface {
	List(ctx context.Context, actor auth.Actor, onlyUnread bool, limit, offset int) ([]alarms.Alert, error)
	MarkRead(ctx context.Context, actor auth.Actor, id int64) (*alarms.Alert, error)
	MarkAllRead(ctx context.Context, actor auth.Actor) (int64, error)
}

// Handler provides rule and alert HTTP endpoints.
type Handler struct {
	rules  RuleManager
	alerts AlertInbox
	stream http.Handler
}

// NewHandler constructs a handler.
func NewHandler(rules RuleManager, alertInbox AlertInbox) (*Handler, error) {
	if rules == nil {
		return nil, errors.New("alarms handler: nil rule service")
	}
	if alertInbox == nil {
		return nil, errors.New("alarms handler: nil alert service")
	}
	return &Handler{rules: rules, alerts: alertInbox}, nil
}

// MountStream serves stream at GET /alerts/stream.
func (h *Handler) MountStream(stream http.Handler) {
	h.stream = stream
}

// Routes mounts /rules and /alerts on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.handleListRules)
		r.Post("/", h.handleCreateRule)
		r.Get("/{id}", h.handleGetRule)
		r.Patch("/{id}", h.handleUpdateRule)
		r.Put("/{id}", h.handleUpdateRule)
		r.Delete("/{id}", h.handleDeleteRule)
	})
	r.Route("/alerts", func(r chi.Router) {
		if h.stream != nil {
			r.Method(http.MethodGet, "/stream", h.stream)
		}
		r.Get("/me", h.handleListAlerts)
		r.Post("/me/read-all", h.handleReadAll)
		r.Patch("/{id}/read", h.handleMarkRead)
	})
}

type createRuleRequest struct {
	ParameterID int64           `json:"parameter_id"`
	Name        string          `json:"rule_name"`
	Operator    alarms.Operator `json:"comparison_operator"`
	Threshold   *float64        `json:"threshold"`
	Active      *bool           `json:"is_active"`
}

type updateRuleRequest struct {
	ParameterID *int64           `json:"parameter_id"`
	Name        *string          `json:"rule_name"`
	Operator    *alarms.Operator `json:"comparison_operator"`
	Threshold   *float64         `json:"threshold"`
	Active      *bool            `json:"is_active"`
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req createRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Threshold == nil {
		http.Error(w, "threshold is required", http.StatusBadRequest)
		return
	}
	rule, err := h.rules.Create(r.Context(), actor, alarmapp.CreateRuleInput{
		ParameterID: req.ParameterID,
		Name:        req.Name,
		Operator:    req.Operator,
		Threshold:   *req.Threshold,
		Active:      req.Active,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var parameterID int64
	if raw := r.URL.Query().Get("parameter_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "parameter_id must be a positive integer", http.StatusBadRequest)
			return
		}
		parameterID = parsed
	}
	list, err := h.rules.List(r.Context(), actor, parameterID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.rules.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	rule, err := h.rules.Update(r.Context(), actor, id, alarmapp.UpdateRuleInput{
		ParameterID: req.ParameterID,
		Name:        req.Name,
		Operator:    req.Operator,
		Threshold:   req.Threshold,
		Active:      req.Active,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.rules.Delete(r.Context(), actor, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	onlyUnread := false
	if raw := query.Get("only_unread"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "only_unread must be a boolean", http.StatusBadRequest)
			return
		}
		onlyUnread = parsed
	}
	limit, err := intQuery(query.Get("limit"))
	if err != nil {
		http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return
	}
	offset, err := intQuery(query.Get("offset"))
	if err != nil {
		http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}
	list, err := h.alerts.List(r.Context(), actor, onlyUnread, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	alert, err := h.alerts.MarkRead(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleReadAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	n, err := h.alerts.MarkAllRead(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated_count": n})
}

func actorOrUnauthorized(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || actor.ID <= 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return auth.Actor{}, false
	}
	return actor, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "id must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func intQuery(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New("invalid integer")
	}
	return value, nil
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, access.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, alarms.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, alarms.ErrDuplicateRule):
		http.Error(w, "rule already exists", http.StatusConflict)
	case errors.Is(err, alarms.ErrParameterChange):
		http.Error(w, "parameter_id cannot be changed", http.StatusBadRequest)
	case errors.Is(err, alarms.ErrInvalidRule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
