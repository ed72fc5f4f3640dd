package livefeed

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"msm-monitoring/internal/access"
	"msm-monitoring/internal/auth"
	"msm-monitoring/internal/observability/metrics"
)

// Authenticator turns a raw token into an actor.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Actor, error)
}

// ParameterAccess decides whether an actor may watch a parameter.
type ParameterAccess interface {
	Resolve(ctx context.Context, actor auth.Actor) (access.Scope, error)
	CanAccessParameter(ctx context.Context, scope access.Scope, parameterID int64) (bool, error)
}

// Handler serves GET /ws/live_data/{parameter_id}?token=<jwt>.
type Handler struct {
	registry  *Registry
	auth      Authenticator
	access    ParameterAccess
	upgrader  websocket.Upgrader
	logger    *zap.Logger
	writeWait time.Duration
	pongWait  time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithTimeouts overrides the socket write deadline and pong wait.
func WithTimeouts(writeWait, pongWait time.Duration) HandlerOption {
	return func(h *Handler) {
		if writeWait > 0 {
			h.writeWait = writeWait
		}
		if pongWait > 0 {
			h.pongWait = pongWait
		}
	}
}

// WithCheckOrigin sets the upgrader origin policy.
func WithCheckOrigin(check func(r *http.Request) bool) HandlerOption {
	return func(h *Handler) {
		if check != nil {
			h.upgrader.CheckOrigin = check
		}
	}
}

// NewHandler constructs a websocket handler.
func NewHandler(registry *Registry, authenticator Authenticator, parameters ParameterAccess, opts ...HandlerOption) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("livefeed handler: nil registry")
	}
	if authenticator == nil {
		return nil, errors.New("livefeed handler: nil authenticator")
	}
	if parameters == nil {
		return nil, errors.New("livefeed handler: nil access resolver")
	}
	h := &Handler{
		registry: registry,
		auth:     authenticator,
		access:   parameters,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:    zap.NewNop(),
		writeWait: defaultWriteWait,
		pongWait:  defaultPongWait,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes mounts the live data endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws/live_data/{parameter_id}", h.ServeHTTP)
}

// ServeHTTP upgrades and runs the handshake. Failures close with a websocket status code.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := r.Context()
	actor, err := h.auth.Authenticate(ctx, r.URL.Query().Get("token"))
	if err != nil {
		h.reject(conn, websocket.ClosePolicyViolation, "Authentication required")
		return
	}
	parameterID, err := strconv.ParseInt(chi.URLParam(r, "parameter_id"), 10, 64)
	if err != nil {
		h.reject(conn, websocket.CloseInvalidFramePayloadData, "Invalid parameter ID format")
		return
	}
	if !h.allowed(ctx, actor, parameterID) {
		h.logger.Info("live data access denied",
			zap.Int64("user_id", actor.ID),
			zap.Int64("parameter_id", parameterID),
		)
		h.reject(conn, websocket.ClosePolicyViolation, "Access Denied to parameter")
		return
	}

	client := newWSConnection(conn, h.writeWait, h.pongWait, h.logger)
	h.registry.Subscribe(client, parameterID)
	metrics.AddLiveConnections(1)
	h.logger.Info("live data subscribed",
		zap.Int64("user_id", actor.ID),
		zap.Int64("parameter_id", parameterID),
	)

	go client.writePump()
	client.readPump()

	h.registry.Unsubscribe(client, parameterID)
	metrics.AddLiveConnections(-1)
	h.logger.Info("live data unsubscribed",
		zap.Int64("user_id", actor.ID),
		zap.Int64("parameter_id", parameterID),
	)
}

func (h *Handler) allowed(ctx context.Context, actor auth.Actor, parameterID int64) bool {
	scope, err := h.access.Resolve(ctx, actor)
	if err != nil {
		h.logger.Error("scope resolve failed", zap.Int64("user_id", actor.ID), zap.Error(err))
		return false
	}
	ok, err := h.access.CanAccessParameter(ctx, scope, parameterID)
	if err != nil {
		h.logger.Error("parameter access check failed", zap.Int64("parameter_id", parameterID), zap.Error(err))
		return false
	}
	return ok
}

func (h *Handler) reject(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(h.writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
