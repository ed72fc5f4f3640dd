package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware validates JWTs and attaches the actor to the request context.
type Middleware struct {
	Secret []byte
	Actors ActorLoader
	Policy Policy
	logger *zap.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, actors ActorLoader, policy Policy, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{Secret: secret, Actors: actors, Policy: policy, logger: logger}
}

// Authenticate validates a raw token and loads its actor.
func (m *Middleware) Authenticate(ctx context.Context, token string) (Actor, error) {
	if m == nil || m.Actors == nil {
		return Actor{}, ErrUnauthorized
	}
	claims, err := ParseJWT(token, m.Secret)
	if err != nil {
		return Actor{}, ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return Actor{}, ErrInvalidToken
	}
	actor, err := m.Actors.GetActor(ctx, userID)
	if err != nil {
		m.logger.Error("actor lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return Actor{}, ErrUnauthorized
	}
	if actor == nil {
		return Actor{}, ErrUnknownActor
	}
	return *actor, nil
}

// Wrap applies bearer authentication to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := m.Authenticate(r.Context(), extractBearer(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
