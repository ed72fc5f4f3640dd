package auth

import "context"

type contextKey string

const contextKeyActor contextKey = "auth.actor"

// WithActor stores the authenticated actor in context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKeyActor, actor)
}

// ActorFromContext extracts the authenticated actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(contextKeyActor).(Actor)
	return actor, ok
}
