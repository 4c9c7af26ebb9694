package auditctx

import "context"

// Actor identifies who initiated a request. Services read it when they record
// audit entries so handlers don't have to thread it through every call.
type Actor struct {
	UserID    string
	Email     string
	SessionID string
	IPAddress string
	UserAgent string
}

type actorContextKey struct{}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts the actor stored by WithActor.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
