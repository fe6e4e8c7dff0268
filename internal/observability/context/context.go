package context

import "context"

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	actorIDKey   ctxKey = "actor_id"
	providerKey  ctxKey = "provider"
	eventIDKey   ctxKey = "event_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithActor stores the authenticated user id supplied by the upstream session service.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

func ActorFromContext(ctx context.Context) string {
	return stringValue(ctx, actorIDKey)
}

// WithEvent tags the context with the gateway delivery being processed.
func WithEvent(ctx context.Context, provider, eventID string) context.Context {
	ctx = context.WithValue(ctx, providerKey, provider)
	return context.WithValue(ctx, eventIDKey, eventID)
}

func EventFromContext(ctx context.Context) (provider, eventID string) {
	return stringValue(ctx, providerKey), stringValue(ctx, eventIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
