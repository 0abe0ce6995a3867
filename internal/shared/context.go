package shared

import "context"

type sessionIDContextKey struct{}
type contextIDContextKey struct{}

// ContextWithSessionID stores the engine session id carried by the request.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, id)
}

// SessionIDFromContext extracts the engine session id, if any.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey{}).(string)
	return id
}

// ContextWithContextID stores the caller-supplied correlation id used to key
// audit events.
func ContextWithContextID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextIDContextKey{}, id)
}

// ContextIDFromContext extracts the correlation id, if any.
func ContextIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextIDContextKey{}).(string)
	return id
}
