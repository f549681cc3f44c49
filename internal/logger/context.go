package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// runIDKey is the context key for the dispatcher run ID.
var runIDKey = contextKey{}

// WithRunID returns a new context with the given run ID stored.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunID extracts the run ID from the context.
// Returns an empty string if no run ID is set.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
