package api

import (
	"context"

	"github.com/GoCodeAlone/onboarding/session"
	"github.com/google/uuid"
)

type contextKey int

const (
	contextKeySession contextKey = iota
	contextKeyRequestID
)

// SetSession returns a new context carrying the authenticated session.
func SetSession(ctx context.Context, d session.Data) context.Context {
	return context.WithValue(ctx, contextKeySession, d)
}

// SessionFromContext returns the session attached by RequireAuth.
func SessionFromContext(ctx context.Context) (session.Data, bool) {
	d, ok := ctx.Value(contextKeySession).(session.Data)
	return d, ok
}

// SetRequestID returns a new context with the request ID attached.
func SetRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(contextKeyRequestID).(uuid.UUID)
	return id
}
