package auth

import (
	"context"

	"tessera.dev/internal/token"
)

type sessionContextKey struct{}

// ContextWithSession attaches a verified session to the context.
func ContextWithSession(ctx context.Context, s token.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &s)
}

// SessionFromContext extracts the verified session from the context.
func SessionFromContext(ctx context.Context) (token.Session, bool) {
	if ctx == nil {
		return token.Session{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*token.Session)
	if !ok || v == nil {
		return token.Session{}, false
	}
	return *v, true
}

// UserIDFromContext returns the subject of the attached session.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.Subject <= 0 {
		return 0, false
	}
	return s.Subject, true
}
