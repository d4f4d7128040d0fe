package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tessera.dev/internal/claims"
)

// Session is the payload of the long-lived session credential.
type Session struct {
	claims.Claims
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp,omitempty"`
	ID        string           `json:"jti,omitempty"`
}

// NewSession stamps c with issue time and, when ttl > 0, an expiry.
func NewSession(c claims.Claims, id string, now time.Time, ttl time.Duration) Session {
	s := Session{
		Claims:   c,
		IssuedAt: jwt.NewNumericDate(now),
		ID:       id,
	}
	if ttl > 0 {
		s.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return s
}

// Expired reports whether the session carries an expiry at or before now.
// Sessions without exp never expire.
func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return !now.Before(s.ExpiresAt.Time)
}
