package ott

import "tessera.dev/internal/claims"

// Payload is the value parked behind a one-time token. The set of variants is
// closed: only types in this package implement it.
type Payload interface {
	Kind() string
	sealed()
}

// ClaimsPayload carries the claims of a freshly authenticated user across an
// origin boundary.
type ClaimsPayload struct {
	Claims claims.Claims
}

func (ClaimsPayload) Kind() string { return "claims" }
func (ClaimsPayload) sealed()      {}
