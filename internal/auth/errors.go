package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrStore wraps driver and query failures of the credential store.
	ErrStore = errors.New("auth: credential store failure")

	ErrApplicationNotFound = errors.New("auth: application not found")
	ErrActionsNotFound     = errors.New("auth: actions not found")
)
