package auth

import (
	"context"

	"tessera.dev/internal/permission"
)

// Store describes the persistence operations required by the auth service.
// Implementations wrap driver failures with ErrStore and report missing rows
// with ErrNotFound.
type Store interface {
	permission.GrantSource

	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id int64) (User, error)
	GroupsForUser(ctx context.Context, userID int64) ([]Group, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	ListUsers(ctx context.Context, limit, offset int) ([]User, int, error)

	ApplicationID(ctx context.Context, name string) (int64, error)
	ActionIDs(ctx context.Context, names []string) (map[string]int64, error)

	// CreateUser inserts the user and its direct grants atomically. A taken
	// email yields ErrConflict.
	CreateUser(ctx context.Context, u NewUser, grants []ActionGrant) (User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
}

// Auditor records security-relevant events. Failures are the auditor's own
// concern and never surface to callers.
type Auditor interface {
	Record(ctx context.Context, event string, fields map[string]any)
}

// LoginMetrics counts login outcomes.
type LoginMetrics interface {
	Login(result string)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, map[string]any) {}

type nopLoginMetrics struct{}

func (nopLoginMetrics) Login(string) {}
