// Package permission resolves the actions a user may perform per application
// from direct grants and grants inherited through group membership.
package permission

import (
	"context"
	"sort"

	"tessera.dev/internal/claims"
)

// Source tells whether a grant row was held directly or inherited from a group.
type Source string

const (
	SourceDirect Source = "direct"
	SourceGroup  Source = "group"
)

// Grant is one raw grant row as returned by the credential store.
type Grant struct {
	ApplicationID   int64
	ApplicationName string
	Action          string
	Source          Source
}

// GrantSource loads the raw direct and group grant rows of a user.
type GrantSource interface {
	GrantRows(ctx context.Context, userID int64) ([]Grant, error)
}

// Aggregate unions the rows per application, collapses duplicate action names
// and sorts them. Applications are ordered by id ascending. No rows yields an
// empty, non-nil result.
func Aggregate(rows []Grant) claims.Features {
	type bucket struct {
		id      int64
		name    string
		actions map[string]struct{}
	}
	byApp := make(map[int64]*bucket)
	for _, row := range rows {
		b, ok := byApp[row.ApplicationID]
		if !ok {
			b = &bucket{id: row.ApplicationID, name: row.ApplicationName, actions: make(map[string]struct{})}
			byApp[row.ApplicationID] = b
		}
		b.actions[row.Action] = struct{}{}
	}

	out := make(claims.Features, 0, len(byApp))
	for _, b := range byApp {
		actions := make([]string, 0, len(b.actions))
		for a := range b.actions {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		out = append(out, claims.AppActions{
			ApplicationID:   b.id,
			ApplicationName: b.name,
			Actions:         actions,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApplicationID < out[j].ApplicationID })
	return out
}

// Resolver aggregates grants loaded from a GrantSource.
type Resolver struct {
	grants GrantSource
}

func NewResolver(grants GrantSource) *Resolver {
	return &Resolver{grants: grants}
}

// ResolveActions returns the user's actions grouped per application. Store
// errors are returned unchanged.
func (r *Resolver) ResolveActions(ctx context.Context, userID int64) (claims.Features, error) {
	rows, err := r.grants.GrantRows(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Aggregate(rows), nil
}

// ResolveApplication returns the sorted action list for one application. An
// application without grants yields an empty list.
func (r *Resolver) ResolveApplication(ctx context.Context, userID int64, application string) ([]string, error) {
	features, err := r.ResolveActions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if actions := features.Actions(application); actions != nil {
		return actions, nil
	}
	return []string{}, nil
}
