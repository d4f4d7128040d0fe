package store

import (
	"context"
	"strconv"
	"strings"

	"tessera.dev/internal/permission"
)

// grantRowsQuery returns one row per (application, action, source). Direct
// and group-inherited rows are unioned; aggregation happens in Go so the same
// statement runs on both dialects.
const grantRowsQuery = `
	with direct_perms as (
		select p.application_id, a.action_name, 'direct' as source
		from permissions p
		join actions a on a.action_id = p.action_id
		where p.user_id = $1
	),
	group_perms as (
		select p.application_id, a.action_name, 'group' as source
		from group_members m
		join permissions p on p.group_id = m.group_id
		join actions a on a.action_id = p.action_id
		where m.user_id = $1
	)
	select ap.application_id, ap.application_name, g.action_name, g.source
	from (
		select application_id, action_name, source from direct_perms
		union
		select application_id, action_name, source from group_perms
	) g
	join applications ap on ap.application_id = g.application_id
	order by ap.application_id, g.action_name
`

func (s *Store) GrantRows(ctx context.Context, userID int64) ([]permission.Grant, error) {
	rows, err := s.query(ctx, grantRowsQuery, userID)
	if err != nil {
		return nil, mapError("grant rows", err)
	}
	defer rows.Close()

	var out []permission.Grant
	for rows.Next() {
		var (
			g      permission.Grant
			source string
		)
		if err := rows.Scan(&g.ApplicationID, &g.ApplicationName, &g.Action, &source); err != nil {
			return nil, mapError("scan grant", err)
		}
		g.Source = permission.Source(source)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("grant rows", err)
	}
	return out, nil
}

func (s *Store) ApplicationID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.queryRow(ctx, `select application_id from applications where application_name = $1`,
		strings.TrimSpace(name)).Scan(&id)
	if err != nil {
		return 0, mapError("application "+name, err)
	}
	return id, nil
}

// ActionIDs maps the known names among names to their ids. Unknown names are
// absent from the result.
func (s *Store) ActionIDs(ctx context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	if len(names) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = n
	}
	rows, err := s.query(ctx,
		`select action_id, action_name from actions where action_name in (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, mapError("action ids", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, mapError("scan action", err)
		}
		out[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("action ids", err)
	}
	return out, nil
}
