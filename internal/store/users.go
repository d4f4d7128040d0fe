package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tessera.dev/internal/auth"
)

const userColumns = `user_id, email, first_name, last_name, password_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	u, err := scanUser(s.queryRow(ctx,
		`select `+userColumns+` from users where email = $1`,
		strings.TrimSpace(email)))
	if err != nil {
		return auth.User{}, mapError("find user by email", err)
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (auth.User, error) {
	u, err := scanUser(s.queryRow(ctx, `select `+userColumns+` from users where user_id = $1`, id))
	if err != nil {
		return auth.User{}, mapError("find user by id", err)
	}
	return u, nil
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := s.queryRow(ctx, `select count(*) from users where email = $1`,
		strings.TrimSpace(email)).Scan(&n)
	if err != nil {
		return false, mapError("check email", err)
	}
	return n > 0, nil
}

// GroupsForUser returns the user's groups ordered by group id.
func (s *Store) GroupsForUser(ctx context.Context, userID int64) ([]auth.Group, error) {
	rows, err := s.query(ctx, `
		select g.group_id, g.group_name
		from user_groups g
		join group_members m on m.group_id = g.group_id
		where m.user_id = $1
		order by g.group_id
	`, userID)
	if err != nil {
		return nil, mapError("groups for user", err)
	}
	defer rows.Close()

	groups := []auth.Group{}
	for rows.Next() {
		var g auth.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, mapError("scan group", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("groups for user", err)
	}
	return groups, nil
}

// ListUsers returns a page ordered by user id plus the total row count.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]auth.User, int, error) {
	var total int
	if err := s.queryRow(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, mapError("count users", err)
	}
	rows, err := s.query(ctx,
		`select `+userColumns+` from users order by user_id limit $1 offset $2`, limit, offset)
	if err != nil {
		return nil, 0, mapError("list users", err)
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, mapError("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError("list users", err)
	}
	return users, total, nil
}

// CreateUser inserts the user and its direct grants in one transaction.
func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser, grants []auth.ActionGrant) (auth.User, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, mapError("begin create user", err)
	}
	defer func() { _ = tx.Rollback() }()

	u := auth.User{
		Email:        strings.TrimSpace(nu.Email),
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		PasswordHash: nu.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = tx.QueryRowContext(ctx, s.dialect.Rebind(`
		insert into users(email, first_name, last_name, password_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
		returning user_id
	`), u.Email, u.FirstName, u.LastName, u.PasswordHash, now, now).Scan(&u.ID)
	if err != nil {
		return auth.User{}, mapError("insert user", err)
	}

	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`
			insert into permissions(user_id, application_id, action_id)
			values ($1, $2, $3)
		`), u.ID, g.ApplicationID, g.ActionID); err != nil {
			return auth.User{}, mapError("insert grant", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, mapError("commit create user", err)
	}
	return u, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`update users set password_hash = $1, updated_at = $2 where user_id = $3`),
		passwordHash, time.Now().UTC(), userID)
	if err != nil {
		return mapError("update password", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("update password", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %d", auth.ErrNotFound, userID)
	}
	return nil
}
