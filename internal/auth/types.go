package auth

import (
	"time"

	"tessera.dev/internal/ott"
)

// User is a registered account. PasswordHash never leaves the service.
type User struct {
	ID           int64     `json:"user_id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Group is a named set of users sharing inherited grants.
type Group struct {
	ID   int64  `json:"group_id"`
	Name string `json:"group_name"`
}

// NewUser is the input of a store insert.
type NewUser struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
}

// ActionGrant is a direct grant written at registration time.
type ActionGrant struct {
	ApplicationID int64
	ActionID      int64
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Email           string
	Password        string
	FirstName       string
	LastName        string
	Role            string
	ApplicationName string
}

// LoginResult carries both credentials issued by a successful login.
type LoginResult struct {
	User             User
	Session          string
	SessionExpiresAt time.Time
	Ticket           ott.Ticket
}

// Profile is the view of the signed-in user for one application.
type Profile struct {
	UserID    int64    `json:"user_id"`
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Actions   []string `json:"actions"`
}

// UserPage is one page of the user listing.
type UserPage struct {
	Users    []User
	Total    int
	Page     int
	PageSize int
}
