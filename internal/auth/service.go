package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"tessera.dev/internal/claims"
	"tessera.dev/internal/ids"
	"tessera.dev/internal/ott"
	"tessera.dev/internal/permission"
	"tessera.dev/internal/token"
)

const (
	defaultSessionTTL = 12 * time.Hour
	minOTTLength      = 10
	defaultPageSize   = 20
	maxPageSize       = 100
)

// Login outcomes reported to LoginMetrics.
const (
	LoginSucceeded = "succeeded"
	LoginFailed    = "failed"
	LoginError     = "error"
)

// Service orchestrates credential checks, permission resolution and issuance
// of the session token and the one-time handoff token.
type Service struct {
	store    Store
	resolver *permission.Resolver
	signer   *token.Signer
	otts     *ott.Store

	now        func() time.Time
	sessionTTL time.Duration
	auditor    Auditor
	metrics    LoginMetrics
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSessionTTL configures the session token lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.auditor = a
		}
		return nil
	}
}

func WithLoginMetrics(m LoginMetrics) ServiceOption {
	return func(s *Service) error {
		if m != nil {
			s.metrics = m
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, signer *token.Signer, otts *ott.Store, opts ...ServiceOption) (*Service, error) {
	if store == nil || signer == nil || otts == nil {
		return nil, errors.New("auth: store, signer and one-time token store are required")
	}
	svc := &Service{
		store:      store,
		resolver:   permission.NewResolver(store),
		signer:     signer,
		otts:       otts,
		now:        time.Now,
		sessionTTL: defaultSessionTTL,
		auditor:    nopAuditor{},
		metrics:    nopLoginMetrics{},
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// SessionTTL returns the lifetime stamped on issued sessions.
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// Login verifies the password, resolves groups and actions and issues both a
// session token and a one-time token carrying the same claims. Unknown emails
// and wrong passwords both yield ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		burnPasswordCheck(password)
		return LoginResult{}, s.loginFailed(ctx, email, "unknown_email")
	case err != nil:
		s.metrics.Login(LoginError)
		return LoginResult{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return LoginResult{}, s.loginFailed(ctx, email, "bad_password")
	}

	c, err := s.claimsFor(ctx, user)
	if err != nil {
		s.metrics.Login(LoginError)
		return LoginResult{}, err
	}

	now := s.now()
	session := token.NewSession(c, ids.New(), now, s.sessionTTL)
	signed, err := s.signer.Sign(session)
	if err != nil {
		s.metrics.Login(LoginError)
		return LoginResult{}, err
	}
	ticket, err := s.otts.CreateDefault(ott.ClaimsPayload{Claims: c})
	if err != nil {
		s.metrics.Login(LoginError)
		return LoginResult{}, err
	}

	s.metrics.Login(LoginSucceeded)
	s.auditor.Record(ctx, "auth.login.succeeded", map[string]any{
		"user_id":    user.ID,
		"session_id": session.ID,
	})
	return LoginResult{
		User:             user,
		Session:          signed,
		SessionExpiresAt: now.Add(s.sessionTTL),
		Ticket:           ticket,
	}, nil
}

func (s *Service) loginFailed(ctx context.Context, email, reason string) error {
	s.metrics.Login(LoginFailed)
	s.auditor.Record(ctx, "auth.login.failed", map[string]any{
		"email":  email,
		"reason": reason,
	})
	return fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
}

func (s *Service) claimsFor(ctx context.Context, user User) (claims.Claims, error) {
	groups, err := s.store.GroupsForUser(ctx, user.ID)
	if err != nil {
		return claims.Claims{}, err
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	features, err := s.resolver.ResolveActions(ctx, user.ID)
	if err != nil {
		return claims.Claims{}, err
	}
	return claims.Build(user.ID, user.Email, names, features), nil
}

// Exchange redeems a one-time token for the claims parked behind it.
func (s *Service) Exchange(ctx context.Context, oneTimeToken string) (claims.Claims, error) {
	oneTimeToken = strings.TrimSpace(oneTimeToken)
	if len(oneTimeToken) < minOTTLength {
		return claims.Claims{}, fmt.Errorf("%w: one-time token is too short", ErrInvalidInput)
	}
	payload, err := s.otts.Consume(oneTimeToken)
	if err != nil {
		return claims.Claims{}, err
	}
	switch p := payload.(type) {
	case ott.ClaimsPayload:
		s.auditor.Record(ctx, "auth.ott.exchanged", map[string]any{"user_id": p.Claims.Subject})
		return p.Claims, nil
	default:
		return claims.Claims{}, fmt.Errorf("auth: unexpected one-time payload %q", payload.Kind())
	}
}

// VerifySession checks the signature and expiry of a session token.
func (s *Service) VerifySession(ctx context.Context, raw string) (token.Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return token.Session{}, fmt.Errorf("%w: missing session", ErrUnauthorized)
	}
	var session token.Session
	if err := s.signer.VerifyInto(raw, &session); err != nil {
		return token.Session{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if session.Subject <= 0 {
		return token.Session{}, fmt.Errorf("%w: session without subject", ErrUnauthorized)
	}
	if session.Expired(s.now()) {
		return token.Session{}, fmt.Errorf("%w: session expired", ErrUnauthorized)
	}
	return session, nil
}

// Me returns the profile of the session's user with the actions granted in
// application. An empty application name means the default application.
func (s *Service) Me(ctx context.Context, raw, application string) (Profile, error) {
	session, err := s.VerifySession(ctx, raw)
	if err != nil {
		return Profile{}, err
	}
	user, err := s.store.FindUserByID(ctx, session.Subject)
	if errors.Is(err, ErrNotFound) {
		return Profile{}, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
	}
	if err != nil {
		return Profile{}, err
	}
	application = strings.TrimSpace(application)
	if application == "" {
		application = DefaultApplication
	}
	actions, err := s.resolver.ResolveApplication(ctx, user.ID, application)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Actions:   actions,
	}, nil
}

// CheckEmail reports whether an account exists for email.
func (s *Service) CheckEmail(ctx context.Context, email string) (bool, error) {
	email, err := validateEmail(email)
	if err != nil {
		return false, err
	}
	return s.store.EmailExists(ctx, email)
}

// Register creates a user. When a role is given, the role's default actions
// on the target application are granted directly in the same transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	email, err := validateEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	if len(in.Password) < MinPasswordLength {
		return User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return User{}, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}

	grants, err := s.roleGrants(ctx, strings.TrimSpace(in.Role), strings.TrimSpace(in.ApplicationName))
	if err != nil {
		return User{}, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("auth: hash password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, NewUser{
		Email:        email,
		FirstName:    first,
		LastName:     last,
		PasswordHash: hash,
	}, grants)
	if err != nil {
		return User{}, err
	}
	s.auditor.Record(ctx, "auth.user.registered", map[string]any{
		"user_id": user.ID,
		"role":    in.Role,
		"grants":  len(grants),
	})
	return user, nil
}

func (s *Service) roleGrants(ctx context.Context, role, application string) ([]ActionGrant, error) {
	if role == "" {
		return nil, nil
	}
	actions, ok := RoleActions(role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if len(actions) == 0 {
		return nil, nil
	}
	if application == "" {
		application = DefaultApplication
	}
	appID, err := s.store.ApplicationID(ctx, application)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, application)
	}
	if err != nil {
		return nil, err
	}
	actionIDs, err := s.store.ActionIDs(ctx, actions)
	if err != nil {
		return nil, err
	}
	grants := make([]ActionGrant, 0, len(actions))
	var missing []string
	for _, a := range actions {
		id, ok := actionIDs[a]
		if !ok {
			missing = append(missing, a)
			continue
		}
		grants = append(grants, ActionGrant{ApplicationID: appID, ActionID: id})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrActionsNotFound, strings.Join(missing, ", "))
	}
	return grants, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, email, current, next string) error {
	email = normalizeEmail(email)
	if email == "" || current == "" {
		return fmt.Errorf("%w: email and current password are required", ErrInvalidInput)
	}
	if len(next) < MinPasswordLength {
		return fmt.Errorf("%w: new password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		burnPasswordCheck(current)
		return fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	s.auditor.Record(ctx, "auth.password.changed", map[string]any{"user_id": user.ID})
	return nil
}

// ListUsers returns one page of users. Page numbers start at 1; the page size
// is clamped to [1, 100].
func (s *Service) ListUsers(ctx context.Context, page, pageSize int) (UserPage, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	users, total, err := s.store.ListUsers(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return UserPage{}, err
	}
	if users == nil {
		users = []User{}
	}
	return UserPage{Users: users, Total: total, Page: page, PageSize: pageSize}, nil
}

// normalizeEmail trims surrounding space. Emails are case-sensitive as stored.
func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func validateEmail(email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return email, nil
}
