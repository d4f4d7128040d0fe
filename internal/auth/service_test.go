package auth

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"tessera.dev/internal/ott"
	"tessera.dev/internal/permission"
	"tessera.dev/internal/token"
)

type memStore struct {
	mu        sync.Mutex
	nextID    int64
	users     map[int64]User
	groups    map[int64][]Group
	grants    map[int64][]permission.Grant
	apps      map[string]int64
	actions   map[string]int64
	failGrant error
}

func newMemStore() *memStore {
	return &memStore{
		nextID:  100,
		users:   make(map[int64]User),
		groups:  make(map[int64][]Group),
		grants:  make(map[int64][]permission.Grant),
		apps:    map[string]int64{"BUDGETS": 1},
		actions: map[string]int64{},
	}
}

func (m *memStore) GrantRows(_ context.Context, userID int64) ([]permission.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGrant != nil {
		return nil, m.failGrant
	}
	return append([]permission.Grant(nil), m.grants[userID]...), nil
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memStore) FindUserByID(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memStore) GroupsForUser(_ context.Context, userID int64) ([]Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Group(nil), m.groups[userID]...), nil
}

func (m *memStore) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := m.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *memStore) ListUsers(_ context.Context, limit, offset int) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u)
	}
	slices.SortFunc(all, func(a, b User) int { return int(a.ID - b.ID) })
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (m *memStore) ApplicationID(_ context.Context, name string) (int64, error) {
	id, ok := m.apps[name]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func (m *memStore) ActionIDs(_ context.Context, names []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, n := range names {
		if id, ok := m.actions[n]; ok {
			out[n] = id
		}
	}
	return out, nil
}

func (m *memStore) CreateUser(_ context.Context, nu NewUser, grants []ActionGrant) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == nu.Email {
			return User{}, ErrConflict
		}
	}
	m.nextID++
	u := User{ID: m.nextID, Email: nu.Email, FirstName: nu.FirstName, LastName: nu.LastName, PasswordHash: nu.PasswordHash}
	m.users[u.ID] = u
	for _, g := range grants {
		for name, id := range m.actions {
			if id == g.ActionID {
				m.grants[u.ID] = append(m.grants[u.ID], permission.Grant{
					ApplicationID: g.ApplicationID, ApplicationName: "BUDGETS", Action: name, Source: permission.SourceDirect,
				})
			}
		}
	}
	return u, nil
}

func (m *memStore) UpdatePassword(_ context.Context, userID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	m.users[userID] = u
	return nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (a *recordingAuditor) Record(_ context.Context, event string, fields map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	a.fields = append(a.fields, fields)
}

type loginCounter struct{ results []string }

func (c *loginCounter) Login(result string) { c.results = append(c.results, result) }

type fixture struct {
	store   *memStore
	svc     *Service
	otts    *ott.Store
	auditor *recordingAuditor
	logins  *loginCounter
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMemStore()
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	st.users[42] = User{ID: 42, Email: "a@b.com", FirstName: "Ada", LastName: "Byron", PasswordHash: hash}
	st.groups[42] = []Group{{ID: 3, Name: "managers"}}
	st.grants[42] = []permission.Grant{
		{ApplicationID: 1, ApplicationName: "BUDGETS", Action: "reports.view", Source: permission.SourceGroup},
		{ApplicationID: 1, ApplicationName: "BUDGETS", Action: "expenses.view", Source: permission.SourceDirect},
		{ApplicationID: 1, ApplicationName: "BUDGETS", Action: "expenses.view", Source: permission.SourceGroup},
	}

	f := &fixture{store: st, auditor: &recordingAuditor{}, logins: &loginCounter{}, now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return f.now }

	signer, err := token.New([]byte("test-secret"))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	f.otts, err = ott.New(ott.WithClock(clock))
	if err != nil {
		t.Fatalf("ott.New: %v", err)
	}
	f.svc, err = NewService(st, signer, f.otts,
		WithClock(clock),
		WithSessionTTL(time.Hour),
		WithAuditor(f.auditor),
		WithLoginMetrics(f.logins),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return f
}

func TestLoginThenExchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "  A@B.com ", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Ticket.ExpiresInSeconds != 120 || len(res.Ticket.Token) != 32 {
		t.Fatalf("unexpected ticket %+v", res.Ticket)
	}
	if !res.SessionExpiresAt.Equal(f.now.Add(time.Hour)) {
		t.Fatalf("unexpected session expiry %v", res.SessionExpiresAt)
	}

	c, err := f.svc.Exchange(ctx, res.Ticket.Token)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	want := `{"sub":42,"email":"a@b.com","groups":["managers"],"features":{"BUDGETS":["expenses.view","reports.view"]}}`
	if string(data) != want {
		t.Fatalf("claims mismatch:\n got %s\nwant %s", data, want)
	}

	if _, err := f.svc.Exchange(ctx, res.Ticket.Token); !errors.Is(err, ott.ErrNotFoundOrExpired) {
		t.Fatalf("second exchange: expected ErrNotFoundOrExpired, got %v", err)
	}

	session, err := f.svc.VerifySession(ctx, res.Session)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if session.Subject != 42 || session.ID == "" || !session.Features.Allows("BUDGETS", "reports.view") {
		t.Fatalf("unexpected session %+v", session)
	}

	if !slices.Equal(f.logins.results, []string{LoginSucceeded}) {
		t.Fatalf("unexpected login metrics %v", f.logins.results)
	}
	if !slices.Contains(f.auditor.events, "auth.login.succeeded") || !slices.Contains(f.auditor.events, "auth.ott.exchanged") {
		t.Fatalf("missing audit events %v", f.auditor.events)
	}
}

func TestLoginFailuresLookAlike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, "nobody@b.com", "correct-horse")
	_, errWrong := f.svc.Login(ctx, "a@b.com", "wrong-password")
	if !errors.Is(errUnknown, ErrUnauthorized) || !errors.Is(errWrong, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("failure messages differ: %q vs %q", errUnknown, errWrong)
	}
	if f.otts.Len() != 0 {
		t.Fatalf("failed logins must not create one-time tokens")
	}
	for _, fields := range f.auditor.fields {
		for _, v := range fields {
			if s, ok := v.(string); ok && strings.Contains(s, "wrong-password") {
				t.Fatalf("password leaked into audit fields: %v", fields)
			}
		}
	}
	if _, err := f.svc.Login(ctx, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoginPropagatesStoreErrors(t *testing.T) {
	f := newFixture(t)
	f.store.failGrant = ErrStore
	if _, err := f.svc.Login(context.Background(), "a@b.com", "correct-horse"); !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if f.otts.Len() != 0 {
		t.Fatalf("no token may be issued when resolution fails")
	}
}

func TestExchangeRejectsShortToken(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Exchange(context.Background(), "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExchangeAfterExpiry(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Login(context.Background(), "a@b.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.now = f.now.Add(2 * time.Minute)
	if _, err := f.svc.Exchange(context.Background(), res.Ticket.Token); !errors.Is(err, ott.ErrNotFoundOrExpired) {
		t.Fatalf("expected ErrNotFoundOrExpired, got %v", err)
	}
}

func TestVerifySessionRejectsTamperedAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "a@b.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	parts := strings.Split(res.Session, ".")
	forged := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := f.svc.VerifySession(ctx, forged); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for forged token, got %v", err)
	}
	if _, err := f.svc.VerifySession(ctx, "not-a-token"); !errors.Is(err, token.ErrMalformedToken) {
		t.Fatalf("expected wrapped ErrMalformedToken, got %v", err)
	}

	f.now = f.now.Add(time.Hour)
	if _, err := f.svc.VerifySession(ctx, res.Session); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired session to be rejected, got %v", err)
	}
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "a@b.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	p, err := f.svc.Me(ctx, res.Session, "")
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if p.UserID != 42 || p.FirstName != "Ada" || !slices.Equal(p.Actions, []string{"expenses.view", "reports.view"}) {
		t.Fatalf("unexpected profile %+v", p)
	}
	other, err := f.svc.Me(ctx, res.Session, "UNKNOWN")
	if err != nil {
		t.Fatalf("Me(UNKNOWN): %v", err)
	}
	if other.Actions == nil || len(other.Actions) != 0 {
		t.Fatalf("expected empty action list, got %v", other.Actions)
	}
}

func TestRegisterWithRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.actions = map[string]int64{
		ActionExpensesView: 1, ActionReportsView: 2, ActionUsersCreate: 3, ActionExpensesAdminView: 4,
	}

	u, err := f.svc.Register(ctx, RegisterInput{
		Email: "New@Example.com", Password: "secret1", FirstName: "New", LastName: "User", Role: "admin",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "New@Example.com" || u.PasswordHash == "secret1" {
		t.Fatalf("unexpected user %+v", u)
	}
	if err := VerifyPassword(u.PasswordHash, "secret1"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
	if got := len(f.store.grants[u.ID]); got != 4 {
		t.Fatalf("expected 4 direct grants, got %d", got)
	}

	exists, err := f.svc.CheckEmail(ctx, "New@Example.com")
	if err != nil || !exists {
		t.Fatalf("CheckEmail: exists=%v err=%v", exists, err)
	}

	_, err = f.svc.Register(ctx, RegisterInput{Email: " New@Example.com ", Password: "secret1", FirstName: "A", LastName: "B"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestEmailIsCaseSensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mixed, err := f.svc.Register(ctx, RegisterInput{
		Email: "Ada@Example.com", Password: "secret1", FirstName: "Ada", LastName: "Upper",
	})
	if err != nil {
		t.Fatalf("Register mixed case: %v", err)
	}
	lower, err := f.svc.Register(ctx, RegisterInput{
		Email: "ada@example.com", Password: "secret2", FirstName: "Ada", LastName: "Lower",
	})
	if err != nil {
		t.Fatalf("Register lower case: %v", err)
	}
	if mixed.ID == lower.ID {
		t.Fatal("expected distinct accounts for emails differing in case")
	}

	res, err := f.svc.Login(ctx, "Ada@Example.com", "secret1")
	if err != nil {
		t.Fatalf("Login with stored case: %v", err)
	}
	if res.User.ID != mixed.ID || res.User.Email != "Ada@Example.com" {
		t.Fatalf("unexpected user %+v", res.User)
	}
	if _, err := f.svc.Login(ctx, "ADA@EXAMPLE.COM", "secret1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for other case, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "ada@example.com", "secret1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected the lower-case account to keep its own password, got %v", err)
	}

	exists, err := f.svc.CheckEmail(ctx, "ADA@example.com")
	if err != nil || exists {
		t.Fatalf("CheckEmail other case: exists=%v err=%v", exists, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"bad email", RegisterInput{Email: "nope", Password: "secret1", FirstName: "A", LastName: "B"}, ErrInvalidInput},
		{"short password", RegisterInput{Email: "x@y.z", Password: "123", FirstName: "A", LastName: "B"}, ErrInvalidInput},
		{"missing names", RegisterInput{Email: "x@y.z", Password: "secret1"}, ErrInvalidInput},
		{"unknown role", RegisterInput{Email: "x@y.z", Password: "secret1", FirstName: "A", LastName: "B", Role: "pirate"}, ErrInvalidInput},
		{"unknown app", RegisterInput{Email: "x@y.z", Password: "secret1", FirstName: "A", LastName: "B", Role: "admin", ApplicationName: "NOPE"}, ErrApplicationNotFound},
		{"unknown actions", RegisterInput{Email: "x@y.z", Password: "secret1", FirstName: "A", LastName: "B", Role: "accountant"}, ErrActionsNotFound},
	}
	for _, tc := range cases {
		if _, err := f.svc.Register(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.ChangePassword(ctx, "a@b.com", "wrong", "new-secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, "a@b.com", "correct-horse", "123"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, "a@b.com", "correct-horse", "new-secret"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@b.com", "new-secret"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestListUsersClampsPaging(t *testing.T) {
	f := newFixture(t)
	page, err := f.svc.ListUsers(context.Background(), 0, 1000)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if page.Page != 1 || page.PageSize != 100 || page.Total != 1 || len(page.Users) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	empty, err := f.svc.ListUsers(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if empty.PageSize != 20 || empty.Users == nil || len(empty.Users) != 0 {
		t.Fatalf("unexpected empty page %+v", empty)
	}
}

func TestSessionContext(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatalf("expected no user in empty context")
	}
	ctx := ContextWithSession(context.Background(), token.Session{})
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatalf("session without subject must not yield a user id")
	}
}
