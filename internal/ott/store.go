// Package ott implements the short-lived one-time token exchange. A token is
// created after login, handed to another origin and redeemed exactly once.
//
// The table lives in process memory. Tokens created by one replica cannot be
// redeemed on another; deployments running several replicas must route the
// exchange back to the issuing instance.
package ott

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultTTL          = 2 * time.Minute
	DefaultReapInterval = 30 * time.Second
)

var (
	// ErrNotFoundOrExpired is returned for unknown, already consumed and
	// expired tokens alike.
	ErrNotFoundOrExpired = errors.New("ott: invalid or expired one-time token")
	ErrInvalidPayload    = errors.New("ott: payload is required")
	ErrInvalidTTL        = errors.New("ott: ttl must not be negative")
)

// Consume outcomes reported to Metrics.
const (
	ResultOK      = "ok"
	ResultMissing = "missing"
	ResultExpired = "expired"
)

// Metrics receives store events. All methods must be safe for concurrent use.
type Metrics interface {
	Created()
	Consumed(result string)
	Reaped(n int)
	Live(n int)
}

type nopMetrics struct{}

func (nopMetrics) Created()        {}
func (nopMetrics) Consumed(string) {}
func (nopMetrics) Reaped(int)      {}
func (nopMetrics) Live(int)        {}

// Ticket is what the caller hands to the client.
type Ticket struct {
	Token            string `json:"token"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

type entry struct {
	payload   Payload
	expiresAt time.Time
}

// Store is a mutex-guarded token table. The zero value is not usable; build
// one with New.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry

	ttl          time.Duration
	reapInterval time.Duration
	now          func() time.Time
	metrics      Metrics
}

// Option configures a Store.
type Option func(*Store) error

// WithTTL overrides the lifetime used by CreateDefault.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) error {
		if ttl <= 0 {
			return fmt.Errorf("ott: default ttl must be positive, got %s", ttl)
		}
		s.ttl = ttl
		return nil
	}
}

// WithReapInterval overrides how often Run sweeps expired entries.
func WithReapInterval(d time.Duration) Option {
	return func(s *Store) error {
		if d <= 0 {
			return fmt.Errorf("ott: reap interval must be positive, got %s", d)
		}
		s.reapInterval = d
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		if now == nil {
			return errors.New("ott: clock is nil")
		}
		s.now = now
		return nil
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Store) error {
		if m != nil {
			s.metrics = m
		}
		return nil
	}
}

// New builds an empty store.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		entries:      make(map[string]entry),
		ttl:          DefaultTTL,
		reapInterval: DefaultReapInterval,
		now:          time.Now,
		metrics:      nopMetrics{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// TTL returns the default lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// CreateDefault stores payload with the default lifetime.
func (s *Store) CreateDefault(payload Payload) (Ticket, error) {
	return s.Create(payload, s.ttl)
}

// Create stores payload under a fresh 128-bit token. A zero ttl yields an
// entry that is already expired.
func (s *Store) Create(payload Payload, ttl time.Duration) (Ticket, error) {
	if payload == nil {
		return Ticket{}, ErrInvalidPayload
	}
	if ttl < 0 {
		return Ticket{}, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	tok, err := newToken()
	if err != nil {
		return Ticket{}, err
	}
	expiresAt := s.now().Add(ttl)

	s.mu.Lock()
	s.entries[tok] = entry{payload: payload, expiresAt: expiresAt}
	live := len(s.entries)
	s.mu.Unlock()

	s.metrics.Created()
	s.metrics.Live(live)
	return Ticket{Token: tok, ExpiresInSeconds: int64(ttl / time.Second)}, nil
}

// Consume removes the entry and returns its payload. The entry is gone after
// the call whatever the outcome, so a token is redeemable at most once.
func (s *Store) Consume(token string) (Payload, error) {
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	live := len(s.entries)
	s.mu.Unlock()

	switch {
	case !ok:
		s.metrics.Consumed(ResultMissing)
		return nil, ErrNotFoundOrExpired
	case !now.Before(e.expiresAt):
		s.metrics.Consumed(ResultExpired)
		s.metrics.Live(live)
		return nil, ErrNotFoundOrExpired
	}
	s.metrics.Consumed(ResultOK)
	s.metrics.Live(live)
	return e.payload, nil
}

// Len returns the number of live entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reap deletes every entry expired at now and returns how many were removed.
func (s *Store) Reap(now time.Time) int {
	s.mu.Lock()
	removed := 0
	for tok, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, tok)
			removed++
		}
	}
	live := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.metrics.Reaped(removed)
	}
	s.metrics.Live(live)
	return removed
}

// Run sweeps expired entries every reap interval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap(s.now())
		}
	}
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("ott: generate token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
