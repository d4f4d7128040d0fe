// Package token signs and verifies compact HS256 credentials of the form
// base64url(header).base64url(payload).base64url(HMAC-SHA256(header.payload)).
//
// Verification checks structure and signature only. Expiry lives in the
// payload and is checked by callers that need it (see Session.Expired).
package token

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const headerJSON = `{"alg":"HS256","typ":"JWT"}`

var (
	// ErrMissingSecret is returned when a signer is built without a secret.
	ErrMissingSecret = errors.New("token: signing secret is not configured")
	// ErrMalformedToken covers wrong segment counts, undecodable segments
	// (including a non-canonical signature encoding) and unexpected headers.
	ErrMalformedToken = errors.New("token: malformed token")
	// ErrInvalidSignature means the signature does not match header.payload.
	ErrInvalidSignature = errors.New("token: invalid signature")
)

var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(headerJSON))

// Signer holds the process-wide HMAC secret. It is immutable after New and
// safe for concurrent use.
type Signer struct {
	secret []byte
}

// New copies secret into a Signer.
func New(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Signer{secret: key}, nil
}

// SignPayload signs an already encoded JSON payload.
func (s *Signer) SignPayload(payload []byte) (string, error) {
	signingString := encodedHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	sig, err := s.signature(signingString)
	if err != nil {
		return "", err
	}
	return signingString + "." + sig, nil
}

// Sign JSON-encodes v and signs it.
func (s *Signer) Sign(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("token: encode payload: %w", err)
	}
	return s.SignPayload(payload)
}

// Verify checks the token and returns the payload bytes exactly as signed.
func (s *Signer) Verify(token string) ([]byte, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, ErrMalformedToken
	}
	header, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return nil, ErrMalformedToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, ErrMalformedToken
	}
	if segments[2] == "" {
		return nil, ErrMalformedToken
	}
	if _, err := base64.RawURLEncoding.Strict().DecodeString(segments[2]); err != nil {
		return nil, ErrMalformedToken
	}

	expected, err := s.signature(segments[0] + "." + segments[1])
	if err != nil {
		return nil, err
	}
	// The encoded signature length is fixed for HS256, so rejecting on length
	// reveals nothing an observer of the token does not already know.
	if len(expected) != len(segments[2]) {
		return nil, ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(segments[2])) != 1 {
		return nil, ErrInvalidSignature
	}

	var h struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(header, &h); err != nil || h.Alg != jwt.SigningMethodHS256.Alg() {
		return nil, ErrMalformedToken
	}
	return payload, nil
}

// VerifyInto verifies the token and decodes its payload into v.
func (s *Signer) VerifyInto(token string, v any) error {
	payload, err := s.Verify(token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	return nil
}

func (s *Signer) signature(signingString string) (string, error) {
	sig, err := jwt.SigningMethodHS256.Sign(signingString, s.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}
