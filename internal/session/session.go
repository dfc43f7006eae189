// Package session issues and verifies the signed, self-expiring tokens that
// carry an admin's identity in the session cookie. Verification is stateless.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SchemaVersion is embedded in every token. Tokens carrying any other
// version are rejected as invalid.
const SchemaVersion = 1

const issuer = "gatehouse"

// Status is the outcome of verifying a token.
type Status int

const (
	Invalid Status = iota
	Valid
	Expired
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "invalid"
	}
}

// Claims is the identity carried by a session token.
type Claims struct {
	AdminID       int64
	Email         string
	Username      string
	SchemaVersion int
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// Result is returned by Verify. Claims is only populated when Status is Valid.
type Result struct {
	Status Status
	Claims Claims
}

// Subject identifies the admin a token is issued for.
type Subject struct {
	ID       int64
	Email    string
	Username string
}

// Token is a freshly signed session token and the lifetime the cookie
// carrying it should be given.
type Token struct {
	Value     string
	MaxAge    time.Duration
	ExpiresAt time.Time
}

type tokenClaims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Version  int    `json:"ver"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens with a single HMAC secret.
type Manager struct {
	secret      []byte
	ttl         time.Duration
	rememberTTL time.Duration
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. ttl applies to regular sessions and
// rememberTTL to "remember me" sessions.
func NewManager(secret string, ttl, rememberTTL time.Duration, opts ...Option) *Manager {
	m := &Manager{
		secret:      []byte(secret),
		ttl:         ttl,
		rememberTTL: rememberTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue signs a new token for sub.
func (m *Manager) Issue(sub Subject, remember bool) (Token, error) {
	ttl := m.ttl
	if remember {
		ttl = m.rememberTTL
	}
	now := m.now()
	exp := now.Add(ttl)

	claims := tokenClaims{
		Email:    sub.Email,
		Username: sub.Username,
		Version:  SchemaVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(sub.ID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign session token: %w", err)
	}
	return Token{Value: signed, MaxAge: ttl, ExpiresAt: exp}, nil
}

// Verify checks a token's signature, shape and expiry. The signature is
// checked before expiry, so a tampered token is Invalid even when its
// claimed expiry has passed.
func (m *Manager) Verify(token string) Result {
	if token == "" {
		return Result{Status: Invalid}
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Result{Status: Expired}
		}
		return Result{Status: Invalid}
	}

	if claims.Version != SchemaVersion {
		return Result{Status: Invalid}
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Result{Status: Invalid}
	}

	out := Claims{
		AdminID:       id,
		Email:         claims.Email,
		Username:      claims.Username,
		SchemaVersion: claims.Version,
		ExpiresAt:     claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return Result{Status: Valid, Claims: out}
}
