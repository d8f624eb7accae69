// Package token implements the TokenIssuer (C2): minting and validating
// opaque bearer tokens binding (session, role, subject), per spec.md §4.8
// and §4.7 step 1. Generalizes the JWT-claims-binding pattern the rest of
// the pack uses for bearer auth (the `golang-jwt/jwt/v5` dependency named
// in the DOMAIN STACK) into a single-purpose session/role/subject token —
// clients never interpret the token's contents, only present it back.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quizsync/engine/internal/apperr"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/domain"
)

// claims is the private JWT claim set. Only the Issuer ever parses these;
// it is never exposed to callers as anything but an opaque string.
type claims struct {
	SessionID string      `json:"sid"`
	Role      domain.Role `json:"role"`
	Subject   string      `json:"sub"`
	jwt.RegisteredClaims
}

// Binding is the decoded identity a validated token carries.
type Binding struct {
	SessionID string
	Role      domain.Role
	Subject   string
}

// Issuer mints and validates tokens signed with an HMAC key, per §4.8's
// "cryptographic identity beyond opaque bearer tokens" boundary (Non-goals
// §1): the token is a bearer credential, not an identity system.
type Issuer struct {
	signingKey []byte
	ttl        time.Duration
	clock      clock.Clock
}

// New constructs an Issuer. signingKey must be non-empty; ttl is the
// validity window applied by Mint (default handshake/session lifetime,
// overridable by callers per token via MintWithTTL); a ttl ≤0 becomes 24h.
func New(signingKey []byte, ttl time.Duration, c clock.Clock) (*Issuer, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("token: signing key must not be empty")
	}
	if c == nil {
		c = clock.System{}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{signingKey: signingKey, ttl: ttl, clock: c}, nil
}

// Mint issues a token binding (sessionID, role, subject) with the Issuer's
// default TTL.
func (i *Issuer) Mint(sessionID string, role domain.Role, subject string) (string, error) {
	return i.MintWithTTL(sessionID, role, subject, i.ttl)
}

// MintWithTTL issues a token with an explicit TTL, used by the recovery
// path to keep reconnection grace windows (§4.7) independent of the
// original session-join token lifetime.
func (i *Issuer) MintWithTTL(sessionID string, role domain.Role, subject string, ttl time.Duration) (string, error) {
	now := i.clock.Now()
	c := claims{
		SessionID: sessionID,
		Role:      role,
		Subject:   subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies raw, returning the bound identity. It
// returns *apperr.Error with ExpiredToken or MissingToken/Unauthorized
// codes on failure, per spec.md §7's external taxonomy.
func (i *Issuer) Validate(raw string) (Binding, error) {
	if raw == "" {
		return Binding{}, apperr.New(apperr.MissingToken, "token is required")
	}

	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return i.signingKey, nil
	}, jwt.WithTimeFunc(i.clock.Now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Binding{}, apperr.New(apperr.ExpiredToken, "token expired")
		}
		return Binding{}, apperr.New(apperr.Unauthorized, "token invalid")
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Binding{}, apperr.New(apperr.Unauthorized, "token invalid")
	}

	return Binding{SessionID: c.SessionID, Role: c.Role, Subject: c.Subject}, nil
}

// ValidateForSession validates raw and additionally requires it to bind
// the given sessionID, per §4.7 step 1: "Validates the token against the
// session/role."
func (i *Issuer) ValidateForSession(raw, sessionID string) (Binding, error) {
	b, err := i.Validate(raw)
	if err != nil {
		return Binding{}, err
	}
	if b.SessionID != sessionID {
		return Binding{}, apperr.New(apperr.Unauthorized, "token not bound to this session")
	}
	return b, nil
}
