// Package auth issues and verifies HS256-signed session tokens from the
// configured secret key. When no key is configured the signer is disabled and
// every operation reports that state instead of failing startup.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/mrecos/mcp-gateway/internal/config"
)

// ErrDisabled indicates no secret key was configured.
var ErrDisabled = errors.New("session signing disabled: no secret key configured")

// Signer signs and verifies session tokens.
type Signer struct {
	enabled bool
	key     []byte
	issuer  string
	ttl     time.Duration
}

// New builds a signer from session configuration.
func New(cfg config.SessionConfig) *Signer {
	s := &Signer{
		enabled: cfg.SecretKey != "",
		key:     []byte(cfg.SecretKey),
		issuer:  cfg.Issuer,
		ttl:     cfg.TTL,
	}
	if s.issuer == "" {
		s.issuer = "mcp-gateway"
	}
	if s.ttl <= 0 {
		s.ttl = 12 * time.Hour
	}
	return s
}

// Enabled reports whether a secret key is configured.
func (s *Signer) Enabled() bool {
	return s != nil && s.enabled
}

// Issue creates a signed session token for the subject.
func (s *Signer) Issue(subject string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if subject == "" {
		return "", errors.New("subject required")
	}

	now := time.Now()
	token, err := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(s.ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

// Verify validates a session token and returns its subject.
func (s *Signer) Verify(raw string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}

	token, err := jwt.ParseString(raw,
		jwt.WithKey(jwa.HS256, s.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
	)
	if err != nil {
		return "", err
	}
	return token.Subject(), nil
}
