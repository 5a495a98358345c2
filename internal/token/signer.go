// Package token signs and validates the JWT access, refresh and ID tokens
// issued by the authorization server. Tokens are HS512 signed with a
// single process-wide key.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/golang-jwt/jwt/v5"
)

// MinKeyLength is the smallest HS512 key accepted, in bytes.
const MinKeyLength = 64

// Signer issues and validates HS512 tokens. The key is never modified
// after NewSigner returns, so a Signer is safe for concurrent use.
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner builds a Signer from a base64url encoded secret. When the
// secret is empty or decodes to fewer than MinKeyLength bytes a random
// key is generated and a warning logged; tokens signed with it do not
// survive a restart.
func NewSigner(secret string, logger *slog.Logger) (*Signer, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return nil, err
	}

	if len(key) < MinKeyLength {
		logger.Warn("JWT_SECRET missing or too short for HS512, generated an ephemeral signing key",
			slog.Int("configured_bytes", len(key)),
			slog.Int("required_bytes", MinKeyLength),
		)

		key, err = GenerateKey()
		if err != nil {
			return nil, err
		}
	}

	return &Signer{key: key, now: time.Now}, nil
}

// NewSignerWithKey builds a Signer from raw key bytes. The key must be at
// least MinKeyLength bytes.
func NewSignerWithKey(key []byte) (*Signer, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinKeyLength, len(key))
	}

	k := make([]byte, len(key))
	copy(k, key)

	return &Signer{key: k, now: time.Now}, nil
}

// GenerateKey returns MinKeyLength random bytes.
func GenerateKey() ([]byte, error) {
	key := make([]byte, MinKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	return key, nil
}

// EncodeKey renders a key in the form NewSigner expects.
func EncodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimRight(strings.TrimSpace(secret), "=")
	if secret == "" {
		return nil, nil
	}

	key, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decoding JWT_SECRET as base64url: %w", err)
	}

	return key, nil
}

// Issue signs claims with iat set to now and exp to now+ttl. All other
// claims are copied unchanged. A negative ttl yields an already expired
// token.
func (s *Signer) Issue(claims map[string]any, ttl time.Duration) (string, error) {
	now := s.now()

	mc := make(jwt.MapClaims, len(claims)+2)
	for k, v := range claims {
		mc[k] = v
	}

	mc["iat"] = jwt.NewNumericDate(now)
	mc["exp"] = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, mc).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrTokenGeneration, err)
	}

	return signed, nil
}

// Validate parses token and returns its claims. Failures are reported
// as ErrTokenMalformed, ErrTokenSignatureInvalid, ErrTokenExpired,
// ErrTokenUnsupported or ErrTokenClaimsEmpty, checked in that order.
// Claims are never returned alongside an error.
func (s *Signer) Validate(token string) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.ErrTokenClaimsEmpty
	}

	claims := jwt.MapClaims{}

	_, err := jwt.ParseWithClaims(token, claims, s.keyFunc, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, classify(err)
	}

	if len(claims) == 0 {
		return nil, apperrors.ErrTokenClaimsEmpty
	}

	return Claims(claims), nil
}

// IsValid reports whether Validate accepts token.
func (s *Signer) IsValid(token string) bool {
	_, err := s.Validate(token)
	return err == nil
}

// Subject returns the sub claim of a valid token.
func (s *Signer) Subject(token string) (string, error) {
	claims, err := s.Validate(token)
	if err != nil {
		return "", err
	}

	return claims.Subject(), nil
}

// Claim returns a single claim of a valid token, or nil when absent.
func (s *Signer) Claim(token, name string) (any, error) {
	claims, err := s.Validate(token)
	if err != nil {
		return nil, err
	}

	return claims[name], nil
}

// keyFunc only hands out the key for HS512. Any other alg, including
// "none", makes the parser report ErrTokenUnverifiable.
func (s *Signer) keyFunc(t *jwt.Token) (any, error) {
	if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS512.Alg() {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}

	return s.key, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", apperrors.ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", apperrors.ErrTokenUnsupported, err)
	default:
		return fmt.Errorf("%w: %v", apperrors.ErrTokenInvalid, err)
	}
}
