// Package authcode issues and redeems single-use authorization codes.
// Redemption is an atomic check-and-set in every backend: under
// concurrent attempts on one code exactly one succeeds and the others
// see ErrAuthorizationCodeUsed.
package authcode

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/alexjbarnes/authcore/internal/models"
	"github.com/alexjbarnes/authcore/internal/pkce"
)

const (
	// DefaultTTL is the lifetime of an issued code.
	DefaultTTL = 10 * time.Minute

	// codeBytes is the entropy of a code before base64url encoding.
	codeBytes = 32
)

// CheckFunc inspects a stored code inside a backend's critical section.
// A nil code means the code does not exist. Returning nil lets the
// backend mark the code used.
type CheckFunc func(ac *models.AuthorizationCode) error

// Backend persists codes. Redeem must run check and the used-flag update
// atomically with respect to other Redeem calls on the same code.
type Backend interface {
	Insert(ctx context.Context, ac *models.AuthorizationCode) error
	Redeem(ctx context.Context, code string, check CheckFunc) (*models.AuthorizationCode, error)
	// Purge deletes codes that expired before cutoff and reports how
	// many were removed.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// IssueParams describes a code to issue at consent.
type IssueParams struct {
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	TTL                 time.Duration
}

// RedeemParams carries what the client presents at the token endpoint.
// ClientID is optional; when set it must match the issuing client.
type RedeemParams struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

// Store issues codes into a Backend and redeems them.
type Store struct {
	backend Backend
	now     func() time.Time
	random  func([]byte) (int, error)
}

// NewStore wraps backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now, random: rand.Read}
}

// Issue generates and persists a new unused code.
func (s *Store) Issue(ctx context.Context, p IssueParams) (*models.AuthorizationCode, error) {
	b := make([]byte, codeBytes)
	if _, err := s.random(b); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrAuthorizationCodeGeneration, err)
	}

	ttl := p.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	now := s.now()
	ac := &models.AuthorizationCode{
		Code:                base64.RawURLEncoding.EncodeToString(b),
		ClientID:            p.ClientID,
		UserID:              p.UserID,
		RedirectURI:         p.RedirectURI,
		Scope:               p.Scope,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		Nonce:               p.Nonce,
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
	}

	if err := s.backend.Insert(ctx, ac); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrAuthorizationCodeGeneration, err)
	}

	return ac, nil
}

// Redeem validates p against the stored code and marks it used. The
// checks run in order: existence, expiry, prior use, redirect URI,
// client, PKCE. A code is only marked used when every check passes.
func (s *Store) Redeem(ctx context.Context, p RedeemParams) (*models.AuthorizationCode, error) {
	if p.Code == "" {
		return nil, apperrors.ErrInvalidAuthorizationCode
	}

	return s.backend.Redeem(ctx, p.Code, s.check(p))
}

func (s *Store) check(p RedeemParams) CheckFunc {
	return func(ac *models.AuthorizationCode) error {
		if ac == nil {
			return apperrors.ErrInvalidAuthorizationCode
		}

		if ac.Expired(s.now()) {
			return apperrors.ErrAuthorizationCodeExpired
		}

		if ac.Used {
			return apperrors.ErrAuthorizationCodeUsed
		}

		if ac.RedirectURI != p.RedirectURI {
			return apperrors.ErrRedirectMismatch
		}

		if p.ClientID != "" && ac.ClientID != p.ClientID {
			return apperrors.ErrClientMismatch
		}

		if ac.CodeChallenge != "" && !pkce.VerifyChallenge(p.CodeVerifier, ac.CodeChallenge, ac.CodeChallengeMethod) {
			return apperrors.ErrCodeVerifierMismatch
		}

		return nil
	}
}

// Purge removes codes that expired more than retention ago.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int, error) {
	return s.backend.Purge(ctx, s.now().Add(-retention))
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
