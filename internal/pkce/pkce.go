// Package pkce implements Proof Key for Code Exchange (RFC 7636).
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"golang.org/x/oauth2"
)

const (
	MethodPlain = "plain"
	MethodS256  = "S256"
)

// ComputeChallenge derives the code_challenge for verifier. Only the
// plain and S256 methods are supported.
func ComputeChallenge(verifier, method string) (string, error) {
	switch method {
	case MethodPlain:
		return verifier, nil
	case MethodS256:
		h := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(h[:]), nil
	default:
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidCodeChallengeMethod, method)
	}
}

// VerifyChallenge reports whether verifier hashes to challenge under
// method. It never errors: empty inputs and unknown methods are simply
// a failed verification.
func VerifyChallenge(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}

	computed, err := ComputeChallenge(verifier, method)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// NormalizeMethod applies the RFC 7636 default (plain when absent) and
// rejects unknown methods.
func NormalizeMethod(method string) (string, error) {
	switch method {
	case "":
		return MethodPlain, nil
	case MethodPlain, MethodS256:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidCodeChallengeMethod, method)
	}
}

// GenerateVerifier returns a fresh random code_verifier of 43 URL-safe
// characters.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// GeneratePair returns a new verifier and its S256 challenge.
func GeneratePair() (verifier, challenge string) {
	verifier = GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}
