package errors

import "errors"

// Authorization request errors.
var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidApprovedScopes = errors.New("approved scopes must be a non-empty subset of the requested scopes")
	ErrInvalidScope          = errors.New("requested scope is not allowed for this client")
	ErrInvalidClient         = errors.New("unknown client")
	ErrInvalidRedirectURI    = errors.New("redirect_uri not registered for this client")
	ErrAccessDenied          = errors.New("resource owner denied the request")
)

// Authorization code errors.
var (
	ErrAuthorizationCodeGeneration = errors.New("failed to generate authorization code")
	ErrInvalidAuthorizationCode    = errors.New("invalid authorization code")
	ErrAuthorizationCodeExpired    = errors.New("authorization code expired")
	ErrAuthorizationCodeUsed       = errors.New("authorization code already used")
	ErrRedirectMismatch            = errors.New("redirect_uri does not match the authorization request")
	ErrClientMismatch              = errors.New("authorization code was issued to another client")
)

// PKCE errors.
var (
	ErrPKCERequired               = errors.New("code_challenge is required (PKCE)")
	ErrInvalidCodeChallengeMethod = errors.New("unsupported code_challenge_method")
	ErrCodeVerifierMismatch       = errors.New("code_verifier does not match code_challenge")
)

// Grant and client errors.
var (
	ErrInvalidGrantType         = errors.New("unsupported grant_type")
	ErrInvalidClientCredentials = errors.New("invalid client credentials")
	ErrTokenGeneration          = errors.New("failed to generate token")
)

// Token validation errors.
var (
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenInvalid          = errors.New("invalid token")
	ErrTokenMalformed        = errors.New("malformed token")
	ErrTokenSignatureInvalid = errors.New("invalid token signature")
	ErrTokenUnsupported      = errors.New("unsupported token")
	ErrTokenClaimsEmpty      = errors.New("token claims are empty")
	ErrTokenRevoked          = errors.New("token revoked")
)

// Access errors.
var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrAuthenticationFailed = errors.New("authentication failed")
)
