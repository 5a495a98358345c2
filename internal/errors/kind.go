package errors

import (
	"errors"
	"net/http"
)

// Kind describes how an error is reported to a client.
type Kind struct {
	// Code is the stable machine-readable identifier, e.g. TOKEN_EXPIRED.
	Code string
	// OAuth is the RFC 6749 / RFC 6750 error string.
	OAuth string
	// Status is the HTTP status code.
	Status int
}

// SystemError is the kind reported for errors outside the taxonomy.
var SystemError = Kind{Code: "SYSTEM_ERROR", OAuth: "server_error", Status: http.StatusInternalServerError}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidRequest, Kind{"INVALID_REQUEST", "invalid_request", http.StatusBadRequest}},
	{ErrInvalidApprovedScopes, Kind{"INVALID_APPROVED_SCOPES", "invalid_scope", http.StatusBadRequest}},
	{ErrInvalidScope, Kind{"INVALID_SCOPE", "invalid_scope", http.StatusBadRequest}},
	{ErrInvalidClient, Kind{"INVALID_CLIENT", "invalid_client", http.StatusUnauthorized}},
	{ErrInvalidRedirectURI, Kind{"INVALID_REDIRECT_URI", "invalid_request", http.StatusBadRequest}},
	{ErrAccessDenied, Kind{"ACCESS_DENIED", "access_denied", http.StatusForbidden}},

	{ErrAuthorizationCodeGeneration, Kind{"AUTHORIZATION_CODE_GENERATION_FAILED", "server_error", http.StatusInternalServerError}},
	{ErrInvalidAuthorizationCode, Kind{"INVALID_AUTHORIZATION_CODE", "invalid_grant", http.StatusBadRequest}},
	{ErrAuthorizationCodeExpired, Kind{"AUTHORIZATION_CODE_EXPIRED", "invalid_grant", http.StatusBadRequest}},
	{ErrAuthorizationCodeUsed, Kind{"AUTHORIZATION_CODE_USED", "invalid_grant", http.StatusBadRequest}},
	{ErrRedirectMismatch, Kind{"REDIRECT_URI_MISMATCH", "invalid_grant", http.StatusBadRequest}},
	{ErrClientMismatch, Kind{"CLIENT_MISMATCH", "invalid_grant", http.StatusBadRequest}},

	{ErrPKCERequired, Kind{"PKCE_REQUIRED", "invalid_request", http.StatusBadRequest}},
	{ErrInvalidCodeChallengeMethod, Kind{"INVALID_CODE_CHALLENGE_METHOD", "invalid_request", http.StatusBadRequest}},
	{ErrCodeVerifierMismatch, Kind{"CODE_VERIFIER_MISMATCH", "invalid_grant", http.StatusBadRequest}},

	{ErrInvalidGrantType, Kind{"INVALID_GRANT_TYPE", "unsupported_grant_type", http.StatusBadRequest}},
	{ErrInvalidClientCredentials, Kind{"INVALID_CLIENT_CREDENTIALS", "invalid_client", http.StatusUnauthorized}},
	{ErrTokenGeneration, Kind{"TOKEN_GENERATION_ERROR", "server_error", http.StatusInternalServerError}},

	{ErrTokenExpired, Kind{"TOKEN_EXPIRED", "invalid_token", http.StatusUnauthorized}},
	{ErrTokenInvalid, Kind{"TOKEN_INVALID", "invalid_token", http.StatusUnauthorized}},
	{ErrTokenMalformed, Kind{"TOKEN_MALFORMED", "invalid_token", http.StatusUnauthorized}},
	{ErrTokenSignatureInvalid, Kind{"TOKEN_SIGNATURE_INVALID", "invalid_token", http.StatusUnauthorized}},
	{ErrTokenUnsupported, Kind{"TOKEN_UNSUPPORTED", "invalid_token", http.StatusUnauthorized}},
	{ErrTokenClaimsEmpty, Kind{"TOKEN_CLAIMS_EMPTY", "invalid_token", http.StatusUnauthorized}},
	{ErrTokenRevoked, Kind{"TOKEN_REVOKED", "invalid_token", http.StatusUnauthorized}},

	{ErrPermissionDenied, Kind{"PERMISSION_DENIED", "insufficient_scope", http.StatusForbidden}},
	{ErrAuthenticationFailed, Kind{"AUTHENTICATION_FAILED", "access_denied", http.StatusUnauthorized}},
}

// KindOf returns the reporting kind for err. Errors that do not wrap one
// of the package sentinels are SystemError.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	return SystemError
}

// IsClientError reports whether err maps to a 4xx kind. Only those
// messages are shown to callers.
func IsClientError(err error) bool {
	return KindOf(err).Status < http.StatusInternalServerError
}
