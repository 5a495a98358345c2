// Package models defines types shared across internal packages.
package models

import "time"

// PendingAuthorizationRequest is the authorize request parked in a
// browser session while the user signs in and consents.
type PendingAuthorizationRequest struct {
	ClientID              string    `json:"client_id"`
	Scope                 string    `json:"scope"`
	State                 string    `json:"state,omitempty"`
	RedirectURI           string    `json:"redirect_uri"`
	ResponseType          string    `json:"response_type"`
	CodeChallenge         string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod   string    `json:"code_challenge_method,omitempty"`
	Nonce                 string    `json:"nonce,omitempty"`
	ContinueAuthorization bool      `json:"continue_authorization,omitempty"`
	UserID                string    `json:"user_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// AuthorizationCode is a single-use code issued at consent. Once Used is
// set the code can never be redeemed again.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
	Used                bool      `json:"used"`
}

// Expired reports whether the code is past its expiry at now.
func (ac *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(ac.ExpiresAt)
}

// Client is a registered OAuth client. SecretHash holds a bcrypt hash.
type Client struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientName   string   `json:"client_name,omitempty" yaml:"client_name"`
	SecretHash   string   `json:"-" yaml:"secret_hash"`
	RedirectURIs []string `json:"redirect_uris" yaml:"redirect_uris"`
	Scopes       []string `json:"scopes" yaml:"scopes"`
	RequirePKCE  bool     `json:"require_pkce" yaml:"require_pkce"`
}
