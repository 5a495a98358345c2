package auth

import (
	"net/http"
	"strings"

	"github.com/alexjbarnes/authcore/internal/flow"
	"github.com/alexjbarnes/authcore/internal/pkce"
)

// Endpoint paths.
const (
	PathAuthorize   = "/oauth2/authorize"
	PathToken       = "/oauth2/token"
	PathRevoke      = "/oauth2/revoke"
	PathIntrospect  = "/oauth2/introspect"
	PathUserInfo    = "/oauth2/userinfo"
	PathPermissions = "/api/permissions/check"
	PathMetadata    = "/.well-known/oauth-authorization-server"
)

// ServerMetadata is the RFC 8414 response.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	AuthorizationResponseIssParameter bool     `json:"authorization_response_iss_parameter_supported"`
}

// HandleServerMetadata returns the /.well-known/oauth-authorization-server handler.
func HandleServerMetadata(issuer string, scopes []string) http.HandlerFunc {
	base := strings.TrimRight(issuer, "/")
	meta := ServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             base + PathAuthorize,
		TokenEndpoint:                     base + PathToken,
		RevocationEndpoint:                base + PathRevoke,
		IntrospectionEndpoint:             base + PathIntrospect,
		UserinfoEndpoint:                  base + PathUserInfo,
		ScopesSupported:                   scopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{flow.GrantAuthorizationCode, flow.GrantRefreshToken},
		CodeChallengeMethodsSupported:     []string{pkce.MethodS256, pkce.MethodPlain},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		AuthorizationResponseIssParameter: true,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, meta)
	}
}
