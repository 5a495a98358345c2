package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/authcore/internal/authcode"
	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/alexjbarnes/authcore/internal/models"
	"github.com/alexjbarnes/authcore/internal/token"
	"github.com/google/uuid"
)

// Grant types accepted at the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// TokenRequest is a token endpoint request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
	// Scope optionally narrows a refresh_token grant.
	Scope string
}

// TokenResponse is the RFC 6749 section 5.1 response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// Introspection is the RFC 7662 response body.
type Introspection struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// ExchangeState maps the result of Exchange to a flow state.
func ExchangeState(err error) State {
	switch {
	case err == nil:
		return StateExchanged
	case errors.Is(err, apperrors.ErrAuthorizationCodeExpired):
		return StateExpired
	default:
		return StateCodeIssued
	}
}

// Exchange serves the token endpoint.
func (c *Controller) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case GrantAuthorizationCode:
		return c.exchangeCode(ctx, req)
	case GrantRefreshToken:
		return c.exchangeRefresh(ctx, req)
	case "":
		return nil, fmt.Errorf("%w: grant_type is required", apperrors.ErrInvalidRequest)
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidGrantType, req.GrantType)
	}
}

func (c *Controller) exchangeCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	required := []struct{ name, value string }{
		{"code", req.Code},
		{"redirect_uri", req.RedirectURI},
		{"client_id", req.ClientID},
	}
	for _, f := range required {
		if f.value == "" {
			return nil, fmt.Errorf("%w: %s is required", apperrors.ErrInvalidRequest, f.name)
		}
	}

	if _, err := c.clients.AuthenticateClient(req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	ac, err := c.codes.Redeem(ctx, authcode.RedeemParams{
		Code:         req.Code,
		ClientID:     req.ClientID,
		RedirectURI:  req.RedirectURI,
		CodeVerifier: req.CodeVerifier,
	})
	if err != nil {
		c.logger.Info("code redemption rejected",
			slog.String("client_id", req.ClientID),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	user := c.users.User(ac.UserID)
	if user == nil || !user.Enabled {
		return nil, fmt.Errorf("%w: user is no longer active", apperrors.ErrAccessDenied)
	}

	resp, err := c.issueTokens(user, ac.ClientID, ac.Scope)
	if err != nil {
		return nil, err
	}

	if models.HasScope(ac.Scope, "openid") {
		resp.IDToken, err = c.issueIDToken(user, ac.ClientID, ac.Nonce)
		if err != nil {
			return nil, err
		}
	}

	c.logger.Info("tokens issued",
		slog.String("grant_type", GrantAuthorizationCode),
		slog.String("client_id", ac.ClientID),
		slog.String("user_id", user.ID),
	)

	return resp, nil
}

func (c *Controller) exchangeRefresh(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" || req.ClientID == "" {
		return nil, fmt.Errorf("%w: refresh_token and client_id are required", apperrors.ErrInvalidRequest)
	}

	if _, err := c.clients.AuthenticateClient(req.ClientID, req.ClientSecret); err != nil {
		return nil, err
	}

	claims, err := c.Authenticate(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}

	if claims.Type() != token.TypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", apperrors.ErrTokenInvalid)
	}

	if claims.Audience() != req.ClientID {
		return nil, apperrors.ErrClientMismatch
	}

	scope := claims.Scope()
	if req.Scope != "" {
		narrowed := models.ParseScope(req.Scope)
		if !models.ScopeSubset(narrowed, models.ParseScope(scope)) {
			return nil, fmt.Errorf("%w: refresh cannot widen scope", apperrors.ErrInvalidScope)
		}

		scope = models.FormatScope(narrowed)
	}

	user := c.users.User(claims.Subject())
	if user == nil || !user.Enabled {
		return nil, fmt.Errorf("%w: user is no longer active", apperrors.ErrAccessDenied)
	}

	access, err := c.issue(user, req.ClientID, scope, token.TypeAccess, c.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken:  access,
		RefreshToken: req.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(c.cfg.AccessTTL / time.Second),
		Scope:        scope,
	}

	if c.cfg.RotateRefreshTokens {
		if err := c.revoked.Revoke(ctx, req.RefreshToken, claims.ExpiresAt().Sub(c.now())); err != nil {
			return nil, fmt.Errorf("revoking rotated refresh token: %w", err)
		}

		resp.RefreshToken, err = c.issue(user, req.ClientID, claims.Scope(), token.TypeRefresh, c.cfg.RefreshTTL)
		if err != nil {
			return nil, err
		}
	}

	c.logger.Info("tokens issued",
		slog.String("grant_type", GrantRefreshToken),
		slog.String("client_id", req.ClientID),
		slog.String("user_id", user.ID),
		slog.Bool("rotated", c.cfg.RotateRefreshTokens),
	)

	return resp, nil
}

func (c *Controller) issueTokens(user *models.User, clientID, scope string) (*TokenResponse, error) {
	access, err := c.issue(user, clientID, scope, token.TypeAccess, c.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	refresh, err := c.issue(user, clientID, scope, token.TypeRefresh, c.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(c.cfg.AccessTTL / time.Second),
		Scope:        scope,
	}, nil
}

func (c *Controller) baseClaims(user *models.User, clientID, typ string) map[string]any {
	claims := map[string]any{
		"iss":  c.cfg.Issuer,
		"sub":  user.ID,
		"aud":  clientID,
		"jti":  uuid.NewString(),
		"type": typ,
	}

	if user.OrganizationID != "" {
		claims["organization_id"] = user.OrganizationID
	}

	return claims
}

func (c *Controller) issue(user *models.User, clientID, scope, typ string, ttl time.Duration) (string, error) {
	claims := c.baseClaims(user, clientID, typ)
	claims["scope"] = scope
	claims["client_id"] = clientID

	return c.signer.Issue(claims, ttl)
}

func (c *Controller) issueIDToken(user *models.User, clientID, nonce string) (string, error) {
	claims := c.baseClaims(user, clientID, token.TypeID)

	if nonce != "" {
		claims["nonce"] = nonce
	}

	if user.Name != "" {
		claims["name"] = user.Name
	}

	if user.Email != "" {
		claims["email"] = user.Email
	}

	claims["preferred_username"] = user.Username

	return c.signer.Issue(claims, c.cfg.AccessTTL)
}

// Authenticate validates a bearer token and checks it has not been
// revoked. The revocation lookup only happens once the signature and
// expiry checks pass.
func (c *Controller) Authenticate(ctx context.Context, tok string) (token.Claims, error) {
	claims, err := c.signer.Validate(tok)
	if err != nil {
		return nil, err
	}

	revoked, err := c.revoked.IsRevoked(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("checking revocation: %w", err)
	}

	if revoked {
		return nil, apperrors.ErrTokenRevoked
	}

	return claims, nil
}

// Revoke blacklists tok for the rest of its lifetime. Tokens that do not
// validate are already unusable, so revoking them succeeds without
// effect.
func (c *Controller) Revoke(ctx context.Context, tok string) error {
	claims, err := c.signer.Validate(tok)
	if err != nil {
		return nil
	}

	remaining := claims.ExpiresAt().Sub(c.now())
	if err := c.revoked.Revoke(ctx, tok, remaining); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}

	c.logger.Info("token revoked",
		slog.String("client_id", claims.Audience()),
		slog.String("user_id", claims.Subject()),
		slog.String("token_type", claims.Type()),
	)

	return nil
}

// Introspect reports whether tok is active and, if so, what it grants.
func (c *Controller) Introspect(ctx context.Context, tok string) Introspection {
	claims, err := c.Authenticate(ctx, tok)
	if err != nil {
		return Introspection{Active: false}
	}

	out := Introspection{
		Active:    true,
		ClientID:  claims.Audience(),
		UserID:    claims.Subject(),
		Scope:     claims.Scope(),
		Exp:       claims.ExpiresAt().Unix(),
		Iat:       claims.IssuedAt().Unix(),
		TokenType: claims.Type(),
	}

	if u := c.users.User(out.UserID); u != nil {
		out.Username = u.Username
	}

	return out
}
