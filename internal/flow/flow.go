// Package flow drives the OAuth2 authorization code flow with PKCE. It
// parks the authorize request in the browser session, attaches the
// signed-in user, issues a single-use code at consent and exchanges it
// for tokens.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/alexjbarnes/authcore/internal/authcode"
	"github.com/alexjbarnes/authcore/internal/blacklist"
	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/alexjbarnes/authcore/internal/models"
	"github.com/alexjbarnes/authcore/internal/pending"
	"github.com/alexjbarnes/authcore/internal/pkce"
	"github.com/alexjbarnes/authcore/internal/token"
)

// Config holds flow policy.
type Config struct {
	// Issuer is the iss claim and the iss redirect parameter.
	Issuer              string
	CodeTTL             time.Duration
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	RequirePKCE         bool
	RotateRefreshTokens bool
}

func (c Config) withDefaults() Config {
	if c.CodeTTL <= 0 {
		c.CodeTTL = authcode.DefaultTTL
	}

	if c.AccessTTL <= 0 {
		c.AccessTTL = time.Hour
	}

	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}

	return c
}

// Deps are the collaborators a Controller orchestrates.
type Deps struct {
	Clients  ClientRegistry
	Users    UserDirectory
	Requests pending.Store
	Codes    *authcode.Store
	Signer   *token.Signer
	Revoked  blacklist.Blacklist
}

// Controller is safe for concurrent use. Per-session ordering is left to
// the pending store, which is last-write-wins.
type Controller struct {
	cfg      Config
	clients  ClientRegistry
	users    UserDirectory
	requests pending.Store
	codes    *authcode.Store
	signer   *token.Signer
	revoked  blacklist.Blacklist
	logger   *slog.Logger
	now      func() time.Time
}

// NewController wires a Controller.
func NewController(cfg Config, deps Deps, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg.withDefaults(),
		clients:  deps.Clients,
		users:    deps.Users,
		requests: deps.Requests,
		codes:    deps.Codes,
		signer:   deps.Signer,
		revoked:  deps.Revoked,
		logger:   logger,
		now:      time.Now,
	}
}

// Issuer returns the configured issuer.
func (c *Controller) Issuer() string { return c.cfg.Issuer }

// AuthorizeResult is the session's position after Authorize.
type AuthorizeResult struct {
	State   State
	Request *models.PendingAuthorizationRequest
	Client  *models.Client
}

// Authorize validates an authorize request and parks it in the session.
// With continue_authorization set and a request already parked, the
// parked request is resumed instead of replaced.
func (c *Controller) Authorize(ctx context.Context, sessionKey string, params url.Values) (*AuthorizeResult, error) {
	req := pending.ExtractFromParameters(params)
	if req == nil {
		return nil, fmt.Errorf("%w: client_id is required", apperrors.ErrInvalidRequest)
	}

	if req.ContinueAuthorization {
		existing, err := c.requests.Get(ctx, sessionKey)
		if err != nil {
			return nil, fmt.Errorf("loading pending request: %w", err)
		}

		if existing != nil {
			return c.resume(existing)
		}
	}

	client := c.clients.Client(req.ClientID)
	if client == nil {
		return nil, fmt.Errorf("%w: unknown client %q", apperrors.ErrInvalidClient, req.ClientID)
	}

	redirectURI, err := resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		return nil, err
	}

	req.RedirectURI = redirectURI

	if err := c.validate(client, req); err != nil {
		return nil, &RedirectError{RedirectURI: redirectURI, State: req.State, Err: err}
	}

	req.ContinueAuthorization = false
	req.UserID = ""
	req.CreatedAt = c.now()

	if err := c.requests.Save(ctx, sessionKey, req); err != nil {
		return nil, &RedirectError{
			RedirectURI: redirectURI,
			State:       req.State,
			Err:         fmt.Errorf("saving pending request: %w", err),
		}
	}

	c.logger.Debug("authorization request parked",
		slog.String("client_id", req.ClientID),
		slog.String("scope", req.Scope),
	)

	return &AuthorizeResult{State: StateAwaitingLogin, Request: req, Client: client}, nil
}

func (c *Controller) resume(req *models.PendingAuthorizationRequest) (*AuthorizeResult, error) {
	client := c.clients.Client(req.ClientID)
	if client == nil {
		return nil, fmt.Errorf("%w: unknown client %q", apperrors.ErrInvalidClient, req.ClientID)
	}

	st := StateAwaitingLogin
	if req.UserID != "" {
		st = StateAwaitingConsent
	}

	return &AuthorizeResult{State: st, Request: req, Client: client}, nil
}

// resolveRedirectURI returns the registered redirect URI the request
// names. An omitted redirect_uri is allowed when exactly one is
// registered.
func resolveRedirectURI(client *models.Client, requested string) (string, error) {
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}

		return "", fmt.Errorf("%w: redirect_uri is required", apperrors.ErrInvalidRedirectURI)
	}

	if !slices.Contains(client.RedirectURIs, requested) {
		return "", fmt.Errorf("%w: %q is not registered for client %q",
			apperrors.ErrInvalidRedirectURI, requested, client.ClientID)
	}

	return requested, nil
}

// validate checks response_type, scope and PKCE parameters, normalizing
// scope and code_challenge_method in place.
func (c *Controller) validate(client *models.Client, req *models.PendingAuthorizationRequest) error {
	if req.ResponseType != "code" {
		return fmt.Errorf("%w: response_type must be \"code\"", apperrors.ErrInvalidRequest)
	}

	requested := models.ParseScope(req.Scope)
	if len(requested) == 0 {
		requested = client.Scopes
	}

	if !models.ScopeSubset(requested, client.Scopes) {
		return fmt.Errorf("%w: %q exceeds the scopes allowed for client %q",
			apperrors.ErrInvalidScope, models.FormatScope(requested), client.ClientID)
	}

	req.Scope = models.FormatScope(requested)

	if req.CodeChallengeMethod != "" || req.CodeChallenge != "" {
		method, err := pkce.NormalizeMethod(req.CodeChallengeMethod)
		if err != nil {
			return err
		}

		req.CodeChallengeMethod = method
	}

	if req.CodeChallenge == "" {
		if c.cfg.RequirePKCE || client.RequirePKCE {
			return fmt.Errorf("%w: code_challenge is required", apperrors.ErrPKCERequired)
		}

		req.CodeChallengeMethod = ""
	}

	return nil
}

// Login authenticates the user and attaches them to the parked request.
func (c *Controller) Login(ctx context.Context, sessionKey, username, password string) (*models.User, error) {
	if _, err := c.pendingRequest(ctx, sessionKey); err != nil {
		return nil, err
	}

	user, err := c.users.Authenticate(username, password)
	if err != nil {
		return nil, err
	}

	if err := c.AttachPrincipal(ctx, sessionKey, user.ID); err != nil {
		return nil, err
	}

	return user, nil
}

// AttachPrincipal records userID as the signed-in user of the session's
// parked request, moving it to AwaitingConsent.
func (c *Controller) AttachPrincipal(ctx context.Context, sessionKey, userID string) error {
	req, err := c.pendingRequest(ctx, sessionKey)
	if err != nil {
		return err
	}

	user := c.users.User(userID)
	if user == nil || !user.Enabled {
		return apperrors.ErrAuthenticationFailed
	}

	req.UserID = user.ID

	if err := c.requests.Save(ctx, sessionKey, req); err != nil {
		return fmt.Errorf("saving pending request: %w", err)
	}

	return nil
}

// Decision is the outcome of Consent or Deny.
type Decision struct {
	State State
	// RedirectURL is where the user agent is sent next.
	RedirectURL string
	// Code is set when consent issued a code.
	Code *models.AuthorizationCode
}

// Consent issues a code for the approved scopes. Approved scopes must be
// non-empty and a subset of those requested. The parked request is
// removed once the code is issued.
func (c *Controller) Consent(ctx context.Context, sessionKey string, approved []string) (*Decision, error) {
	req, err := c.pendingRequest(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	if req.UserID == "" {
		return nil, fmt.Errorf("%w: login required before consent", apperrors.ErrAuthenticationFailed)
	}

	approved = models.ParseScope(models.FormatScope(approved))
	if len(approved) == 0 || !models.ScopeSubset(approved, models.ParseScope(req.Scope)) {
		return nil, apperrors.ErrInvalidApprovedScopes
	}

	ac, err := c.codes.Issue(ctx, authcode.IssueParams{
		ClientID:            req.ClientID,
		UserID:              req.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               models.FormatScope(approved),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		TTL:                 c.cfg.CodeTTL,
	})
	if err != nil {
		return nil, &RedirectError{RedirectURI: req.RedirectURI, State: req.State, Err: err}
	}

	if err := c.requests.Remove(ctx, sessionKey); err != nil {
		c.logger.Warn("failed to remove pending request",
			slog.String("error", err.Error()),
		)
	}

	c.logger.Info("authorization code issued",
		slog.String("client_id", ac.ClientID),
		slog.String("user_id", ac.UserID),
		slog.String("scope", ac.Scope),
		slog.Bool("pkce", ac.CodeChallenge != ""),
	)

	q := url.Values{}
	q.Set("code", ac.Code)

	if req.State != "" {
		q.Set("state", req.State)
	}

	if c.cfg.Issuer != "" {
		q.Set("iss", c.cfg.Issuer)
	}

	return &Decision{
		State:       StateCodeIssued,
		RedirectURL: appendQuery(req.RedirectURI, q),
		Code:        ac,
	}, nil
}

// Deny abandons the session's parked request and redirects the client
// with access_denied.
func (c *Controller) Deny(ctx context.Context, sessionKey string) (*Decision, error) {
	req, err := c.pendingRequest(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	if err := c.requests.Remove(ctx, sessionKey); err != nil {
		return nil, fmt.Errorf("removing pending request: %w", err)
	}

	rerr := &RedirectError{
		RedirectURI: req.RedirectURI,
		State:       req.State,
		Err:         fmt.Errorf("%w: the user denied the request", apperrors.ErrAccessDenied),
	}

	return &Decision{State: StateDenied, RedirectURL: rerr.Location(c.cfg.Issuer)}, nil
}

// PendingRequest returns the session's parked request, or nil.
func (c *Controller) PendingRequest(ctx context.Context, sessionKey string) (*models.PendingAuthorizationRequest, error) {
	return c.requests.Get(ctx, sessionKey)
}

// SessionState reports where the session is in the flow. A session with
// nothing parked is at RequestReceived.
func (c *Controller) SessionState(ctx context.Context, sessionKey string) (State, error) {
	req, err := c.requests.Get(ctx, sessionKey)
	if err != nil {
		return StateRequestReceived, fmt.Errorf("loading pending request: %w", err)
	}

	switch {
	case req == nil:
		return StateRequestReceived, nil
	case req.UserID == "":
		return StateAwaitingLogin, nil
	default:
		return StateAwaitingConsent, nil
	}
}

func (c *Controller) pendingRequest(ctx context.Context, sessionKey string) (*models.PendingAuthorizationRequest, error) {
	req, err := c.requests.Get(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("loading pending request: %w", err)
	}

	if req == nil {
		return nil, fmt.Errorf("%w: no authorization request in progress", apperrors.ErrInvalidRequest)
	}

	return req, nil
}
