package auth

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/alexjbarnes/authcore/internal/flow"
	"github.com/alexjbarnes/authcore/internal/models"
)

// maxRequestBody caps form and JSON request bodies.
const maxRequestBody = 64 << 10

// pages holds the login, consent and error pages. Every form carries a
// csrf_token bound to the session cookie.
var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>authcore</title>
<style>
  body { font-family: system-ui, sans-serif; background: #f4f4f5; display: grid; place-items: center; min-height: 100vh; margin: 0; }
  main { background: #fff; border: 1px solid #e4e4e7; border-radius: 8px; padding: 2rem; width: 100%; max-width: 380px; }
  h1 { font-size: 1.2rem; margin: 0 0 1rem; }
  .client { background: #fafafa; border: 1px solid #e4e4e7; border-radius: 6px; padding: .6rem .75rem; font-size: .85rem; margin-bottom: 1rem; word-break: break-all; }
  .error { background: #fef2f2; color: #991b1b; border: 1px solid #fecaca; border-radius: 6px; padding: .6rem .75rem; font-size: .85rem; margin-bottom: 1rem; }
  label { display: block; font-size: .85rem; margin-bottom: .3rem; }
  input[type="text"], input[type="password"] { width: 100%; box-sizing: border-box; padding: .5rem; margin-bottom: 1rem; border: 1px solid #d4d4d8; border-radius: 6px; }
  ul { list-style: none; padding: 0; margin: 0 0 1rem; }
  button { padding: .55rem 1rem; border-radius: 6px; border: none; background: #18181b; color: #fff; cursor: pointer; }
  button.secondary { background: #e4e4e7; color: #18181b; }
</style>
</head>
<body>
<main>{{end}}

{{define "foot"}}</main>
</body>
</html>{{end}}

{{define "client"}}<div class="client"><strong>{{if .ClientName}}{{.ClientName}}{{else}}{{.ClientID}}{{end}}</strong> is requesting access.
  <br>You will be redirected to <code>{{.RedirectURI}}</code></div>{{end}}

{{define "login"}}{{template "head"}}
<h1>Sign in</h1>
{{template "client" .}}
{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
<form method="POST" action="{{.Action}}">
  <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
  <input type="hidden" name="action" value="login">
  <label for="username">Username</label>
  <input type="text" id="username" name="username" value="{{.Username}}" autocomplete="username" required autofocus>
  <label for="password">Password</label>
  <input type="password" id="password" name="password" autocomplete="current-password" required>
  <button type="submit">Sign in</button>
</form>
{{template "foot"}}{{end}}

{{define "consent"}}{{template "head"}}
<h1>Authorize access</h1>
{{template "client" .}}
{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
<form method="POST" action="{{.Action}}">
  <input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
  <ul>
  {{range .Scopes}}<li><label><input type="checkbox" name="scope" value="{{.}}" checked> {{.}}</label></li>
  {{end}}</ul>
  <button type="submit" name="action" value="consent">Allow</button>
  <button type="submit" name="action" value="deny" class="secondary">Deny</button>
</form>
{{template "foot"}}{{end}}

{{define "error"}}{{template "head"}}
<h1>Authorization failed</h1>
<div class="error">{{.Error}}</div>
{{template "foot"}}{{end}}
`))

type pageData struct {
	Action      string
	CSRFToken   string
	ClientID    string
	ClientName  string
	RedirectURI string
	Username    string
	Scopes      []string
	Error       string
}

func renderPage(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.WriteHeader(status)
	_ = pages.ExecuteTemplate(w, name, data)
}

// authorizeHandler serves GET and POST on the authorize endpoint.
type authorizeHandler struct {
	ctrl    *flow.Controller
	store   *Store
	limiter *loginRateLimiter
	metrics *Metrics
	logger  *slog.Logger
}

// HandleAuthorize returns the authorize endpoint handler. GET validates
// the request and renders the login page, or the consent page when the
// session already has a signed-in user. POST carries action=login,
// action=consent or action=deny.
func HandleAuthorize(ctrl *flow.Controller, store *Store, metrics *Metrics, logger *slog.Logger) http.HandlerFunc {
	h := &authorizeHandler{
		ctrl:    ctrl,
		store:   store,
		limiter: newLoginRateLimiter(),
		metrics: metrics,
		logger:  logger,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.get(w, r)
		case http.MethodPost:
			h.post(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (h *authorizeHandler) get(w http.ResponseWriter, r *http.Request) {
	sessionKey := h.store.SessionKey(w, r)

	res, err := h.ctrl.Authorize(r.Context(), sessionKey, r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.render(w, r, http.StatusOK, sessionKey, res, "")
}

func (h *authorizeHandler) post(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	sessionKey := existingSessionKey(r)
	if sessionKey == "" {
		h.fail(w, r, apperrors.ErrInvalidRequest)
		return
	}

	action := r.PostFormValue("action")
	ip := remoteIP(r)

	// Check before consuming CSRF so a rate-limited request does not
	// destroy the user's CSRF token.
	if action == "login" && h.limiter.check(ip) {
		h.logger.Warn("login rate limited", slog.String("ip", ip))
		http.Error(w, "too many failed login attempts, try again later", http.StatusTooManyRequests)

		return
	}

	// A failed CSRF check may be a forged cross-site form, so answer
	// with a plain error rather than redirecting to the client.
	if !h.store.ConsumeCSRF(r.PostFormValue("csrf_token"), sessionKey) {
		http.Error(w, "invalid or expired CSRF token", http.StatusForbidden)
		return
	}

	switch action {
	case "login":
		h.login(w, r, sessionKey, ip)
	case "consent":
		h.consent(w, r, sessionKey)
	case "deny":
		h.deny(w, r, sessionKey)
	default:
		h.fail(w, r, apperrors.ErrInvalidRequest)
	}
}

func (h *authorizeHandler) login(w http.ResponseWriter, r *http.Request, sessionKey, ip string) {
	username := r.PostFormValue("username")

	user, err := h.ctrl.Login(r.Context(), sessionKey, username, r.PostFormValue("password"))
	if errors.Is(err, apperrors.ErrAuthenticationFailed) {
		h.logger.Warn("login failed", slog.String("username", username), slog.String("ip", ip))
		h.limiter.record(ip)
		h.metrics.oauthError(apperrors.KindOf(err).Code)

		res, rerr := h.resume(r.Context(), sessionKey)
		if rerr != nil {
			h.fail(w, r, rerr)
			return
		}

		h.renderWith(w, r, http.StatusUnauthorized, sessionKey, res, username, "Invalid username or password")

		return
	}

	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("login successful", slog.String("user_id", user.ID))

	res, err := h.resume(r.Context(), sessionKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// Redirect so a browser refresh does not resubmit the password.
	q := url.Values{}
	q.Set("client_id", res.Request.ClientID)
	q.Set("continue_authorization", "true")
	http.Redirect(w, r, r.URL.Path+"?"+q.Encode(), http.StatusSeeOther)
}

func (h *authorizeHandler) consent(w http.ResponseWriter, r *http.Request, sessionKey string) {
	d, err := h.ctrl.Consent(r.Context(), sessionKey, r.PostForm["scope"])
	if errors.Is(err, apperrors.ErrInvalidApprovedScopes) {
		h.metrics.oauthError(apperrors.KindOf(err).Code)

		res, rerr := h.resume(r.Context(), sessionKey)
		if rerr != nil {
			h.fail(w, r, rerr)
			return
		}

		h.render(w, r, http.StatusBadRequest, sessionKey, res, "Select at least one of the requested permissions.")

		return
	}

	if err != nil {
		h.fail(w, r, err)
		return
	}

	http.Redirect(w, r, d.RedirectURL, http.StatusFound)
}

func (h *authorizeHandler) deny(w http.ResponseWriter, r *http.Request, sessionKey string) {
	d, err := h.ctrl.Deny(r.Context(), sessionKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("authorization denied by user")
	http.Redirect(w, r, d.RedirectURL, http.StatusFound)
}

// resume reloads the session's parked request together with its client.
func (h *authorizeHandler) resume(ctx context.Context, sessionKey string) (*flow.AuthorizeResult, error) {
	req, err := h.ctrl.PendingRequest(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	if req == nil {
		return nil, apperrors.ErrInvalidRequest
	}

	return h.ctrl.Authorize(ctx, sessionKey, url.Values{
		"client_id":              {req.ClientID},
		"continue_authorization": {"true"},
	})
}

func (h *authorizeHandler) render(w http.ResponseWriter, r *http.Request, status int, sessionKey string, res *flow.AuthorizeResult, errMsg string) {
	h.renderWith(w, r, status, sessionKey, res, "", errMsg)
}

func (h *authorizeHandler) renderWith(w http.ResponseWriter, r *http.Request, status int, sessionKey string, res *flow.AuthorizeResult, username, errMsg string) {
	data := pageData{
		Action:      r.URL.Path,
		CSRFToken:   h.store.SaveCSRF(sessionKey),
		ClientID:    res.Client.ClientID,
		ClientName:  res.Client.ClientName,
		RedirectURI: res.Request.RedirectURI,
		Username:    username,
		Scopes:      models.ParseScope(res.Request.Scope),
		Error:       errMsg,
	}

	page := "login"
	if res.State == flow.StateAwaitingConsent {
		page = "consent"
	}

	renderPage(w, status, page, data)
}

// fail reports an authorize error. Errors found after the redirect URI
// was validated go back to the client; the rest render an error page.
func (h *authorizeHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.metrics.oauthError(apperrors.KindOf(err).Code)

	var rerr *flow.RedirectError
	if errors.As(err, &rerr) {
		if !apperrors.IsClientError(err) {
			h.logger.Error("authorize failed", slog.String("error", err.Error()))
		}

		http.Redirect(w, r, rerr.Location(h.ctrl.Issuer()), http.StatusFound)

		return
	}

	status := http.StatusBadRequest
	if !apperrors.IsClientError(err) {
		status = http.StatusInternalServerError
	}

	renderPage(w, status, "error", pageData{Error: describe(h.logger, r, err)})
}
