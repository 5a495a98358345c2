package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/alexjbarnes/authcore/internal/flow"
)

// readParams returns the request parameters from either a JSON object
// of strings or a form-encoded body.
func readParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("%w: invalid request body", apperrors.ErrInvalidRequest)
		}

		params := make(url.Values, len(body))
		for k, v := range body {
			params.Set(k, v)
		}

		return params, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: invalid form data", apperrors.ErrInvalidRequest)
	}

	return r.PostForm, nil
}

// clientCredentials prefers HTTP Basic (RFC 6749 section 2.3.1) over
// body parameters.
func clientCredentials(r *http.Request, params url.Values) (id, secret string, basic bool) {
	if user, pass, ok := r.BasicAuth(); ok {
		uid, errID := url.QueryUnescape(user)
		usecret, errSecret := url.QueryUnescape(pass)

		if errID == nil && errSecret == nil {
			return uid, usecret, true
		}

		return user, pass, true
	}

	return params.Get("client_id"), params.Get("client_secret"), false
}

// HandleToken returns the token endpoint handler.
func HandleToken(ctrl *flow.Controller, limiter *ClientLimiter, metrics *Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")

		params, err := readParams(w, r)
		if err != nil {
			writeError(w, r, logger, metrics, err)
			return
		}

		clientID, secret, basic := clientCredentials(r, params)

		if !limiter.Allow(clientID) {
			logger.Warn("token endpoint rate limited", slog.String("client_id", clientID))
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, "slow_down", "too many token requests", "RATE_LIMITED")

			return
		}

		req := flow.TokenRequest{
			GrantType:    params.Get("grant_type"),
			Code:         params.Get("code"),
			RedirectURI:  params.Get("redirect_uri"),
			ClientID:     clientID,
			ClientSecret: secret,
			CodeVerifier: params.Get("code_verifier"),
			RefreshToken: params.Get("refresh_token"),
			Scope:        params.Get("scope"),
		}

		resp, err := ctrl.Exchange(r.Context(), req)
		if err != nil {
			if basic && apperrors.KindOf(err).Status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Basic realm="authcore"`)
			}

			writeError(w, r, logger, metrics, err)

			return
		}

		metrics.tokenIssued(req.GrantType)
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleRevoke returns the RFC 7009 revocation endpoint handler. Unknown
// and invalid tokens are accepted with 200.
func HandleRevoke(ctrl *flow.Controller, metrics *Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		params, err := readParams(w, r)
		if err != nil {
			writeError(w, r, logger, metrics, err)
			return
		}

		if err := ctrl.Revoke(r.Context(), params.Get("token")); err != nil {
			writeError(w, r, logger, metrics, err)
			return
		}

		metrics.revoked()
		w.WriteHeader(http.StatusOK)
	}
}

// HandleIntrospect returns the RFC 7662 introspection endpoint handler.
func HandleIntrospect(ctrl *flow.Controller, metrics *Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		params, err := readParams(w, r)
		if err != nil {
			writeError(w, r, logger, metrics, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, ctrl.Introspect(r.Context(), params.Get("token")))
	}
}
