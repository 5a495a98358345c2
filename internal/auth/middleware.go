package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/alexjbarnes/authcore/internal/flow"
	"github.com/alexjbarnes/authcore/internal/models"
	"github.com/alexjbarnes/authcore/internal/rbac"
	"github.com/alexjbarnes/authcore/internal/token"
)

type contextKey int

const (
	ctxClaims contextKey = iota
	ctxRemoteIP
)

// UserLookup resolves the subject of a token to a directory user.
type UserLookup interface {
	User(id string) *models.User
}

// RequestClaims returns the validated token claims from the context, or nil.
func RequestClaims(ctx context.Context) token.Claims {
	v, _ := ctx.Value(ctxClaims).(token.Claims)
	return v
}

// RequestUserID returns the authenticated user ID from the context, or "".
func RequestUserID(ctx context.Context) string {
	return RequestClaims(ctx).Subject()
}

// RequestClientID returns the OAuth client ID from the context, or "".
func RequestClientID(ctx context.Context) string {
	return RequestClaims(ctx).Audience()
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}

	return strings.TrimSpace(h[7:])
}

// Middleware validates the bearer access token of each request and puts
// its claims in the request context. Missing, invalid, expired and
// revoked tokens get 401 with a JSON error body.
func Middleware(ctrl *flow.Controller, metrics *Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			raw := bearerToken(r)
			if raw == "" {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				// RFC 6750 section 3.1: no error attribute when no token was sent.
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
				writeError(w, r, logger, metrics, fmt.Errorf("%w: bearer token required", apperrors.ErrTokenInvalid))

				return
			}

			claims, err := ctrl.Authenticate(r.Context(), raw)
			if err == nil && claims.Type() != token.TypeAccess {
				err = fmt.Errorf("%w: not an access token", apperrors.ErrTokenInvalid)
			}

			if err != nil {
				logger.Debug("middleware: bearer token rejected",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)

				if apperrors.IsClientError(err) {
					w.Header().Set("WWW-Authenticate", `Bearer realm="authcore", error="invalid_token"`)
				}

				writeError(w, r, logger, metrics, err)

				return
			}

			ctx := context.WithValue(r.Context(), ctxClaims, claims)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func forbid(w http.ResponseWriter, r *http.Request, logger *slog.Logger, metrics *Metrics, scope, detail string) {
	challenge := `Bearer realm="authcore", error="insufficient_scope"`
	if scope != "" {
		challenge += fmt.Sprintf(`, scope=%q`, scope)
	}

	w.Header().Set("WWW-Authenticate", challenge)
	writeError(w, r, logger, metrics, fmt.Errorf("%w: %s", apperrors.ErrPermissionDenied, detail))
}

// RequireScope rejects requests whose token lacks scope with 403. It
// must run inside Middleware.
func RequireScope(scope string, metrics *Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !models.HasScope(RequestClaims(r.Context()).Scope(), scope) {
				forbid(w, r, logger, metrics, scope, "token lacks scope "+scope)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission rejects requests whose user lacks action on resource
// with 403. It must run inside Middleware.
func RequirePermission(users UserLookup, resource, action string, metrics *Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := users.User(RequestUserID(r.Context()))
			if !rbac.HasPermission(user, resource, action) {
				forbid(w, r, logger, metrics, "", fmt.Sprintf("%s on %s is not permitted", action, resource))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// userInfo is the userinfo response body.
type userInfo struct {
	Sub               string   `json:"sub"`
	PreferredUsername string   `json:"preferred_username"`
	Name              string   `json:"name,omitempty"`
	Email             string   `json:"email,omitempty"`
	OrganizationID    string   `json:"organization_id,omitempty"`
	Roles             []string `json:"roles"`
	Scopes            []string `json:"scopes"`
}

// HandleUserInfo returns the profile of the token's user. It must run
// inside Middleware.
func HandleUserInfo(users UserLookup, metrics *Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := users.User(RequestUserID(r.Context()))
		if user == nil || !user.Enabled {
			writeError(w, r, logger, metrics, fmt.Errorf("%w: user is not active", apperrors.ErrTokenInvalid))
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, userInfo{
			Sub:               user.ID,
			PreferredUsername: user.Username,
			Name:              user.Name,
			Email:             user.Email,
			OrganizationID:    user.OrganizationID,
			Roles:             rbac.RoleNames(user),
			Scopes:            rbac.EffectiveScopes(user),
		})
	}
}

// permissionCheck is the permission check response body.
type permissionCheck struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Allowed  bool   `json:"allowed"`
}

// HandlePermissionCheck answers whether the token's user may perform
// ?action= on ?resource=. It must run inside Middleware.
func HandlePermissionCheck(users UserLookup, metrics *Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resource := r.URL.Query().Get("resource")
		action := r.URL.Query().Get("action")

		if resource == "" || action == "" {
			writeError(w, r, logger, metrics, fmt.Errorf("%w: resource and action are required", apperrors.ErrInvalidRequest))
			return
		}

		user := users.User(RequestUserID(r.Context()))
		writeJSON(w, http.StatusOK, permissionCheck{
			Resource: resource,
			Action:   action,
			Allowed:  rbac.HasPermission(user, resource, action),
		})
	}
}
