package e2e_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/authcore/internal/auth"
	"github.com/alexjbarnes/authcore/internal/authcode"
	"github.com/alexjbarnes/authcore/internal/blacklist"
	"github.com/alexjbarnes/authcore/internal/directory"
	"github.com/alexjbarnes/authcore/internal/flow"
	"github.com/alexjbarnes/authcore/internal/logging"
	"github.com/alexjbarnes/authcore/internal/pending"
	"github.com/alexjbarnes/authcore/internal/server"
	"github.com/alexjbarnes/authcore/internal/sqlstore"
	"github.com/alexjbarnes/authcore/internal/state"
	"github.com/alexjbarnes/authcore/internal/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

const (
	testUsername = "testuser"
	testPassword = "testpass"
	testClientID = "e2e-test-client"
	testSecret   = "e2e-test-secret-value"
	redirectURI  = "http://127.0.0.1:19876/callback"
)

// harness holds the full e2e test stack: a real HTTP server with the
// production mux, a directory file on disk, a persistent code backend
// and redis-backed caches.
type harness struct {
	URL    string
	Redis  *miniredis.Miniredis
	Client *http.Client
	OAuth  *oauth2.Config
}

// backend names the code store under test.
type backend string

const (
	backendMemory backend = "memory"
	backendBolt   backend = "bolt"
	backendSQLite backend = "sqlite"
)

func hashSecret(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func writeDirectory(t *testing.T, dir string) string {
	t.Helper()

	doc := `
permissions:
  - {id: notes-read, resource: notes, action: read, type: API}
  - {id: notes-scope, resource: oauth, action: grant, type: OAUTH2, scope: "notes:read"}
roles:
  - {id: reader, name: reader, permissions: [notes-read, notes-scope]}
users:
  - id: "u-1"
    username: ` + testUsername + `
    name: Test User
    email: test@example.com
    password_hash: "` + hashSecret(t, testPassword) + `"
    roles: [reader]
clients:
  - client_id: ` + testClientID + `
    client_name: E2E Client
    secret_hash: "` + hashSecret(t, testSecret) + `"
    redirect_uris: ["` + redirectURI + `"]
    scopes: [openid, profile, "notes:read"]
    require_pkce: true
`
	path := filepath.Join(dir, "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	return path
}

func openBackend(t *testing.T, b backend, dir string) authcode.Backend {
	t.Helper()

	switch b {
	case backendBolt:
		s, err := state.LoadAt(filepath.Join(dir, "state.db"))
		require.NoError(t, err)
		return s
	case backendSQLite:
		s, err := sqlstore.Open(t.Context(), filepath.Join(dir, "codes.sqlite"))
		require.NoError(t, err)
		return s
	default:
		return authcode.NewMemory()
	}
}

// newHarness writes a directory file, wires the full stack via
// server.NewMux with the given code backend and starts an httptest
// server.
func newHarness(t *testing.T, b backend) *harness {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	users, err := directory.Load(writeDirectory(t, dir), logger)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codes := authcode.NewStore(openBackend(t, b, dir))
	t.Cleanup(func() { _ = codes.Close() })

	key, err := token.GenerateKey()
	require.NoError(t, err)
	signer, err := token.NewSignerWithKey(key)
	require.NoError(t, err)

	store := auth.NewStore(false)
	t.Cleanup(store.Stop)

	// Use NewUnstartedServer so we can read the listener address before
	// building the mux (the issuer appears in tokens and redirects).
	ts := httptest.NewUnstartedServer(nil)
	serverURL := "http://" + ts.Listener.Addr().String()

	ctrl := flow.NewController(flow.Config{
		Issuer:              serverURL,
		AccessTTL:           time.Hour,
		RequirePKCE:         true,
		RotateRefreshTokens: true,
	}, flow.Deps{
		Clients:  users,
		Users:    users,
		Requests: pending.NewRedis(rdb, "", time.Minute),
		Codes:    codes,
		Signer:   signer,
		Revoked:  blacklist.NewRedis(rdb, ""),
	}, logger)

	reg := prometheus.NewRegistry()
	mux := server.NewMux(server.MuxConfig{
		Flow:     ctrl,
		Users:    users,
		Store:    store,
		Metrics:  auth.NewMetrics(reg),
		Gatherer: reg,
		Health: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		Scopes: users.Scopes(),
		Logger: logger,
		Issuer: serverURL,
	})

	ts.Config.Handler = logging.Middleware(logger)(mux)
	ts.Start()
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	client := ts.Client()
	client.Jar = jar
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &harness{
		URL:    serverURL,
		Redis:  mr,
		Client: client,
		OAuth: &oauth2.Config{
			ClientID:     testClientID,
			ClientSecret: testSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{"openid", "profile", "notes:read"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   serverURL + auth.PathAuthorize,
				TokenURL:  serverURL + auth.PathToken,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}
}

// ctx returns a context that makes the oauth2 package use the harness
// client.
func (h *harness) ctx(t *testing.T) context.Context {
	return context.WithValue(t.Context(), oauth2.HTTPClient, h.Client)
}

var csrfRe = regexp.MustCompile(`name="csrf_token" value="([a-f0-9]+)"`)

func extractCSRF(t *testing.T, body string) string {
	t.Helper()
	m := csrfRe.FindStringSubmatch(body)
	require.Len(t, m, 2, "CSRF token not found in page")
	return m[1]
}

// page GETs a browser page and returns its body and the CSRF token.
func (h *harness) page(t *testing.T, fullURL string) (string, string) {
	t.Helper()

	resp := h.doGet(t, fullURL)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	return string(body), extractCSRF(t, string(body))
}

// authorize drives the browser part of the flow: render login, sign in,
// follow the redirect to consent and approve scopes. It returns the
// redirect back to the client.
func (h *harness) authorize(t *testing.T, state, verifier string, approve ...string) *url.URL {
	t.Helper()

	authURL := h.OAuth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	body, csrf := h.page(t, authURL)
	require.Contains(t, body, `value="login"`)

	resp := h.doPostForm(t, auth.PathAuthorize, url.Values{
		"csrf_token": {csrf},
		"action":     {"login"},
		"username":   {testUsername},
		"password":   {testPassword},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	body, csrf = h.page(t, h.URL+resp.Header.Get("Location"))
	require.Contains(t, body, `value="consent"`)

	resp = h.doPostForm(t, auth.PathAuthorize, url.Values{
		"csrf_token": {csrf},
		"action":     {"consent"},
		"scope":      approve,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc.String(), redirectURI), loc.String())

	return loc
}

// doGet performs a GET request with t.Context().
func (h *harness) doGet(t *testing.T, fullURL string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, fullURL, nil)
	require.NoError(t, err)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doBearer performs a GET with a bearer token.
func (h *harness) doBearer(t *testing.T, path, accessToken string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, h.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doPostForm performs a POST with form-encoded body and t.Context().
func (h *harness) doPostForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(
		t.Context(), http.MethodPost, h.URL+path,
		bytes.NewBufferString(form.Encode()),
	)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(b)
}
