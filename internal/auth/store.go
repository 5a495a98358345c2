// Package auth serves the OAuth2 HTTP surface: the browser-facing
// authorize endpoint with its login and consent pages, the token,
// revocation and introspection endpoints, and bearer-token middleware
// for protected resources.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

const (
	// SessionCookie carries the opaque key that binds a browser to its
	// pending authorization request.
	SessionCookie = "authcore_session"

	// csrfExpiry controls how long a CSRF token remains valid.
	csrfExpiry = 10 * time.Minute

	// cleanupInterval controls how often expired entries are reaped.
	cleanupInterval = 5 * time.Minute

	// sessionKeyBytes is the entropy of a session key before hex encoding.
	sessionKeyBytes = 32

	// csrfTokenBytes is the number of random bytes used to generate
	// a CSRF token (hex-encoded to twice this length).
	csrfTokenBytes = 16
)

// csrfEntry binds a CSRF token to the session it was rendered for.
type csrfEntry struct {
	sessionKey string
	expiresAt  time.Time
}

// Store holds the browser-side state of the authorize endpoint: session
// cookies and single-use CSRF tokens. CSRF tokens live in memory only.
type Store struct {
	mu      sync.Mutex
	csrf    map[string]csrfEntry // csrf token -> entry
	secure  bool
	now     func() time.Time
	stopGC  chan struct{}
	stopped sync.Once
}

// NewStore creates an empty store and starts a background goroutine that
// removes expired CSRF tokens. secureCookies sets the Secure attribute on
// the session cookie. Call Stop to end the goroutine.
func NewStore(secureCookies bool) *Store {
	s := &Store{
		csrf:   make(map[string]csrfEntry),
		secure: secureCookies,
		now:    time.Now,
		stopGC: make(chan struct{}),
	}
	go s.gcLoop()

	return s
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopped.Do(func() { close(s.stopGC) })
}

func (s *Store) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopGC:
			return
		}
	}
}

func (s *Store) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, entry := range s.csrf {
		if now.After(entry.expiresAt) {
			delete(s.csrf, k)
		}
	}
}

// SaveCSRF creates a CSRF token bound to sessionKey.
func (s *Store) SaveCSRF(sessionKey string) string {
	token := RandomHex(csrfTokenBytes)

	s.mu.Lock()
	s.csrf[token] = csrfEntry{sessionKey: sessionKey, expiresAt: s.now().Add(csrfExpiry)}
	s.mu.Unlock()

	return token
}

// ConsumeCSRF deletes token and reports whether it was live and bound
// to sessionKey.
func (s *Store) ConsumeCSRF(token, sessionKey string) bool {
	if token == "" || sessionKey == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.csrf[token]
	if !ok {
		return false
	}

	delete(s.csrf, token)

	return entry.sessionKey == sessionKey && s.now().Before(entry.expiresAt)
}

// csrfCount returns the number of live and expired CSRF tokens held.
func (s *Store) csrfCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.csrf)
}

// SessionKey returns the session key from the request cookie, issuing a
// new cookie when there is none.
func (s *Store) SessionKey(w http.ResponseWriter, r *http.Request) string {
	if key := existingSessionKey(r); key != "" {
		return key
	}

	key := RandomHex(sessionKeyBytes)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    key,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return key
}

func existingSessionKey(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}

	return c.Value
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
