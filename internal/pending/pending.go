// Package pending parks an authorize request in the user's browser
// session while they sign in and consent. Each session holds at most one
// request; concurrent writes to the same session are last-write-wins.
package pending

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alexjbarnes/authcore/internal/models"
)

// DefaultTTL bounds how long an abandoned request survives.
const DefaultTTL = 30 * time.Minute

// Store is keyed by an opaque session identifier supplied by the host.
type Store interface {
	// Save replaces the session's request. A nil request removes it.
	Save(ctx context.Context, sessionKey string, req *models.PendingAuthorizationRequest) error
	// Get returns the session's request, or nil if there is none.
	Get(ctx context.Context, sessionKey string) (*models.PendingAuthorizationRequest, error)
	// Remove deletes the session's request. Removing nothing is not an error.
	Remove(ctx context.Context, sessionKey string) error
}

// ExtractFromParameters builds a request from authorize query or form
// parameters. It returns nil when client_id is absent, meaning the
// parameters are not an authorization request.
func ExtractFromParameters(params url.Values) *models.PendingAuthorizationRequest {
	clientID := params.Get("client_id")
	if clientID == "" {
		return nil
	}

	cont, _ := strconv.ParseBool(params.Get("continue_authorization"))

	return &models.PendingAuthorizationRequest{
		ClientID:              clientID,
		Scope:                 params.Get("scope"),
		State:                 params.Get("state"),
		RedirectURI:           params.Get("redirect_uri"),
		ResponseType:          params.Get("response_type"),
		CodeChallenge:         params.Get("code_challenge"),
		CodeChallengeMethod:   params.Get("code_challenge_method"),
		Nonce:                 params.Get("nonce"),
		ContinueAuthorization: cont,
	}
}

// cleanupInterval controls how often expired sessions are reaped.
const cleanupInterval = 5 * time.Minute

type entry struct {
	req       models.PendingAuthorizationRequest
	expiresAt time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]entry
	ttl      time.Duration
	now      func() time.Time
	stopGC   chan struct{}
	stopped  sync.Once
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store whose entries live for ttl (DefaultTTL
// when zero) and starts a background sweep. Call Stop to end it.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m := &Memory{
		sessions: make(map[string]entry),
		ttl:      ttl,
		now:      time.Now,
		stopGC:   make(chan struct{}),
	}
	go m.gcLoop()

	return m
}

// Stop terminates the background cleanup goroutine.
func (m *Memory) Stop() {
	m.stopped.Do(func() { close(m.stopGC) })
}

func (m *Memory) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopGC:
			return
		}
	}
}

func (m *Memory) cleanup() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.sessions {
		if now.After(e.expiresAt) {
			delete(m.sessions, k)
		}
	}
}

// Save implements Store.
func (m *Memory) Save(ctx context.Context, sessionKey string, req *models.PendingAuthorizationRequest) error {
	if req == nil {
		return m.Remove(ctx, sessionKey)
	}

	if sessionKey == "" {
		return nil
	}

	m.mu.Lock()
	m.sessions[sessionKey] = entry{req: *req, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()

	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, sessionKey string) (*models.PendingAuthorizationRequest, error) {
	if sessionKey == "" {
		return nil, nil
	}

	m.mu.Lock()
	e, ok := m.sessions[sessionKey]
	m.mu.Unlock()

	if !ok || m.now().After(e.expiresAt) {
		return nil, nil
	}

	req := e.req

	return &req, nil
}

// Remove implements Store.
func (m *Memory) Remove(_ context.Context, sessionKey string) error {
	m.mu.Lock()
	delete(m.sessions, sessionKey)
	m.mu.Unlock()

	return nil
}

// Len returns the number of sessions held, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}
