// Package blacklist records revoked tokens until they would have expired
// on their own. Signature validity and revocation are independent: a
// token must pass both checks before it is trusted.
package blacklist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Blacklist is the revocation store.
type Blacklist interface {
	// Revoke marks token revoked for remaining. A non-positive remaining
	// is a no-op since the token is already expired.
	Revoke(ctx context.Context, token string, remaining time.Duration) error
	// IsRevoked reports whether token carries a live revocation marker.
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// tokenKey returns the SHA-256 hex digest of a token so raw bearer
// credentials are never used as store keys.
func tokenKey(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// cleanupInterval controls how often expired markers are reaped.
const cleanupInterval = 5 * time.Minute

// Memory is an in-process Blacklist. Revocations are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time // token hash -> expiry
	now     func() time.Time
	stopGC  chan struct{}
	stopped sync.Once
}

var _ Blacklist = (*Memory)(nil)

// NewMemory creates an empty blacklist and starts a background goroutine
// that removes expired markers. Call Stop to end it.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]time.Time),
		now:     time.Now,
		stopGC:  make(chan struct{}),
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

	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}
}

// Revoke implements Blacklist.
func (m *Memory) Revoke(_ context.Context, token string, remaining time.Duration) error {
	if token == "" || remaining <= 0 {
		return nil
	}

	m.mu.Lock()
	m.entries[tokenKey(token)] = m.now().Add(remaining)
	m.mu.Unlock()

	return nil
}

// IsRevoked implements Blacklist.
func (m *Memory) IsRevoked(_ context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	m.mu.RLock()
	exp, ok := m.entries[tokenKey(token)]
	m.mu.RUnlock()

	return ok && m.now().Before(exp), nil
}

// Len returns the number of markers currently held, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
