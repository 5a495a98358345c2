package authcode

import (
	"context"
	"sync"
	"time"

	"github.com/alexjbarnes/authcore/internal/models"
)

// Memory keeps codes in a mutex-guarded map. Codes are lost on restart.
type Memory struct {
	mu    sync.Mutex
	codes map[string]*models.AuthorizationCode
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{codes: make(map[string]*models.AuthorizationCode)}
}

// Insert implements Backend.
func (m *Memory) Insert(_ context.Context, ac *models.AuthorizationCode) error {
	cp := *ac

	m.mu.Lock()
	m.codes[ac.Code] = &cp
	m.mu.Unlock()

	return nil
}

// Redeem implements Backend. The whole check-and-set runs under the lock.
func (m *Memory) Redeem(_ context.Context, code string, check CheckFunc) (*models.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.codes[code]

	var view *models.AuthorizationCode
	if stored != nil {
		cp := *stored
		view = &cp
	}

	if err := check(view); err != nil {
		return nil, err
	}

	stored.Used = true
	view.Used = true

	return view, nil
}

// Purge implements Backend.
func (m *Memory) Purge(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for k, ac := range m.codes {
		if ac.ExpiresAt.Before(cutoff) {
			delete(m.codes, k)
			n++
		}
	}

	return n, nil
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }
