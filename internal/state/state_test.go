package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/alexjbarnes/authcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testCode(code string) *models.AuthorizationCode {
	return &models.AuthorizationCode{
		Code:        code,
		ClientID:    "client-1",
		UserID:      "42",
		RedirectURI: "https://client.example.com/cb",
		Scope:       "read",
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Minute),
	}
}

func accept(ac *models.AuthorizationCode) error {
	if ac == nil {
		return apperrors.ErrInvalidAuthorizationCode
	}
	if ac.Used {
		return apperrors.ErrAuthorizationCodeUsed
	}
	return nil
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Insert(context.Background(), testCode("persist-me")))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	ac, err := s2.GetCode("persist-me")
	require.NoError(t, err)
	require.NotNil(t, ac)
	assert.Equal(t, "42", ac.UserID)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "state.db", filepath.Base(DefaultPath()))
	assert.Equal(t, ".authcore", filepath.Base(filepath.Dir(DefaultPath())))
}

// --- Codes ---

func TestGetCode_Missing(t *testing.T) {
	s := testDB(t)
	ac, err := s.GetCode("nope")
	require.NoError(t, err)
	assert.Nil(t, ac)
}

func TestRedeem_PersistsUsedFlag(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testCode("abc")))

	ac, err := s.Redeem(ctx, "abc", accept)
	require.NoError(t, err)
	assert.True(t, ac.Used)

	stored, err := s.GetCode("abc")
	require.NoError(t, err)
	assert.True(t, stored.Used)

	_, err = s.Redeem(ctx, "abc", accept)
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationCodeUsed)
}

func TestRedeem_CheckFailureLeavesCodeUntouched(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testCode("abc")))

	_, err := s.Redeem(ctx, "abc", func(*models.AuthorizationCode) error {
		return apperrors.ErrCodeVerifierMismatch
	})
	assert.ErrorIs(t, err, apperrors.ErrCodeVerifierMismatch)

	stored, err := s.GetCode("abc")
	require.NoError(t, err)
	assert.False(t, stored.Used)
}

func TestRedeem_MissingPassesNilToCheck(t *testing.T) {
	s := testDB(t)
	_, err := s.Redeem(context.Background(), "missing", accept)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAuthorizationCode)
}

func TestPurge(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	old := testCode("old")
	old.ExpiresAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Insert(ctx, old))
	require.NoError(t, s.Insert(ctx, testCode("new")))
	assert.Equal(t, 2, s.CodeCount())

	n, err := s.Purge(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.CodeCount())
}
