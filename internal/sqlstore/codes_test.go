package sqlstore

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

func testStore(t *testing.T) *CodeStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "codes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleCode() *models.AuthorizationCode {
	now := time.Now()
	return &models.AuthorizationCode{
		Code:                "code-1",
		ClientID:            "client-1",
		UserID:              "42",
		RedirectURI:         "https://client.example.com/cb",
		Scope:               "openid read",
		CodeChallenge:       "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		CodeChallengeMethod: "S256",
		Nonce:               "abc",
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Minute),
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.db")
	ctx := context.Background()

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.Insert(ctx, sampleCode()))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	ac, err := s2.Get(ctx, "code-1")
	require.NoError(t, err)
	require.NotNil(t, ac)
}

func TestInsertGet_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	want := sampleCode()
	require.NoError(t, s.Insert(ctx, want))

	got, err := s.Get(ctx, want.Code)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.ClientID, got.ClientID)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.RedirectURI, got.RedirectURI)
	assert.Equal(t, want.Scope, got.Scope)
	assert.Equal(t, want.CodeChallenge, got.CodeChallenge)
	assert.Equal(t, want.CodeChallengeMethod, got.CodeChallengeMethod)
	assert.Equal(t, want.Nonce, got.Nonce)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	assert.False(t, got.Used)
}

func TestInsert_DuplicateCodeRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, sampleCode()))
	assert.Error(t, s.Insert(ctx, sampleCode()))
}

func TestGet_Missing(t *testing.T) {
	s := testStore(t)
	ac, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, ac)
}

func TestRedeem_ConditionalUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, sampleCode()))

	// A check that ignores the used flag still loses to the conditional
	// UPDATE on the second call.
	permissive := func(ac *models.AuthorizationCode) error {
		if ac == nil {
			return apperrors.ErrInvalidAuthorizationCode
		}
		return nil
	}

	ac, err := s.Redeem(ctx, "code-1", permissive)
	require.NoError(t, err)
	assert.True(t, ac.Used)

	_, err = s.Redeem(ctx, "code-1", permissive)
	assert.ErrorIs(t, err, apperrors.ErrAuthorizationCodeUsed)
}

func TestPurge(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := sampleCode()
	old.Code = "old"
	old.ExpiresAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Insert(ctx, old))
	require.NoError(t, s.Insert(ctx, sampleCode()))

	n, err := s.Purge(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gone, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
