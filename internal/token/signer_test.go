package token

import (
	"bytes"
	"encoding/base64"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSignerWithKey(key)
	require.NoError(t, err)
	return s
}

// --- Key material ---

func TestNewSigner_UsesConfiguredSecret(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, MinKeyLength)
	s, err := NewSigner(EncodeKey(key), testLogger())
	require.NoError(t, err)
	assert.Equal(t, key, s.key)
}

func TestNewSigner_AcceptsPaddedSecret(t *testing.T) {
	key := bytes.Repeat([]byte{0x07}, MinKeyLength+1)
	s, err := NewSigner(base64.URLEncoding.EncodeToString(key), testLogger())
	require.NoError(t, err)
	assert.Equal(t, key, s.key)
}

func TestNewSigner_EmptySecretGeneratesKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s, err := NewSigner("", logger)
	require.NoError(t, err)
	assert.Len(t, s.key, MinKeyLength)
	assert.Contains(t, buf.String(), "ephemeral signing key")
}

func TestNewSigner_ShortSecretGeneratesKey(t *testing.T) {
	short := bytes.Repeat([]byte{0x01}, 32)
	s, err := NewSigner(EncodeKey(short), testLogger())
	require.NoError(t, err)
	assert.Len(t, s.key, MinKeyLength)
	assert.NotEqual(t, short, s.key[:32])
}

func TestNewSigner_InvalidBase64(t *testing.T) {
	_, err := NewSigner("not base64 at all!", testLogger())
	assert.Error(t, err)
}

func TestNewSignerWithKey_RejectsShortKey(t *testing.T) {
	_, err := NewSignerWithKey([]byte("short"))
	assert.Error(t, err)
}

// --- Issue / Validate ---

func TestIssueValidate_RoundTrip(t *testing.T) {
	s := testSigner(t)
	claims := map[string]any{
		"sub":   "42",
		"aud":   "client-1",
		"type":  TypeAccess,
		"scope": "read write",
	}

	tok, err := s.Issue(claims, time.Hour)
	require.NoError(t, err)

	got, err := s.Validate(tok)
	require.NoError(t, err)

	for k, v := range claims {
		assert.Equal(t, v, got[k], "claim %s", k)
	}
	assert.Len(t, got, len(claims)+2, "only iat and exp are added")

	iat := got.IssuedAt()
	exp := got.ExpiresAt()
	assert.WithinDuration(t, time.Now(), iat, 2*time.Second)
	assert.Equal(t, time.Hour, exp.Sub(iat))
}

func TestIssue_DoesNotMutateInput(t *testing.T) {
	s := testSigner(t)
	claims := map[string]any{"sub": "1"}
	_, err := s.Issue(claims, time.Minute)
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestValidate_NegativeTTLIsExpired(t *testing.T) {
	s := testSigner(t)
	tok, err := s.Issue(map[string]any{"sub": "42"}, -time.Second)
	require.NoError(t, err)

	claims, err := s.Validate(tok)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	assert.Nil(t, claims)
}

func TestValidate_Malformed(t *testing.T) {
	s := testSigner(t)
	for _, tok := range []string{"abc", "a.b", "not.a.jwt", "a.b.c.d"} {
		_, err := s.Validate(tok)
		assert.ErrorIs(t, err, apperrors.ErrTokenMalformed, "token %q", tok)
	}
}

func TestValidate_BlankIsClaimsEmpty(t *testing.T) {
	s := testSigner(t)
	_, err := s.Validate("")
	assert.ErrorIs(t, err, apperrors.ErrTokenClaimsEmpty)
	_, err = s.Validate("   ")
	assert.ErrorIs(t, err, apperrors.ErrTokenClaimsEmpty)
}

func TestValidate_EmptyClaimSet(t *testing.T) {
	s := testSigner(t)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{}).SignedString(s.key)
	require.NoError(t, err)

	_, err = s.Validate(tok)
	assert.ErrorIs(t, err, apperrors.ErrTokenClaimsEmpty)
}

func TestValidate_SignatureInvalid(t *testing.T) {
	issuer := testSigner(t)
	other := testSigner(t)

	tok, err := issuer.Issue(map[string]any{"sub": "42"}, time.Hour)
	require.NoError(t, err)

	_, err = other.Validate(tok)
	assert.ErrorIs(t, err, apperrors.ErrTokenSignatureInvalid)
}

func TestValidate_TamperedPayload(t *testing.T) {
	s := testSigner(t)
	tok, err := s.Issue(map[string]any{"sub": "42"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	forged, err := s.Issue(map[string]any{"sub": "1"}, time.Hour)
	require.NoError(t, err)
	parts[1] = strings.Split(forged, ".")[1]

	_, err = s.Validate(strings.Join(parts, "."))
	assert.ErrorIs(t, err, apperrors.ErrTokenSignatureInvalid)
}

func TestValidate_SignatureCheckedBeforeExpiry(t *testing.T) {
	issuer := testSigner(t)
	other := testSigner(t)

	tok, err := issuer.Issue(map[string]any{"sub": "42"}, -time.Hour)
	require.NoError(t, err)

	_, err = other.Validate(tok)
	assert.ErrorIs(t, err, apperrors.ErrTokenSignatureInvalid)
}

func TestValidate_OtherAlgorithmUnsupported(t *testing.T) {
	s := testSigner(t)

	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42"}).SignedString(s.key)
	require.NoError(t, err)
	_, err = s.Validate(hs256)
	assert.ErrorIs(t, err, apperrors.ErrTokenUnsupported)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "42"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Validate(none)
	assert.ErrorIs(t, err, apperrors.ErrTokenUnsupported)
}

func TestValidate_UsesClock(t *testing.T) {
	s := testSigner(t)
	tok, err := s.Issue(map[string]any{"sub": "42"}, time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = s.Validate(tok)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

// --- Convenience readers ---

func TestIsValid(t *testing.T) {
	s := testSigner(t)
	good, err := s.Issue(map[string]any{"sub": "42"}, time.Hour)
	require.NoError(t, err)
	bad, err := s.Issue(map[string]any{"sub": "42"}, -time.Hour)
	require.NoError(t, err)

	assert.True(t, s.IsValid(good))
	assert.False(t, s.IsValid(bad))
	assert.False(t, s.IsValid("garbage"))
	assert.False(t, s.IsValid(""))
}

func TestSubjectAndClaim(t *testing.T) {
	s := testSigner(t)
	tok, err := s.Issue(map[string]any{"sub": "42", "organization_id": "org-7"}, time.Hour)
	require.NoError(t, err)

	sub, err := s.Subject(tok)
	require.NoError(t, err)
	assert.Equal(t, "42", sub)

	org, err := s.Claim(tok, "organization_id")
	require.NoError(t, err)
	assert.Equal(t, "org-7", org)

	missing, err := s.Claim(tok, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.Subject("garbage")
	assert.ErrorIs(t, err, apperrors.ErrTokenMalformed)
}

func TestClaims_Audience(t *testing.T) {
	assert.Equal(t, "c1", Claims{"aud": "c1"}.Audience())
	assert.Equal(t, "c1", Claims{"aud": []any{"c1", "c2"}}.Audience())
	assert.Equal(t, "", Claims{}.Audience())
}
