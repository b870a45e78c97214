package jwt

import (
	"testing"
	"time"

	natsjwt "github.com/nats-io/jwt/v2"
	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, ttl time.Duration) (*SessionIssuer, *LocalSigner) {
	t.Helper()

	seed, _ := newAccountSeed(t)
	signer, err := NewLocalSigner(seed)
	require.NoError(t, err)
	issuer, err := NewSessionIssuer(signer, ttl)
	require.NoError(t, err)
	return issuer, signer
}

func TestNewSessionIssuer_Validation(t *testing.T) {
	_, err := NewSessionIssuer(nil, time.Hour)
	assert.ErrorContains(t, err, "signer is required")

	seed, _ := newAccountSeed(t)
	signer, err := NewLocalSigner(seed)
	require.NoError(t, err)

	_, err = NewSessionIssuer(signer, -time.Second)
	assert.ErrorContains(t, err, "must not be negative")

	issuer, err := NewSessionIssuer(signer, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionTTL, issuer.ttl)
}

func TestSessionIssuer_Issue(t *testing.T) {
	issuer, signer := newTestIssuer(t, 30*time.Minute)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	issuer.now = func() time.Time { return fixed }

	session, err := issuer.Issue("a/b=c")
	require.NoError(t, err)

	assert.Equal(t, fixed.Truncate(time.Second), session.IssuedAt)
	assert.Equal(t, fixed.Truncate(time.Second).Add(30*time.Minute), session.ExpiresAt)

	claims, err := natsjwt.DecodeUserClaims(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "a/b=c", claims.Name)
	assert.Equal(t, signer.PublicKey(), claims.Issuer)
	assert.Equal(t, session.ExpiresAt.Unix(), claims.Expires)
	assert.True(t, nkeys.IsValidPublicUserKey(claims.Subject))
}

func TestSessionIssuer_IssueUniqueTokens(t *testing.T) {
	issuer, _ := newTestIssuer(t, time.Hour)

	first, err := issuer.Issue("alice")
	require.NoError(t, err)
	second, err := issuer.Issue("alice")
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
}

func TestSessionIssuer_IssueRequiresUsername(t *testing.T) {
	issuer, _ := newTestIssuer(t, time.Hour)

	_, err := issuer.Issue("")
	assert.ErrorContains(t, err, "username is required")
}
