package jwt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccountSeed(t *testing.T) (seed string, pub string) {
	t.Helper()

	kp, err := nkeys.CreateAccount()
	require.NoError(t, err)
	s, err := kp.Seed()
	require.NoError(t, err)
	p, err := kp.PublicKey()
	require.NoError(t, err)
	return string(s), p
}

func TestNewLocalSigner(t *testing.T) {
	seed, pub := newAccountSeed(t)

	signer, err := NewLocalSigner(seed)
	require.NoError(t, err)
	assert.Equal(t, pub, signer.PublicKey())
}

func TestNewLocalSigner_InvalidSeed(t *testing.T) {
	_, err := NewLocalSigner("invalid-seed")
	assert.Error(t, err)
}

func TestNewLocalSigner_RejectsUserSeed(t *testing.T) {
	kp, err := nkeys.CreateUser()
	require.NoError(t, err)
	seed, err := kp.Seed()
	require.NoError(t, err)

	_, err = NewLocalSigner(string(seed))
	assert.ErrorContains(t, err, "not an account key")
}

func TestLoadSignerFromFile(t *testing.T) {
	seed, pub := newAccountSeed(t)
	path := filepath.Join(t.TempDir(), "account.nk")
	require.NoError(t, os.WriteFile(path, []byte(seed+"\n"), 0o600))

	signer, err := LoadSignerFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, pub, signer.PublicKey())

	_, err = LoadSignerFromFile(filepath.Join(t.TempDir(), "missing.nk"))
	assert.ErrorContains(t, err, "reading key file")
}

func TestLocalSigner_SignVerifies(t *testing.T) {
	seed, _ := newAccountSeed(t)
	signer, err := NewLocalSigner(seed)
	require.NoError(t, err)

	data := []byte("session payload")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	pubKey, err := nkeys.FromPublicKey(signer.PublicKey())
	require.NoError(t, err)
	assert.NoError(t, pubKey.Verify(data, sig))
}
