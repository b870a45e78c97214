package jwt

import (
	"fmt"
	"os"
	"strings"

	"github.com/nats-io/nkeys"
)

// LocalSigner implements the Signer interface using a local account nkey.
type LocalSigner struct {
	publicKey string
	keyPair   nkeys.KeyPair
}

// NewLocalSigner creates a new LocalSigner from an account seed (e.g., "SAABC...").
func NewLocalSigner(seed string) (*LocalSigner, error) {
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}

	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("getting public key: %w", err)
	}
	if !nkeys.IsValidPublicAccountKey(pub) {
		return nil, fmt.Errorf("seed is not an account key")
	}

	return &LocalSigner{
		publicKey: pub,
		keyPair:   kp,
	}, nil
}

// LoadSignerFromFile reads an account seed from a file and creates a LocalSigner.
func LoadSignerFromFile(path string) (*LocalSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return NewLocalSigner(strings.TrimSpace(string(data)))
}

// PublicKey returns the public key associated with this signer.
func (s *LocalSigner) PublicKey() string {
	return s.publicKey
}

// Sign signs the given data and returns the signature.
func (s *LocalSigner) Sign(data []byte) ([]byte, error) {
	sig, err := s.keyPair.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("signing data: %w", err)
	}
	return sig, nil
}
