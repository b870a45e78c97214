package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// passwordBytes is the entropy drawn for a generated password.
const passwordBytes = 16

// PasswordStrategy produces the initial password of a newly provisioned
// directory user. The secret is opaque to the rest of the system.
type PasswordStrategy func(ctx context.Context) (string, error)

// DefaultPasswordStrategy returns 16 random bytes from crypto/rand encoded as
// 32 lowercase hex characters.
func DefaultPasswordStrategy(_ context.Context) (string, error) {
	buf := make([]byte, passwordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
