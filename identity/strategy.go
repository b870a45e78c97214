package identity

import (
	"context"
	"errors"
)

// Sentinel errors for identity operations.
var (
	// ErrInvalidCredentials is returned when credentials fail verification.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound is returned when the user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidTokenType is returned when the token type is wrong for the strategy.
	ErrInvalidTokenType = errors.New("invalid token type for strategy")
)

// Strategy resolves an opaque authentication identifier into an identity record.
type Strategy interface {
	// GetAuthInfo verifies authID and returns the identity it proves.
	// Returns ErrInvalidCredentials if the credentials are invalid.
	// Returns ErrUserNotFound if the user does not exist.
	// Returns ErrInvalidTokenType if authID is the wrong shape for this strategy.
	GetAuthInfo(ctx context.Context, authID string) (*Record, error)
}
