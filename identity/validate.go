package identity

import (
	"errors"
	"fmt"
)

// Validation errors, reported in this priority order.
var (
	ErrMissingRecord      = errors.New("identity record is required")
	ErrMissingDisplayName = errors.New("displayName is required")
	ErrMissingUsername    = errors.New("username is required")
	ErrMissingEmail       = errors.New("email is required")
)

// ValidationError reports the first mandatory field missing from a record.
type ValidationError struct {
	Field string
	err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid identity: %v", e.err)
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// Validate checks that r carries a display name, a username and an email.
// Only the first missing field is reported.
func Validate(r *Record) error {
	switch {
	case r == nil:
		return &ValidationError{Field: "record", err: ErrMissingRecord}
	case r.DisplayName == "":
		return &ValidationError{Field: "displayName", err: ErrMissingDisplayName}
	case r.Username == "":
		return &ValidationError{Field: "username", err: ErrMissingUsername}
	case r.Email == "":
		return &ValidationError{Field: "email", err: ErrMissingEmail}
	}
	return nil
}
