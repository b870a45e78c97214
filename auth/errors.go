package auth

import "fmt"

// Authentication phases reported in AuthError.
const (
	PhaseIdentify  = "identify"
	PhaseValidate  = "validate"
	PhaseProvision = "provision"
	PhaseReconcile = "reconcile"
	PhaseSession   = "session"
)

// AuthError represents an error in one phase of an authentication.
type AuthError struct {
	Username string
	Phase    string
	Message  string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error for user %q in %s: %s: %v", e.Username, e.Phase, e.Message, e.Err)
	}
	return fmt.Sprintf("auth error for user %q in %s: %s", e.Username, e.Phase, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new AuthError.
func NewAuthError(username, phase, message string, err error) *AuthError {
	return &AuthError{
		Username: username,
		Phase:    phase,
		Message:  message,
		Err:      err,
	}
}
