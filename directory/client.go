// Package directory provides clients for Crowd-like user and group directories.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for directory operations.
var (
	// ErrUserNotFound is returned when no user matches the requested username.
	ErrUserNotFound = errors.New("user not found")

	// ErrGroupNotFound is returned when a membership change targets a missing group.
	ErrGroupNotFound = errors.New("group not found")

	// ErrGroupExists is returned by CreateGroup when the group is already present.
	ErrGroupExists = errors.New("group already exists")

	// ErrUserExists is returned by CreateUser when the username is already taken.
	ErrUserExists = errors.New("user already exists")
)

// User is a directory user record.
//
// Password is only sent on creation. Lookups never return it.
type User struct {
	Username    string `json:"username"`
	GivenName   string `json:"givenName,omitempty"`
	FamilyName  string `json:"familyName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"-"`
	Active      bool   `json:"active"`
}

// Session is the session handed back to the caller after authentication.
// Its token is opaque to everything outside the directory.
type Session struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Client is the set of directory operations needed to provision users,
// reconcile their groups and open sessions for them.
//
// Usernames and group names are passed raw. Implementations that place them
// in URLs or keys are responsible for escaping.
type Client interface {
	// GetUser fetches a user. expand requests the full record (attributes).
	// Returns ErrUserNotFound if no such user exists.
	GetUser(ctx context.Context, username string, expand bool) (*User, error)

	// CreateUser creates a new active user and returns the stored record.
	CreateUser(ctx context.Context, user *User) (*User, error)

	// CreateGroup creates a group. Returns ErrGroupExists if it is already present.
	CreateGroup(ctx context.Context, name string) error

	// ListUserGroups returns the names of all groups the user is a direct member of.
	ListUserGroups(ctx context.Context, username string) ([]string, error)

	// AddUserToGroup adds a direct membership.
	AddUserToGroup(ctx context.Context, username, group string) error

	// RemoveUserFromGroup removes a direct membership.
	RemoveUserFromGroup(ctx context.Context, username, group string) error

	// CreateSession opens a session for the user without validating a password.
	CreateSession(ctx context.Context, username string) (*Session, error)
}

// Error is a directory failure that carries the service's reason code.
type Error struct {
	StatusCode int
	Reason     string
	Message    string
	err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("directory error %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("directory error %d (%s)", e.StatusCode, e.Reason)
}

// Unwrap exposes the matching sentinel, if the reason maps to one.
func (e *Error) Unwrap() error {
	return e.err
}
