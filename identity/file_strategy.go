package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// fileUser represents a user stored in the JSON file.
type fileUser struct {
	PasswordHash string            `json:"passwordHash"`
	GivenName    string            `json:"givenName,omitempty"`
	FamilyName   string            `json:"familyName,omitempty"`
	DisplayName  string            `json:"displayName"`
	Email        string            `json:"email"`
	Groups       []string          `json:"groups,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// usersFile represents the JSON file structure.
type usersFile struct {
	Users map[string]*fileUser `json:"users"`
}

// FileStrategyConfig holds configuration for FileStrategy.
type FileStrategyConfig struct {
	// ID names the strategy for envelope routing.
	ID string `json:"id" yaml:"id"`
	// UsersPath is the path to the users JSON file.
	UsersPath string `json:"usersPath" yaml:"usersPath"`
}

// FileStrategy authenticates "username:password" tokens against a JSON users
// file holding bcrypt password hashes.
type FileStrategy struct {
	users map[string]*fileUser
}

var _ Strategy = (*FileStrategy)(nil)

// NewFileStrategy creates a FileStrategy from the given configuration.
func NewFileStrategy(cfg FileStrategyConfig) (*FileStrategy, error) {
	fs := &FileStrategy{users: make(map[string]*fileUser)}
	if cfg.UsersPath != "" {
		if err := fs.loadUsers(cfg.UsersPath); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

func (fs *FileStrategy) loadUsers(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file usersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing users file %s: %w", path, err)
	}
	if file.Users != nil {
		fs.users = file.Users
	}
	return nil
}

// GetAuthInfo verifies a "username:password" token.
func (fs *FileStrategy) GetAuthInfo(_ context.Context, authID string) (*Record, error) {
	username, password, ok := strings.Cut(authID, ":")
	if !ok || username == "" {
		return nil, ErrInvalidTokenType
	}

	fu, ok := fs.users[username]
	if !ok || fu == nil {
		return nil, ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(fu.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Record{
		GivenName:   fu.GivenName,
		FamilyName:  fu.FamilyName,
		DisplayName: fu.DisplayName,
		Email:       fu.Email,
		Username:    username,
		Groups:      append([]string(nil), fu.Groups...),
		Attributes:  fu.Attributes,
	}, nil
}
