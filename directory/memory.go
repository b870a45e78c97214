package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/msimon/crowdauth/jwt"
)

// SessionIssuer mints session tokens for directories that own their sessions.
type SessionIssuer interface {
	Issue(username string) (*jwt.IssuedSession, error)
}

// Memory is an in-process directory. It keeps the same semantics as Crowd
// (existing groups are reported, memberships require both sides to exist) and
// is used for local development and tests.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]*User
	groups  map[string]struct{}
	members map[string]map[string]struct{}
	issuer  SessionIssuer
	now     func() time.Time
}

var (
	_ Client        = (*Memory)(nil)
	_ SessionIssuer = (*jwt.SessionIssuer)(nil)
)

// NewMemory creates an empty in-memory directory. If issuer is nil sessions
// carry a random hex token valid for jwt.DefaultSessionTTL.
func NewMemory(issuer SessionIssuer) *Memory {
	return &Memory{
		users:   make(map[string]*User),
		groups:  make(map[string]struct{}),
		members: make(map[string]map[string]struct{}),
		issuer:  issuer,
		now:     time.Now,
	}
}

// GetUser returns a copy of the stored user without its password.
func (m *Memory) GetUser(_ context.Context, username string, _ bool) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	out := *u
	out.Password = ""
	return &out, nil
}

// CreateUser stores a new user. Returns ErrUserExists if the username is taken.
func (m *Memory) CreateUser(_ context.Context, user *User) (*User, error) {
	if user == nil {
		return nil, errors.New("memory directory: user is nil")
	}
	if user.Username == "" {
		return nil, errors.New("memory directory: username is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Username]; ok {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, user.Username)
	}
	stored := *user
	m.users[user.Username] = &stored

	out := stored
	out.Password = ""
	return &out, nil
}

// CreateGroup creates a group. Returns ErrGroupExists if present.
func (m *Memory) CreateGroup(_ context.Context, name string) error {
	if name == "" {
		return errors.New("memory directory: group name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[name]; ok {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}
	m.groups[name] = struct{}{}
	return nil
}

// ListUserGroups returns the user's groups sorted by name.
func (m *Memory) ListUserGroups(_ context.Context, username string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.users[username]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	groups := make([]string, 0, len(m.members[username]))
	for g := range m.members[username] {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}

// AddUserToGroup adds a membership. Adding an existing membership is a no-op.
func (m *Memory) AddUserToGroup(_ context.Context, username, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if _, ok := m.groups[group]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	set, ok := m.members[username]
	if !ok {
		set = make(map[string]struct{})
		m.members[username] = set
	}
	set[group] = struct{}{}
	return nil
}

// RemoveUserFromGroup removes a membership.
func (m *Memory) RemoveUserFromGroup(_ context.Context, username, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if _, ok := m.groups[group]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	delete(m.members[username], group)
	return nil
}

// CreateSession issues a session for an existing user.
func (m *Memory) CreateSession(_ context.Context, username string) (*Session, error) {
	m.mu.RLock()
	_, ok := m.users[username]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return issueSession(m.issuer, username, m.now)
}

// Seed creates a user and its memberships directly, creating groups as needed.
// It exists to set up directory state for tests and demos.
func (m *Memory) Seed(user User, groups ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := user
	m.users[user.Username] = &stored
	set, ok := m.members[user.Username]
	if !ok {
		set = make(map[string]struct{})
		m.members[user.Username] = set
	}
	for _, g := range groups {
		m.groups[g] = struct{}{}
		set[g] = struct{}{}
	}
}

// HasGroup reports whether a group exists.
func (m *Memory) HasGroup(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.groups[name]
	return ok
}

// issueSession mints a session with the issuer, or a random token if none is set.
func issueSession(issuer SessionIssuer, username string, now func() time.Time) (*Session, error) {
	if issuer != nil {
		s, err := issuer.Issue(username)
		if err != nil {
			return nil, fmt.Errorf("issuing session: %w", err)
		}
		return &Session{Token: s.Token, CreatedAt: s.IssuedAt, ExpiresAt: s.ExpiresAt}, nil
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}
	created := now().UTC()
	return &Session{
		Token:     hex.EncodeToString(buf),
		CreatedAt: created,
		ExpiresAt: created.Add(jwt.DefaultSessionTTL),
	}, nil
}
