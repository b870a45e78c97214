package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/msimon/crowdauth/directory"
	"github.com/msimon/crowdauth/identity"
)

// testLogger captures log messages for testing
type testLogger struct {
	mu       sync.Mutex
	infos    []string
	warnings []string
	debugs   []string
}

func (l *testLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fmt.Sprintf(msg, args...))
}

func (l *testLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, fmt.Sprintf(msg, args...))
}

func (l *testLogger) Debug(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugs = append(l.debugs, fmt.Sprintf(msg, args...))
}

// call is one recorded directory request.
type call struct {
	op       string
	username string
	group    string
}

// recordingClient is a Memory directory that records every call in order and
// can fail selected operations.
type recordingClient struct {
	*directory.Memory

	mu    sync.Mutex
	calls []call

	// fail maps "op" or "op:group" to the error that call returns.
	fail map[string]error
}

var _ directory.Client = (*recordingClient)(nil)

func newRecordingClient() *recordingClient {
	return &recordingClient{Memory: directory.NewMemory(nil), fail: make(map[string]error)}
}

func (c *recordingClient) record(op, username, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{op: op, username: username, group: group})
	if err, ok := c.fail[op+":"+group]; ok {
		return err
	}
	return c.fail[op]
}

func (c *recordingClient) recorded() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

func (c *recordingClient) count(op string) int {
	n := 0
	for _, cl := range c.recorded() {
		if cl.op == op {
			n++
		}
	}
	return n
}

func (c *recordingClient) GetUser(ctx context.Context, username string, expand bool) (*directory.User, error) {
	if err := c.record("getUser", username, ""); err != nil {
		return nil, err
	}
	return c.Memory.GetUser(ctx, username, expand)
}

func (c *recordingClient) CreateUser(ctx context.Context, user *directory.User) (*directory.User, error) {
	if err := c.record("createUser", user.Username, ""); err != nil {
		return nil, err
	}
	return c.Memory.CreateUser(ctx, user)
}

func (c *recordingClient) CreateGroup(ctx context.Context, name string) error {
	if err := c.record("createGroup", "", name); err != nil {
		return err
	}
	return c.Memory.CreateGroup(ctx, name)
}

func (c *recordingClient) ListUserGroups(ctx context.Context, username string) ([]string, error) {
	if err := c.record("listUserGroups", username, ""); err != nil {
		return nil, err
	}
	return c.Memory.ListUserGroups(ctx, username)
}

func (c *recordingClient) AddUserToGroup(ctx context.Context, username, group string) error {
	if err := c.record("addUserToGroup", username, group); err != nil {
		return err
	}
	return c.Memory.AddUserToGroup(ctx, username, group)
}

func (c *recordingClient) RemoveUserFromGroup(ctx context.Context, username, group string) error {
	if err := c.record("removeUserFromGroup", username, group); err != nil {
		return err
	}
	return c.Memory.RemoveUserFromGroup(ctx, username, group)
}

func (c *recordingClient) CreateSession(ctx context.Context, username string) (*directory.Session, error) {
	if err := c.record("createSession", username, ""); err != nil {
		return nil, err
	}
	return c.Memory.CreateSession(ctx, username)
}

func testRecord(username string, groups ...string) *identity.Record {
	return &identity.Record{
		GivenName:   "Test",
		FamilyName:  "User",
		DisplayName: "Test User",
		Email:       username + "@example.com",
		Username:    username,
		Groups:      groups,
	}
}

func testUser(username string) directory.User {
	return directory.User{Username: username, DisplayName: "Test User", Email: username + "@example.com", Active: true}
}

func fixedPassword(_ context.Context) (string, error) {
	return "fixed-password", nil
}
