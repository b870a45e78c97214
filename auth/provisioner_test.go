package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msimon/crowdauth/directory"
	"github.com/msimon/crowdauth/identity"
)

func TestProvisioner_CreatesMissingUser(t *testing.T) {
	client := newRecordingClient()
	p := NewProvisioner(client, fixedPassword)

	r := testRecord("alice")
	u, err := p.GetOrCreateUser(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "Test User", u.DisplayName)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.True(t, u.Active)
	assert.Empty(t, u.Password)
	assert.Equal(t, 1, client.count("createUser"))

	// The lookup asked for full detail.
	calls := client.recorded()
	require.NotEmpty(t, calls)
	assert.Equal(t, call{op: "getUser", username: "alice"}, calls[0])
}

func TestProvisioner_ExistingUserUnchanged(t *testing.T) {
	client := newRecordingClient()
	existing := testUser("alice")
	existing.DisplayName = "Old Name"
	client.Seed(existing)
	p := NewProvisioner(client, func(context.Context) (string, error) {
		t.Fatal("password strategy must not run for existing users")
		return "", nil
	})

	r := testRecord("alice")
	r.DisplayName = "New Name"
	u, err := p.GetOrCreateUser(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "Old Name", u.DisplayName)
	assert.Equal(t, 0, client.count("createUser"))
}

func TestProvisioner_LookupErrorPropagates(t *testing.T) {
	client := newRecordingClient()
	boom := errors.New("directory unavailable")
	client.fail["getUser"] = boom
	p := NewProvisioner(client, fixedPassword)

	_, err := p.GetOrCreateUser(context.Background(), testRecord("alice"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, client.count("createUser"))
}

func TestProvisioner_PasswordErrorAborts(t *testing.T) {
	client := newRecordingClient()
	noEntropy := errors.New("entropy source failed")
	p := NewProvisioner(client, func(context.Context) (string, error) { return "", noEntropy })

	_, err := p.GetOrCreateUser(context.Background(), testRecord("alice"))
	require.ErrorIs(t, err, noEntropy)
	assert.Equal(t, 0, client.count("createUser"))
}

func TestProvisioner_CreateErrorPropagates(t *testing.T) {
	client := newRecordingClient()
	client.fail["createUser"] = directory.ErrUserExists
	p := NewProvisioner(client, fixedPassword)

	_, err := p.GetOrCreateUser(context.Background(), testRecord("alice"))
	require.ErrorIs(t, err, directory.ErrUserExists)
}

func TestProvisioner_PasswordStored(t *testing.T) {
	var got *directory.User
	client := &capturingClient{recordingClient: newRecordingClient(), created: &got}
	p := NewProvisioner(client, fixedPassword)

	_, err := p.GetOrCreateUser(context.Background(), testRecord("alice"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fixed-password", got.Password)
	assert.Equal(t, "Test", got.GivenName)
	assert.Equal(t, "User", got.FamilyName)
}

func TestProvisioner_NilRecord(t *testing.T) {
	p := NewProvisioner(newRecordingClient(), nil)
	_, err := p.GetOrCreateUser(context.Background(), nil)
	assert.ErrorIs(t, err, identity.ErrMissingRecord)
}

func TestProvisioner_ConcurrentSameUsername(t *testing.T) {
	client := newRecordingClient()
	p := NewProvisioner(client, fixedPassword)

	const n = 8
	var wg sync.WaitGroup
	users := make([]*directory.User, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			users[i], errs[i] = p.GetOrCreateUser(context.Background(), testRecord("alice"))
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "alice", users[i].Username)
	}
	assert.Equal(t, 1, client.count("createUser"))
}

// capturingClient keeps the user passed to CreateUser, password included.
type capturingClient struct {
	*recordingClient
	created **directory.User
}

func (c *capturingClient) CreateUser(ctx context.Context, user *directory.User) (*directory.User, error) {
	cp := *user
	*c.created = &cp
	return c.recordingClient.CreateUser(ctx, user)
}

// blockingClient holds GetUser until release is closed or the call's context
// is done.
type blockingClient struct {
	*recordingClient
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingClient) GetUser(ctx context.Context, username string, expand bool) (*directory.User, error) {
	c.once.Do(func() { close(c.entered) })
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.recordingClient.GetUser(ctx, username, expand)
}

func TestProvisioner_CancelDoesNotFailOtherCallers(t *testing.T) {
	client := &blockingClient{
		recordingClient: newRecordingClient(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	p := NewProvisioner(client, fixedPassword)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := p.GetOrCreateUser(ctxA, testRecord("alice"))
		errA <- err
	}()
	select {
	case <-client.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("lookup never started")
	}

	type result struct {
		user *directory.User
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		u, err := p.GetOrCreateUser(context.Background(), testRecord("alice"))
		resB <- result{u, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	// Let the second caller join the shared lookup before it completes.
	time.Sleep(50 * time.Millisecond)
	close(client.release)

	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Equal(t, "alice", res.user.Username)
	case <-time.After(5 * time.Second):
		t.Fatal("live caller did not return")
	}
	assert.Equal(t, 1, client.count("createUser"))
}
