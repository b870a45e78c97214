package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/crypto/bcrypt"
)

// KV key layout. Names are encoded with keyToken.
const (
	kvUserPrefix   = "users."
	kvGroupPrefix  = "groups."
	kvMemberPrefix = "members."
)

// KVConfig holds configuration for the NATS KV directory.
type KVConfig struct {
	// Bucket is the name of the NATS KV bucket. It is created if missing.
	Bucket string `json:"bucket" yaml:"bucket"`

	// NatsURL is the NATS server URL (e.g., "nats://localhost:4222").
	NatsURL string `json:"natsUrl" yaml:"natsUrl"`

	// NatsCredentials is the path to NATS credentials file.
	// Mutually exclusive with NatsNkey.
	NatsCredentials string `json:"natsCredentials,omitempty" yaml:"natsCredentials,omitempty"`

	// NatsNkey is the path to the nkey seed file for NATS authentication.
	// Mutually exclusive with NatsCredentials.
	NatsNkey string `json:"natsNkey,omitempty" yaml:"natsNkey,omitempty"`
}

// kvUser is the stored form of a user. Only a bcrypt hash of the password is kept.
type kvUser struct {
	Username     string    `json:"username"`
	GivenName    string    `json:"givenName,omitempty"`
	FamilyName   string    `json:"familyName,omitempty"`
	DisplayName  string    `json:"displayName,omitempty"`
	Email        string    `json:"email,omitempty"`
	Active       bool      `json:"active"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// KV is a directory stored in a NATS JetStream key-value bucket.
type KV struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	issuer SessionIssuer
	now    func() time.Time
}

var _ Client = (*KV)(nil)

// NewKV connects to NATS and opens (or creates) the directory bucket.
func NewKV(ctx context.Context, cfg KVConfig, issuer SessionIssuer) (*KV, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("kv directory: bucket is required")
	}
	if cfg.NatsURL == "" {
		cfg.NatsURL = nats.DefaultURL
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NatsURL = url
	}
	if cfg.NatsCredentials != "" && cfg.NatsNkey != "" {
		return nil, fmt.Errorf("kv directory: natsCredentials and natsNkey are mutually exclusive")
	}

	opts := []nats.Option{
		nats.Name("crowdauth-kv-directory"),
	}
	if cfg.NatsCredentials != "" {
		opts = append(opts, nats.UserCredentials(cfg.NatsCredentials))
	} else if cfg.NatsNkey != "" {
		opt, err := nats.NkeyOptionFromSeed(cfg.NatsNkey)
		if err != nil {
			return nil, fmt.Errorf("kv directory: loading nkey from %s: %w", cfg.NatsNkey, err)
		}
		opts = append(opts, opt)
	}

	nc, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("kv directory: connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("kv directory: creating jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "crowdauth directory",
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("kv directory: opening bucket %q: %w", cfg.Bucket, err)
	}

	return &KV{nc: nc, kv: kv, issuer: issuer, now: time.Now}, nil
}

// Close closes the NATS connection.
func (d *KV) Close() {
	if d.nc != nil {
		d.nc.Close()
	}
}

func userKey(username string) string { return kvUserPrefix + keyToken(username) }

func groupKey(name string) string { return kvGroupPrefix + keyToken(name) }

func memberKey(username, group string) string {
	return kvMemberPrefix + keyToken(username) + "." + keyToken(group)
}

// GetUser fetches a user record.
func (d *KV) GetUser(ctx context.Context, username string, _ bool) (*User, error) {
	entry, err := d.kv.Get(ctx, userKey(username))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return nil, fmt.Errorf("fetching user %s: %w", username, err)
	}
	var stored kvUser
	if err := json.Unmarshal(entry.Value(), &stored); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", username, err)
	}
	return &User{
		Username:    stored.Username,
		GivenName:   stored.GivenName,
		FamilyName:  stored.FamilyName,
		DisplayName: stored.DisplayName,
		Email:       stored.Email,
		Active:      stored.Active,
	}, nil
}

// CreateUser stores a user. The key is created atomically, so a concurrent
// creation of the same username fails with ErrUserExists.
func (d *KV) CreateUser(ctx context.Context, user *User) (*User, error) {
	if user == nil || user.Username == "" {
		return nil, errors.New("kv directory: username is required")
	}
	stored := kvUser{
		Username:    user.Username,
		GivenName:   user.GivenName,
		FamilyName:  user.FamilyName,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Active:      user.Active,
		CreatedAt:   d.now().UTC(),
	}
	if user.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		stored.PasswordHash = string(hash)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encoding user %s: %w", user.Username, err)
	}
	if _, err := d.kv.Create(ctx, userKey(user.Username), data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, user.Username)
		}
		return nil, fmt.Errorf("storing user %s: %w", user.Username, err)
	}
	out := *user
	out.Password = ""
	return &out, nil
}

// CreateGroup creates a group key. Returns ErrGroupExists if present.
func (d *KV) CreateGroup(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("kv directory: group name is required")
	}
	if _, err := d.kv.Create(ctx, groupKey(name), []byte(name)); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: %s", ErrGroupExists, name)
		}
		return fmt.Errorf("storing group %s: %w", name, err)
	}
	return nil
}

// ListUserGroups lists the membership keys below the user's prefix.
func (d *KV) ListUserGroups(ctx context.Context, username string) ([]string, error) {
	prefix := kvMemberPrefix + keyToken(username) + "."
	lister, err := d.kv.ListKeysFiltered(ctx, prefix+"*")
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing groups of %s: %w", username, err)
	}

	groups := make([]string, 0)
	for key := range lister.Keys() {
		name, err := decodeKeyToken(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		groups = append(groups, name)
	}
	sort.Strings(groups)
	return groups, nil
}

// AddUserToGroup stores a membership key. Both user and group must exist.
func (d *KV) AddUserToGroup(ctx context.Context, username, group string) error {
	if err := d.requireUserAndGroup(ctx, username, group); err != nil {
		return err
	}
	if _, err := d.kv.Put(ctx, memberKey(username, group), []byte(group)); err != nil {
		return fmt.Errorf("adding %s to %s: %w", username, group, err)
	}
	return nil
}

// RemoveUserFromGroup deletes a membership key.
func (d *KV) RemoveUserFromGroup(ctx context.Context, username, group string) error {
	if err := d.requireUserAndGroup(ctx, username, group); err != nil {
		return err
	}
	if err := d.kv.Delete(ctx, memberKey(username, group)); err != nil {
		return fmt.Errorf("removing %s from %s: %w", username, group, err)
	}
	return nil
}

// CreateSession issues a session for an existing user.
func (d *KV) CreateSession(ctx context.Context, username string) (*Session, error) {
	if _, err := d.GetUser(ctx, username, false); err != nil {
		return nil, err
	}
	return issueSession(d.issuer, username, d.now)
}

func (d *KV) requireUserAndGroup(ctx context.Context, username, group string) error {
	if _, err := d.kv.Get(ctx, userKey(username)); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return fmt.Errorf("fetching user %s: %w", username, err)
	}
	if _, err := d.kv.Get(ctx, groupKey(group)); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, group)
		}
		return fmt.Errorf("fetching group %s: %w", group, err)
	}
	return nil
}
