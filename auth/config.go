package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msimon/crowdauth/directory"
	"github.com/msimon/crowdauth/identity"
	"github.com/msimon/crowdauth/jwt"
)

// Directory types.
const (
	DirectoryCrowd  = "crowd"
	DirectoryMemory = "memory"
	DirectoryKV     = "kv"
)

// Config holds the complete configuration for the crowdauth service.
type Config struct {
	// Directory configuration
	Directory DirectoryConfig `json:"directory" yaml:"directory"`

	// Identity strategy configuration
	Identity IdentityConfig `json:"identity" yaml:"identity"`

	// Group reconciliation configuration
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Session configuration for directories that issue their own sessions
	Session SessionConfig `json:"session" yaml:"session"`

	// Server configuration (for serve mode)
	Server ServerConfig `json:"server" yaml:"server"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// DirectoryConfig selects and configures the directory client.
type DirectoryConfig struct {
	// Type specifies the directory type: "crowd", "memory" or "kv".
	Type string `json:"type" yaml:"type"`

	// Crowd contains Crowd REST client configuration.
	Crowd *directory.CrowdClientConfig `json:"crowd,omitempty" yaml:"crowd,omitempty"`

	// KV contains NATS KV directory configuration.
	KV *directory.KVConfig `json:"kv,omitempty" yaml:"kv,omitempty"`
}

// IdentityConfig configures the authentication strategies.
//
// Strategies are optional: without any, only direct identity records are accepted.
// Each strategy must have a unique id.
type IdentityConfig struct {
	File []identity.FileStrategyConfig `json:"file,omitempty" yaml:"file,omitempty"`
	JWT  []identity.JwtStrategyConfig  `json:"jwt,omitempty" yaml:"jwt,omitempty"`
}

// SyncConfig configures group reconciliation.
type SyncConfig struct {
	// GroupPrefix marks managed groups. Default: "crowd-authenticator:"
	GroupPrefix string `json:"groupPrefix,omitempty" yaml:"groupPrefix,omitempty"`

	// DefaultGroups are added to every user, unprefixed.
	DefaultGroups []string `json:"defaultGroups,omitempty" yaml:"defaultGroups,omitempty"`
}

// SessionConfig configures session tokens minted by the memory and kv directories.
type SessionConfig struct {
	// SigningKeyPath is the path to an account nkey seed signing session JWTs.
	// Without it sessions carry random opaque tokens.
	SigningKeyPath string `json:"signingKeyPath,omitempty" yaml:"signingKeyPath,omitempty"`

	// TTL is the session lifetime as a duration string (e.g., "1h", "30m").
	TTL string `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// ServerConfig configures the NATS services.
type ServerConfig struct {
	// NatsURL is the NATS server URL.
	NatsURL string `json:"natsUrl" yaml:"natsUrl"`

	// NatsCredentials is the path to the NATS credentials file.
	// Mutually exclusive with NatsNkey.
	NatsCredentials string `json:"natsCredentials,omitempty" yaml:"natsCredentials,omitempty"`

	// NatsNkey is the path to the nkey seed file for NATS authentication.
	// Mutually exclusive with NatsCredentials.
	NatsNkey string `json:"natsNkey,omitempty" yaml:"natsNkey,omitempty"`

	// Subject is the authenticate request subject.
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`

	// DebugSubject enables the debug service on this subject when set.
	DebugSubject string `json:"debugSubject,omitempty" yaml:"debugSubject,omitempty"`

	// MetricsAddr serves Prometheus metrics on this address when set (e.g., ":9090").
	MetricsAddr string `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`
}

// LogConfig configures the default logger.
type LogConfig struct {
	// Level is a logrus level name. Default: "info"
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is "text" or "json". Default: "text"
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// LoadConfig reads and parses a configuration file. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &config, nil
}

// Validate checks that the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.Directory.Type == "" {
		c.Directory.Type = DirectoryCrowd
	}
	switch c.Directory.Type {
	case DirectoryCrowd:
		if c.Directory.Crowd == nil {
			return fmt.Errorf("directory.crowd configuration is required when type is 'crowd'")
		}
		if c.Directory.Crowd.BaseURL == "" {
			return fmt.Errorf("directory.crowd.baseUrl is required")
		}
		if c.Directory.Crowd.ApplicationName == "" {
			return fmt.Errorf("directory.crowd.applicationName is required")
		}
	case DirectoryKV:
		if c.Directory.KV == nil {
			return fmt.Errorf("directory.kv configuration is required when type is 'kv'")
		}
		if c.Directory.KV.Bucket == "" {
			return fmt.Errorf("directory.kv.bucket is required")
		}
	case DirectoryMemory:
	default:
		return fmt.Errorf("unsupported directory type: %s", c.Directory.Type)
	}

	ids := make(map[string]struct{}, len(c.Identity.File)+len(c.Identity.JWT))
	for i, s := range c.Identity.File {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("identity.file[%d].id is required", i)
		}
		if _, ok := ids[s.ID]; ok {
			return fmt.Errorf("identity strategies contain duplicate id: %s", s.ID)
		}
		ids[s.ID] = struct{}{}
		if s.UsersPath == "" {
			return fmt.Errorf("identity.file[%s].usersPath is required", s.ID)
		}
	}
	for i, s := range c.Identity.JWT {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("identity.jwt[%d].id is required", i)
		}
		if _, ok := ids[s.ID]; ok {
			return fmt.Errorf("identity strategies contain duplicate id: %s", s.ID)
		}
		ids[s.ID] = struct{}{}
		if s.Issuer == "" {
			return fmt.Errorf("identity.jwt[%s].issuer is required", s.ID)
		}
		if s.PublicKey == "" {
			return fmt.Errorf("identity.jwt[%s].publicKey is required", s.ID)
		}
	}

	if c.Session.TTL != "" {
		d, err := time.ParseDuration(c.Session.TTL)
		if err != nil || d <= 0 {
			return fmt.Errorf("session.ttl must be a positive duration, got %q", c.Session.TTL)
		}
	}

	if c.Server.NatsCredentials != "" && c.Server.NatsNkey != "" {
		return fmt.Errorf("server.natsCredentials and server.natsNkey are mutually exclusive")
	}

	return nil
}

// GetTTL returns the session TTL as a time.Duration, or the default if not set.
func (c *SessionConfig) GetTTL(defaultTTL time.Duration) time.Duration {
	if c.TTL == "" {
		return defaultTTL
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return defaultTTL
	}
	return d
}

// SessionIssuer builds the session issuer, or nil when no signing key is set.
func (c *SessionConfig) SessionIssuer() (*jwt.SessionIssuer, error) {
	if c.SigningKeyPath == "" {
		return nil, nil
	}
	signer, err := jwt.LoadSignerFromFile(c.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading session signing key: %w", err)
	}
	return jwt.NewSessionIssuer(signer, c.GetTTL(jwt.DefaultSessionTTL))
}

// Settings converts the sync configuration to Settings.
func (c *SyncConfig) Settings() Settings {
	return Settings{
		GroupPrefix:   c.GroupPrefix,
		DefaultGroups: append([]string{}, c.DefaultGroups...),
	}
}

// NewDirectoryWithConfig creates the directory client selected by config.
func NewDirectoryWithConfig(ctx context.Context, config *Config) (directory.Client, error) {
	// A nil *jwt.SessionIssuer must not become a non-nil interface.
	var issuer directory.SessionIssuer
	if config.Directory.Type != DirectoryCrowd {
		si, err := config.Session.SessionIssuer()
		if err != nil {
			return nil, err
		}
		if si != nil {
			issuer = si
		}
	}

	switch config.Directory.Type {
	case DirectoryCrowd:
		c, err := directory.NewCrowdClient(*config.Directory.Crowd)
		if err != nil {
			return nil, fmt.Errorf("initializing crowd directory: %w", err)
		}
		return c, nil
	case DirectoryKV:
		kv, err := directory.NewKV(ctx, *config.Directory.KV, issuer)
		if err != nil {
			return nil, fmt.Errorf("initializing kv directory: %w", err)
		}
		return kv, nil
	case DirectoryMemory:
		return directory.NewMemory(issuer), nil
	}
	return nil, fmt.Errorf("unsupported directory type: %s", config.Directory.Type)
}

// NewStrategyWithConfig creates the strategy manager for the configured
// strategies, or nil when none are configured.
func NewStrategyWithConfig(config *Config) (identity.Strategy, error) {
	strategies := make(map[string]identity.Strategy)
	for _, fc := range config.Identity.File {
		s, err := identity.NewFileStrategy(fc)
		if err != nil {
			return nil, fmt.Errorf("initializing file strategy %q: %w", fc.ID, err)
		}
		strategies[fc.ID] = s
	}
	for _, jc := range config.Identity.JWT {
		s, err := identity.NewJwtStrategy(jc)
		if err != nil {
			return nil, fmt.Errorf("initializing jwt strategy %q: %w", jc.ID, err)
		}
		strategies[jc.ID] = s
	}
	if len(strategies) == 0 {
		return nil, nil
	}

	m, err := identity.NewStrategyManager(strategies)
	if err != nil {
		return nil, fmt.Errorf("initializing authentication strategies: %w", err)
	}
	return m, nil
}

// NewAuthenticatorWithConfig creates a new Authenticator from a Config.
// It initializes the directory and strategies based on the configuration.
// Options are applied after the configured strategy, so WithStrategy overrides it.
func NewAuthenticatorWithConfig(ctx context.Context, config *Config, opts ...Option) (*Authenticator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	strategy, err := NewStrategyWithConfig(config)
	if err != nil {
		return nil, err
	}

	client, err := NewDirectoryWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if strategy != nil {
		opts = append([]Option{WithStrategy(strategy)}, opts...)
	}
	return NewAuthenticator(client, config.Sync.Settings(), opts...)
}

func (c *ServerConfig) natsConfig() NatsConfig {
	return NatsConfig{
		NatsURL:         c.NatsURL,
		NatsCredentials: c.NatsCredentials,
		NatsNkey:        c.NatsNkey,
	}
}

// ToServiceConfig converts the server configuration to a ServiceConfig.
func (c *ServerConfig) ToServiceConfig() ServiceConfig {
	return ServiceConfig{NatsConfig: c.natsConfig(), Subject: c.Subject}
}

// ToDebugConfig converts the server configuration to a DebugConfig.
func (c *ServerConfig) ToDebugConfig() DebugConfig {
	return DebugConfig{NatsConfig: c.natsConfig(), Subject: c.DebugSubject}
}
