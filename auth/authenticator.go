// Package auth provisions directory users from authenticated identities,
// reconciles their managed group memberships and issues sessions.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/msimon/crowdauth/directory"
	"github.com/msimon/crowdauth/identity"
)

// Input is what Authenticate is called with. A non-nil Record is used as is;
// otherwise AuthID is resolved with the configured strategy.
type Input struct {
	AuthID string           `json:"authId,omitempty"`
	Record *identity.Record `json:"identity,omitempty"`
}

// Result contains the result of a successful authentication.
type Result struct {
	Session *directory.Session
	User    *directory.User
	Sync    *SyncResult
}

// Authenticator validates identities, provisions their directory users,
// reconciles group memberships and opens sessions.
//
// No step is rolled back when a later one fails. Authentication is safe to
// retry instead.
type Authenticator struct {
	client      directory.Client
	strategy    identity.Strategy
	settings    Settings
	provisioner *Provisioner
	reconciler  *Reconciler
	logger      Logger
	metrics     *Metrics
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets a custom logger for the authenticator.
func WithLogger(l Logger) Option {
	return func(a *Authenticator) {
		a.logger = l
	}
}

// WithStrategy sets the strategy resolving Input.AuthID.
func WithStrategy(s identity.Strategy) Option {
	return func(a *Authenticator) {
		a.strategy = s
	}
}

// WithMetrics records authentications and group operations in m.
func WithMetrics(m *Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = m
	}
}

// NewAuthenticator creates an Authenticator over client.
func NewAuthenticator(client directory.Client, settings Settings, opts ...Option) (*Authenticator, error) {
	if client == nil {
		return nil, errors.New("directory client is required")
	}

	a := &Authenticator{
		client:   client,
		settings: settings.withDefaults(),
		logger:   defaultLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.provisioner = NewProvisioner(client, a.settings.PasswordStrategy)
	a.provisioner.logger = a.logger
	a.reconciler = NewReconciler(client, a.settings)
	a.reconciler.logger = a.logger
	a.reconciler.metrics = a.metrics
	return a, nil
}

// Settings returns the effective settings.
func (a *Authenticator) Settings() Settings {
	s := a.settings
	s.DefaultGroups = append([]string{}, s.DefaultGroups...)
	return s
}

// Close releases the directory client if it holds a connection.
func (a *Authenticator) Close() {
	if c, ok := a.client.(interface{ Close() }); ok {
		c.Close()
	}
}

// Authenticate performs the complete authentication flow:
// identify, validate, provision, reconcile, open session.
// It returns the session or the error of the first phase that failed.
func (a *Authenticator) Authenticate(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	res, err := a.authenticate(ctx, in)

	switch {
	case err == nil:
		a.metrics.observeAuthentication(resultSuccess, time.Since(start))
		a.logger.Info("authenticated user %s", res.User.Username)
	case isValidation(err):
		a.metrics.observeAuthentication(resultInvalid, time.Since(start))
		a.logger.Warn("rejected identity: %v", err)
	default:
		a.metrics.observeAuthentication(resultFailure, time.Since(start))
		a.logger.Warn("authentication failed: %v", err)
	}
	return res, err
}

func (a *Authenticator) authenticate(ctx context.Context, in Input) (*Result, error) {
	r, err := a.identify(ctx, in)
	if err != nil {
		return nil, err
	}
	username := r.Username

	user, err := a.provisioner.GetOrCreateUser(ctx, r)
	if err != nil {
		return nil, NewAuthError(username, PhaseProvision, "provisioning user", err)
	}

	sync, err := a.reconciler.Sync(ctx, r)
	if err != nil {
		return nil, NewAuthError(username, PhaseReconcile, "reconciling groups", err)
	}

	session, err := a.client.CreateSession(ctx, username)
	if err != nil {
		return nil, NewAuthError(username, PhaseSession, "creating session", err)
	}

	return &Result{Session: session, User: user, Sync: sync}, nil
}

// Plan resolves and validates the identity like Authenticate, then returns
// the membership changes a sync would apply. The directory is not modified.
func (a *Authenticator) Plan(ctx context.Context, in Input) (Plan, error) {
	r, err := a.identify(ctx, in)
	if err != nil {
		return Plan{}, err
	}
	plan, err := a.reconciler.Plan(ctx, r)
	if err != nil {
		return Plan{}, NewAuthError(r.Username, PhaseReconcile, "planning groups", err)
	}
	return plan, nil
}

// identify yields the validated identity record for in.
func (a *Authenticator) identify(ctx context.Context, in Input) (*identity.Record, error) {
	r := in.Record
	if r == nil && in.AuthID != "" {
		if a.strategy == nil {
			return nil, NewAuthError("", PhaseValidate, "no identity and no strategy to resolve authId", identity.Validate(nil))
		}
		var err error
		r, err = a.strategy.GetAuthInfo(ctx, in.AuthID)
		if err != nil {
			return nil, NewAuthError("", PhaseIdentify, "resolving identity", err)
		}
	}

	if err := identity.Validate(r); err != nil {
		username := ""
		if r != nil {
			username = r.Username
		}
		return nil, NewAuthError(username, PhaseValidate, "validating identity", err)
	}
	return r, nil
}

func isValidation(err error) bool {
	var verr *identity.ValidationError
	return errors.As(err, &verr)
}
