package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/msimon/crowdauth/directory"
	"github.com/msimon/crowdauth/identity"
)

// Provisioner makes sure a directory user exists for an identity.
//
// Concurrent calls for the same username within one process share a single
// lookup and creation. Across processes only the directory's uniqueness
// constraint prevents duplicate creation.
type Provisioner struct {
	client   directory.Client
	password PasswordStrategy
	logger   Logger
	flight   singleflight.Group
}

// NewProvisioner creates a Provisioner. A nil password strategy uses
// DefaultPasswordStrategy.
func NewProvisioner(client directory.Client, password PasswordStrategy) *Provisioner {
	if password == nil {
		password = DefaultPasswordStrategy
	}
	return &Provisioner{client: client, password: password, logger: defaultLogger()}
}

// GetOrCreateUser returns the directory user named r.Username, creating it
// with a fresh password if the lookup reports it missing. Existing users are
// returned unchanged.
//
// Canceling ctx returns ctx's error to this caller only. Concurrent callers for
// the same username keep waiting for the shared lookup and creation.
func (p *Provisioner) GetOrCreateUser(ctx context.Context, r *identity.Record) (*directory.User, error) {
	if r == nil {
		return nil, identity.ErrMissingRecord
	}
	// The shared call outlives any single caller's cancellation. Each caller
	// still stops waiting when its own context is done.
	ch := p.flight.DoChan(r.Username, func() (any, error) {
		return p.getOrCreate(context.WithoutCancel(ctx), r)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("provisioning user %s: %w", r.Username, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers sharing a flight must not share the pointer.
		u := *res.Val.(*directory.User)
		return &u, nil
	}
}

func (p *Provisioner) getOrCreate(ctx context.Context, r *identity.Record) (*directory.User, error) {
	u, err := p.client.GetUser(ctx, r.Username, true)
	if err == nil {
		p.logger.Debug("user %s already exists", r.Username)
		return u, nil
	}
	if !errors.Is(err, directory.ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user %s: %w", r.Username, err)
	}

	password, err := p.password(ctx)
	if err != nil {
		return nil, fmt.Errorf("generating password for %s: %w", r.Username, err)
	}

	created, err := p.client.CreateUser(ctx, &directory.User{
		Username:    r.Username,
		GivenName:   r.GivenName,
		FamilyName:  r.FamilyName,
		DisplayName: r.DisplayName,
		Email:       r.Email,
		Password:    password,
		Active:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", r.Username, err)
	}
	p.logger.Info("created directory user %s", r.Username)
	return created, nil
}
