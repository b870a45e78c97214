package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/msimon/crowdauth/directory"
	"github.com/msimon/crowdauth/identity"
)

// Op is a directory group operation issued by the reconciler.
type Op string

const (
	OpCreate Op = "create"
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// Plan is the set of membership changes that brings a user's groups in line
// with an identity.
type Plan struct {
	ToAdd    []string `json:"toAdd"`
	ToRemove []string `json:"toRemove"`
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0
}

// Outcome is the settled result of one group operation.
type Outcome struct {
	Op    Op     `json:"op"`
	Group string `json:"group"`
	Err   error  `json:"-"`
}

// Failed reports whether the operation failed. Creating a group that already
// exists is not a failure.
func (o Outcome) Failed() bool {
	if o.Err == nil {
		return false
	}
	return !(o.Op == OpCreate && errors.Is(o.Err, directory.ErrGroupExists))
}

// SyncResult is the plan applied by Sync and the outcome of every operation
// it issued, creations first.
type SyncResult struct {
	Plan     Plan
	Outcomes []Outcome
}

// Failures returns the outcomes that failed.
func (r *SyncResult) Failures() []Outcome {
	if r == nil {
		return nil
	}
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Reconciler aligns a user's managed group memberships with an identity.
type Reconciler struct {
	client   directory.Client
	prefix   string
	defaults []string
	logger   Logger
	metrics  *Metrics
}

// NewReconciler creates a Reconciler using the prefix and default groups of
// settings, with defaults applied.
func NewReconciler(client directory.Client, settings Settings) *Reconciler {
	settings = settings.withDefaults()
	return &Reconciler{
		client:   client,
		prefix:   settings.GroupPrefix,
		defaults: settings.DefaultGroups,
		logger:   defaultLogger(),
	}
}

// Plan computes the plan for r against the directory without changing it.
func (rc *Reconciler) Plan(ctx context.Context, r *identity.Record) (Plan, error) {
	current, err := rc.client.ListUserGroups(ctx, r.Username)
	if err != nil {
		return Plan{}, fmt.Errorf("listing groups of %s: %w", r.Username, err)
	}
	return rc.plan(current, r.Groups), nil
}

// Sync applies the plan for r. Every group to add is created first; once all
// creations have settled the memberships are added and removed. Individual
// operation failures are reported in the result and never returned.
func (rc *Reconciler) Sync(ctx context.Context, r *identity.Record) (*SyncResult, error) {
	plan, err := rc.Plan(ctx, r)
	if err != nil {
		return nil, err
	}
	result := &SyncResult{Plan: plan}
	if plan.Empty() {
		return result, nil
	}

	creates := make([]groupOp, 0, len(plan.ToAdd))
	for _, g := range plan.ToAdd {
		creates = append(creates, groupOp{op: OpCreate, group: g})
	}
	mutations := make([]groupOp, 0, len(plan.ToAdd)+len(plan.ToRemove))
	for _, g := range plan.ToAdd {
		mutations = append(mutations, groupOp{op: OpAdd, group: g})
	}
	for _, g := range plan.ToRemove {
		mutations = append(mutations, groupOp{op: OpRemove, group: g})
	}

	result.Outcomes = append(result.Outcomes, rc.settle(ctx, r.Username, creates)...)
	result.Outcomes = append(result.Outcomes, rc.settle(ctx, r.Username, mutations)...)
	return result, nil
}

// plan derives the changes from the current memberships and the bare
// identity groups. Default groups are never removed even when they carry the
// prefix.
func (rc *Reconciler) plan(current, groups []string) Plan {
	managed := make([]string, 0, len(current))
	for _, g := range current {
		if strings.HasPrefix(g, rc.prefix) {
			managed = append(managed, g)
		}
	}
	desired := make([]string, 0, len(groups))
	for _, g := range groups {
		desired = append(desired, rc.prefix+g)
	}

	keep := append(append([]string{}, desired...), rc.defaults...)
	toAdd := append(Difference(desired, current), Difference(rc.defaults, current)...)
	return Plan{
		ToAdd:    unique(toAdd),
		ToRemove: unique(Difference(managed, keep)),
	}
}

type groupOp struct {
	op    Op
	group string
}

// settle runs ops concurrently and waits for all of them. A failing operation
// does not cancel the others.
func (rc *Reconciler) settle(ctx context.Context, username string, ops []groupOp) []Outcome {
	outcomes := make([]Outcome, len(ops))
	var g errgroup.Group
	for i, o := range ops {
		g.Go(func() error {
			outcomes[i] = Outcome{Op: o.op, Group: o.group, Err: rc.apply(ctx, username, o)}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			rc.metrics.observeGroupOp(o.Op, resultSuccess)
		case !o.Failed():
			rc.metrics.observeGroupOp(o.Op, resultExists)
			rc.logger.Debug("group %s already exists", o.Group)
		default:
			rc.metrics.observeGroupOp(o.Op, resultFailure)
			rc.logger.Warn("%s group %s for user %s failed: %v", o.Op, o.Group, username, o.Err)
		}
	}
	return outcomes
}

func (rc *Reconciler) apply(ctx context.Context, username string, o groupOp) error {
	switch o.op {
	case OpCreate:
		return rc.client.CreateGroup(ctx, o.group)
	case OpAdd:
		return rc.client.AddUserToGroup(ctx, username, o.group)
	case OpRemove:
		return rc.client.RemoveUserFromGroup(ctx, username, o.group)
	}
	return fmt.Errorf("unknown group operation %q", o.op)
}
