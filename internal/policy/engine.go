package policy

import (
	"context"
	"log/slog"
)

// DecisionHook is called after every evaluation, e.g. to feed metrics.
type DecisionHook func(collection string, op Operation, allowed bool)

type ruleKey struct {
	collection string
	op         Operation
}

type checkFunc func(ctx context.Context, e *Engine, req Request) Decision

// Engine evaluates the authorization policy for every attempted document
// operation. Evaluation is stateless: each request is judged once against
// the provided current state, with no retries and no cross-document
// transactional view. Anything without an explicit allow rule is denied.
type Engine struct {
	profiles ProfileLookup
	logger   *slog.Logger
	hook     DecisionHook
	rules    map[ruleKey]checkFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithDecisionHook registers a hook invoked on every decision.
func WithDecisionHook(hook DecisionHook) Option {
	return func(e *Engine) { e.hook = hook }
}

// NewEngine creates an Engine with the standard rule set.
func NewEngine(profiles ProfileLookup, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		profiles: profiles,
		logger:   logger,
		rules:    standardRules(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize decides whether the request is permitted. Denial reasons are
// internal; callers surface only the boolean.
func (e *Engine) Authorize(ctx context.Context, req Request) Decision {
	d := e.evaluate(ctx, req)

	if e.hook != nil {
		e.hook(req.Collection, req.Op, d.Allowed)
	}
	if !d.Allowed {
		uid := ""
		if req.Auth != nil {
			uid = req.Auth.UID
		}
		e.logger.Debug("denied",
			"collection", req.Collection,
			"op", string(req.Op),
			"doc", req.DocID,
			"uid", uid,
			"reason", d.Reason,
		)
	}
	return d
}

func (e *Engine) evaluate(ctx context.Context, req Request) Decision {
	if req.Auth == nil || req.Auth.UID == "" {
		return Deny("unauthenticated")
	}

	op := req.Op
	if op == OpList {
		// List visibility is the per-document read rule.
		op = OpGet
	}

	check, ok := e.rules[ruleKey{req.Collection, op}]
	if !ok {
		return Deny("no rule matches " + req.Collection + "/" + string(op))
	}
	return check(ctx, e, req)
}

// callerHouseholdID fetches the caller's own profile document and returns
// its householdId, or ("", false) if the profile is missing, the lookup
// fails, or no household is set. This is the dependent cross-document
// read the items and households rules need.
func (e *Engine) callerHouseholdID(ctx context.Context, uid string) (string, bool) {
	profile, err := e.profiles.Profile(ctx, uid)
	if err != nil || profile == nil {
		return "", false
	}
	if profile.IsNull("householdId") {
		return "", false
	}
	id, ok := profile.String("householdId")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// callerHasNoHousehold is the household-creation precondition: the
// caller's profile must exist and its householdId must be null. A failed
// lookup denies rather than defaulting open.
func (e *Engine) callerHasNoHousehold(ctx context.Context, uid string) bool {
	profile, err := e.profiles.Profile(ctx, uid)
	if err != nil || profile == nil {
		return false
	}
	return profile.IsNull("householdId")
}
