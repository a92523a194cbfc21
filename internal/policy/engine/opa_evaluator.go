// Package engine evaluates the account moderation authorization policy with OPA.
package engine

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	"account-lifecycle/internal/account/domain"
)

//go:embed moderation.rego
var defaultRegoPolicy string

const (
	allowQuery        = "data.accounts.moderation.allow"
	visibleRolesQuery = "data.accounts.moderation.visible_roles"
)

// Authorizer decides whether an actor may run a moderation action on a target account.
type Authorizer interface {
	Allow(ctx context.Context, actor domain.Actor, target *domain.Account, action string) (bool, error)
	// VisibleRoles returns the subject roles of ledger records the actor may read.
	VisibleRoles(ctx context.Context, actor domain.Actor) ([]string, error)
}

// OPAEvaluator evaluates moderation policy using OPA Rego. Queries are prepared once.
type OPAEvaluator struct {
	allow   rego.PreparedEvalQuery
	visible rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles module, or the embedded default policy when module is empty.
// A custom module must declare package accounts.moderation.
func NewOPAEvaluator(ctx context.Context, module string) (*OPAEvaluator, error) {
	if module == "" {
		module = defaultRegoPolicy
	}
	allow, err := prepare(ctx, allowQuery, module)
	if err != nil {
		return nil, err
	}
	visible, err := prepare(ctx, visibleRolesQuery, module)
	if err != nil {
		return nil, err
	}
	return &OPAEvaluator{allow: allow, visible: visible}, nil
}

func prepare(ctx context.Context, query, module string) (rego.PreparedEvalQuery, error) {
	q, err := rego.New(rego.Query(query), rego.Module("moderation.rego", module)).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("compile policy: %w", err)
	}
	return q, nil
}

// Allow returns false with a non-nil error when evaluation fails; callers deny in that case.
func (e *OPAEvaluator) Allow(ctx context.Context, actor domain.Actor, target *domain.Account, action string) (bool, error) {
	if target == nil {
		return false, errors.New("policy: nil target")
	}
	rs, err := e.allow.Eval(ctx, rego.EvalInput(map[string]any{
		"actor":  actorInput(actor),
		"target": map[string]any{"id": target.ID, "role": string(target.Role), "is_default_admin": target.IsDefaultAdmin},
		"action": action,
	}))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	ok, _ := rs[0].Expressions[0].Value.(bool)
	return ok, nil
}

// VisibleRoles returns nil when the policy leaves visible_roles undefined for the actor.
func (e *OPAEvaluator) VisibleRoles(ctx context.Context, actor domain.Actor) ([]string, error) {
	rs, err := e.visible.Eval(ctx, rego.EvalInput(map[string]any{"actor": actorInput(actor)}))
	if err != nil {
		return nil, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	raw, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("policy: visible_roles is %T, want array", rs[0].Expressions[0].Value)
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles, nil
}

// HealthCheck verifies that the in-process OPA engine can evaluate the loaded policy.
// Does not touch the database. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	actor := domain.Actor{ID: "health-actor", Role: domain.RoleRootAdmin, IsDefaultAdmin: true}
	target := &domain.Account{ID: "health-target", Role: domain.RoleUser}
	if _, err := e.Allow(ctx, actor, target, "suspend"); err != nil {
		return err
	}
	if _, err := e.VisibleRoles(ctx, actor); err != nil {
		return err
	}
	return nil
}

func actorInput(a domain.Actor) map[string]any {
	return map[string]any{"id": a.ID, "role": string(a.Role), "is_default_admin": a.IsDefaultAdmin}
}
