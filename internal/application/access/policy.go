// Package access decides whether a caller may read or write another user's
// progress. Identity and membership come from collaborators; this package only
// evaluates them.
package access

import (
	"context"

	"github.com/alem-hub/reading-engine/internal/domain/challenge"
	"github.com/alem-hub/reading-engine/internal/domain/member"
	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

// Principal is the authenticated caller.
type Principal struct {
	// Subject is the caller's user ID, or the service name for service callers.
	Subject string
	Role    shared.Role
	// Scopes from the token. When empty, the member directory is consulted.
	Scopes []shared.ScopeID
	// Wards lists users a parent may see.
	Wards []shared.UserID
}

// System is the principal used by background jobs.
func System() Principal {
	return Principal{Subject: "system", Role: shared.RoleService}
}

// IsPrivileged reports whether the caller sees everything.
func (p Principal) IsPrivileged() bool {
	return p.Role.IsPrivileged()
}

// Policy evaluates access rules.
type Policy struct {
	members member.Directory
}

// NewPolicy creates a Policy.
func NewPolicy(members member.Directory) *Policy {
	return &Policy{members: members}
}

// CanSubmit allows services and admins to submit for anyone, and students for themselves.
func (p *Policy) CanSubmit(pr Principal, userID shared.UserID) error {
	if pr.IsPrivileged() || pr.Subject == string(userID) {
		return nil
	}
	return shared.NewDomainError("access", "Submit", shared.ErrForbidden, "cannot submit events for another user")
}

// CanViewUser checks read access to a user's progress.
func (p *Policy) CanViewUser(ctx context.Context, pr Principal, target shared.UserID) error {
	if pr.IsPrivileged() || pr.Subject == string(target) {
		return nil
	}

	switch pr.Role {
	case shared.RoleParent:
		for _, w := range pr.Wards {
			if w == target {
				return nil
			}
		}
	case shared.RoleTeacher:
		scopes, err := p.scopesOf(ctx, pr)
		if err != nil {
			return err
		}
		m, err := p.members.Get(ctx, target)
		if err != nil {
			if shared.IsNotFound(err) {
				break
			}
			return err
		}
		for _, s := range scopes {
			if s != shared.ScopeAll && m.InScope(s) {
				return nil
			}
		}
	}
	return shared.NewScopeError("access", "ViewUser", string(target))
}

// CanViewScope checks read access to a scope-wide view (leaderboard).
func (p *Policy) CanViewScope(ctx context.Context, pr Principal, scope shared.ScopeID) error {
	if pr.IsPrivileged() || scope == shared.ScopeAll {
		return nil
	}
	scopes, err := p.scopesOf(ctx, pr)
	if err != nil {
		return err
	}
	for _, s := range scopes {
		if s == scope {
			return nil
		}
	}
	if pr.Role == shared.RoleParent {
		for _, w := range pr.Wards {
			m, err := p.members.Get(ctx, w)
			if err == nil && m.InScope(scope) {
				return nil
			}
		}
	}
	return shared.NewScopeError("access", "ViewScope", string(scope))
}

// CanManageChallenge allows admins anywhere and teachers inside their own scopes.
func (p *Policy) CanManageChallenge(ctx context.Context, pr Principal, d challenge.Definition) error {
	if pr.IsPrivileged() {
		return nil
	}
	if pr.Role != shared.RoleTeacher {
		return shared.NewDomainError("access", "ManageChallenge", shared.ErrForbidden, "only teachers and admins create challenges")
	}
	scopes, err := p.scopesOf(ctx, pr)
	if err != nil {
		return err
	}
	own := make(map[shared.ScopeID]struct{}, len(scopes))
	for _, s := range scopes {
		own[s] = struct{}{}
	}
	for _, s := range d.Scope.ScopeIDs {
		if _, ok := own[s]; !ok {
			return shared.NewScopeError("access", "ManageChallenge", string(s))
		}
	}
	for _, u := range d.Scope.UserIDs {
		if err := p.CanViewUser(ctx, pr, u); err != nil {
			return err
		}
	}
	return nil
}

// RequireRole fails unless the caller has one of roles.
func RequireRole(pr Principal, roles ...shared.Role) error {
	for _, r := range roles {
		if pr.Role == r {
			return nil
		}
	}
	return shared.NewDomainError("access", "RequireRole", shared.ErrForbidden, "role "+string(pr.Role)+" is not allowed")
}

func (p *Policy) scopesOf(ctx context.Context, pr Principal) ([]shared.ScopeID, error) {
	if len(pr.Scopes) > 0 {
		return pr.Scopes, nil
	}
	m, err := p.members.Get(ctx, shared.UserID(pr.Subject))
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return m.Scopes, nil
}
