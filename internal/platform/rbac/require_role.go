// Package rbac enforces the ranked-role policy used as a guard at the start
// of any org-scoped handler.
package rbac

import (
	"context"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/membership/domain"
)

// OrgMembershipGetter returns a user's membership in an org. Used by RequireRole to resolve caller role.
type OrgMembershipGetter interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
}

// RequireRole ensures userID holds at least minRole in orgID.
// Returns the caller's membership on success; apperr NOT_A_MEMBER when no
// membership exists, INSUFFICIENT_ROLE when the resolved role ranks below
// minRole, INTERNAL on store failure.
func RequireRole(ctx context.Context, getter OrgMembershipGetter, orgID, userID string, minRole domain.Role) (*domain.Membership, error) {
	if orgID == "" || userID == "" {
		return nil, apperr.New(apperr.CodeUnauthenticated, "org and user context required")
	}
	m, err := getter.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to resolve membership", err)
	}
	if m == nil {
		return nil, apperr.New(apperr.CodeNotAMember, "not a member of this organization")
	}
	if !m.Role.AtLeast(minRole) {
		return nil, apperr.New(apperr.CodeInsufficientRole, "insufficient role in this organization")
	}
	return m, nil
}
