// Package service implements org membership management: listing, role
// changes, and removal, with the last-owner invariant enforced on every
// mutation.
package service

import (
	"context"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/membership/domain"
	"commonground/backend/internal/platform/rbac"
)

// ErrLastOwner is returned when a role change or removal would leave the
// organization without any owner.
var ErrLastOwner = apperr.New(apperr.CodeConflict, "organization must retain at least one owner")

// Repo is the membership repository needed by the service.
type Repo interface {
	rbac.OrgMembershipGetter
	ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error)
	DeleteByUserAndOrg(ctx context.Context, userID, orgID string) error
	UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) error
	CountOwnersByOrg(ctx context.Context, orgID string) (int64, error)
}

// Stores is the transactional view of the membership repository.
type Stores struct {
	Memberships Repo
}

// RunTx executes fn inside one atomic unit so the owner count check and the
// mutation cannot interleave with a concurrent demotion.
type RunTx func(ctx context.Context, fn func(ctx context.Context, s Stores) error) error

// Service implements membership management.
type Service struct {
	repo  Repo
	runTx RunTx
}

// NewService returns a membership service with the given dependencies.
func NewService(repo Repo, runTx RunTx) *Service {
	return &Service{repo: repo, runTx: runTx}
}

// List returns the org's memberships. Any member may list.
func (s *Service) List(ctx context.Context, orgID, actorID string) ([]*domain.Membership, error) {
	if _, err := rbac.RequireRole(ctx, s.repo, orgID, actorID, domain.RoleViewer); err != nil {
		return nil, err
	}
	return s.repo.ListMembershipsByOrg(ctx, orgID)
}

// ChangeRole sets the target member's role. The actor needs admin or better;
// granting or revoking owner requires an owner actor; demoting the sole
// remaining owner is rejected.
func (s *Service) ChangeRole(ctx context.Context, orgID, actorID, targetID string, newRole domain.Role) error {
	if !newRole.Valid() {
		return apperr.New(apperr.CodeValidation, "unknown role")
	}
	actor, err := rbac.RequireRole(ctx, s.repo, orgID, actorID, domain.RoleAdmin)
	if err != nil {
		return err
	}
	return s.runTx(ctx, func(ctx context.Context, st Stores) error {
		target, err := st.Memberships.GetMembershipByUserAndOrg(ctx, targetID, orgID)
		if err != nil {
			return err
		}
		if target == nil {
			return apperr.New(apperr.CodeNotAMember, "target is not a member of this organization")
		}
		if (target.Role == domain.RoleOwner || newRole == domain.RoleOwner) && actor.Role != domain.RoleOwner {
			return apperr.New(apperr.CodeInsufficientRole, "only an owner may grant or revoke the owner role")
		}
		if target.Role == domain.RoleOwner && newRole != domain.RoleOwner {
			owners, err := st.Memberships.CountOwnersByOrg(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return ErrLastOwner
			}
		}
		return st.Memberships.UpdateRole(ctx, targetID, orgID, newRole)
	})
}

// Remove deletes the target's membership. The actor needs admin or better
// (members may remove themselves); removing an owner requires an owner actor;
// removing the sole remaining owner is rejected.
func (s *Service) Remove(ctx context.Context, orgID, actorID, targetID string) error {
	minRole := domain.RoleAdmin
	if actorID == targetID {
		minRole = domain.RoleViewer
	}
	actor, err := rbac.RequireRole(ctx, s.repo, orgID, actorID, minRole)
	if err != nil {
		return err
	}
	return s.runTx(ctx, func(ctx context.Context, st Stores) error {
		target, err := st.Memberships.GetMembershipByUserAndOrg(ctx, targetID, orgID)
		if err != nil {
			return err
		}
		if target == nil {
			return apperr.New(apperr.CodeNotAMember, "target is not a member of this organization")
		}
		if target.Role == domain.RoleOwner {
			if actor.Role != domain.RoleOwner {
				return apperr.New(apperr.CodeInsufficientRole, "only an owner may remove an owner")
			}
			owners, err := st.Memberships.CountOwnersByOrg(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return ErrLastOwner
			}
		}
		return st.Memberships.DeleteByUserAndOrg(ctx, targetID, orgID)
	})
}
