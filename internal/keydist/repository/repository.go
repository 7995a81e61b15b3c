package repository

import (
	"context"

	"commonground/backend/internal/keydist/domain"
)

// Repository defines persistence for wrapped org keys and the per-org key
// version counter.
//
// AdvanceVersionTo and IncrementVersion are the only version mutations; both
// are monotonic (a lower or equal target is ignored, never a regression).
type Repository interface {
	GetWrap(ctx context.Context, orgID, userID string) (*domain.WrappedOrgKey, error)
	UpsertWrap(ctx context.Context, w *domain.WrappedOrgKey) error
	GetVersion(ctx context.Context, orgID string) (int64, error)
	AdvanceVersionTo(ctx context.Context, orgID string, version int64) error
	IncrementVersion(ctx context.Context, orgID string) (int64, error)
}
