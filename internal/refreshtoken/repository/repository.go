package repository

import (
	"context"

	"commonground/backend/internal/refreshtoken/domain"
)

// Repository defines persistence for refresh tokens.
//
// ConsumeByHash is the rotation primitive: it deletes the row for the hash
// and reports whether this caller removed it. Two concurrent refreshes of the
// same token race on the delete; exactly one observes consumed=true.
type Repository interface {
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	Create(ctx context.Context, t *domain.RefreshToken) error
	ConsumeByHash(ctx context.Context, tokenHash string) (consumed bool, err error)
	DeleteByHash(ctx context.Context, tokenHash string) error
	DeleteAllByUser(ctx context.Context, userID string) error
}
