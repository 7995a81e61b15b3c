package repository

import (
	"context"

	"commonground/backend/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePublicKey(ctx context.Context, userID, publicKey string) error
	UpdateTOTPSecret(ctx context.Context, userID string, secretEnc []byte, mfaEnabled bool) error
}
