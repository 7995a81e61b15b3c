package repository

import (
	"context"

	"commonground/backend/internal/mfa/domain"
)

// Repository defines persistence for MFA challenges and recovery codes.
//
// MarkChallengeVerified and ConsumeRecoveryCode are compare-and-set writes:
// they report false when another request already flipped the flag, which is
// what makes challenge consumption and code spending single-use under
// concurrency.
type Repository interface {
	GetChallenge(ctx context.Context, id string) (*domain.Challenge, error)
	CreateChallenge(ctx context.Context, c *domain.Challenge) error
	MarkChallengeVerified(ctx context.Context, id string) (bool, error)
	DeleteChallenge(ctx context.Context, id string) error

	CreateRecoveryCodes(ctx context.Context, codes []*domain.RecoveryCode) error
	ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error)
	DeleteRecoveryCodesByUser(ctx context.Context, userID string) error
}
