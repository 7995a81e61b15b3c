package repository

import (
	"context"
	"database/sql"
	"errors"

	"commonground/backend/internal/db"
	"commonground/backend/internal/mfa/domain"
)

// PostgresRepository implements Repository over db.DBTX.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an MFA repository bound to the given DBTX.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

// GetChallenge returns the challenge for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetChallenge(ctx context.Context, id string) (*domain.Challenge, error) {
	var c domain.Challenge
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, verified, expires_at, created_at FROM mfa_challenges WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.Verified, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// CreateChallenge persists the challenge. The challenge must have ID set.
func (r *PostgresRepository) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mfa_challenges (id, user_id, verified, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.UserID, c.Verified, c.ExpiresAt, c.CreatedAt,
	)
	return err
}

// MarkChallengeVerified flips the verified flag and reports whether this call
// did the flip. A false result means the challenge was missing or already
// verified by a concurrent request.
func (r *PostgresRepository) MarkChallengeVerified(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mfa_challenges SET verified = TRUE WHERE id = $1 AND verified = FALSE`, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteChallenge removes the challenge row. Idempotent.
func (r *PostgresRepository) DeleteChallenge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_challenges WHERE id = $1`, id)
	return err
}

// CreateRecoveryCodes persists a batch of recovery codes.
func (r *PostgresRepository) CreateRecoveryCodes(ctx context.Context, codes []*domain.RecoveryCode) error {
	for _, c := range codes {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO recovery_codes (id, user_id, code_hash, used, created_at) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.UserID, c.CodeHash, c.Used, c.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ConsumeRecoveryCode marks the matching unused code as used and reports
// whether this call spent it. The test-for-unused and the flag update are one
// UPDATE, so the same code cannot be spent twice even concurrently.
func (r *PostgresRepository) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_codes SET used = TRUE WHERE user_id = $1 AND code_hash = $2 AND used = FALSE`,
		userID, codeHash,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n >= 1, nil
}

// DeleteRecoveryCodesByUser removes every recovery code for the user.
func (r *PostgresRepository) DeleteRecoveryCodesByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID)
	return err
}
