package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"commonground/backend/internal/db"
	"commonground/backend/internal/user/domain"
)

// PostgresRepository implements Repository over db.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a user repository bound to the given DBTX.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

const userColumns = `id, email, name, password_hash, public_key, totp_secret_enc, mfa_enabled, created_at, updated_at`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user for email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, public_key, totp_secret_enc, mfa_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.PublicKey, u.TOTPSecretEnc, u.MFAEnabled, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

// UpdatePublicKey sets the user's registered device public key.
func (r *PostgresRepository) UpdatePublicKey(ctx context.Context, userID, publicKey string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET public_key = $2, updated_at = $3 WHERE id = $1`,
		userID, publicKey, time.Now().UTC(),
	)
	return err
}

// UpdateTOTPSecret sets the user's encrypted TOTP secret and MFA flag in one
// write. Pass a nil secret to clear it (MFA disable).
func (r *PostgresRepository) UpdateTOTPSecret(ctx context.Context, userID string, secretEnc []byte, mfaEnabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET totp_secret_enc = $2, mfa_enabled = $3, updated_at = $4 WHERE id = $1`,
		userID, secretEnc, mfaEnabled, time.Now().UTC(),
	)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.PublicKey, &u.TOTPSecretEnc, &u.MFAEnabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
