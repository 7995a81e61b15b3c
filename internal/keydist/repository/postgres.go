package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"commonground/backend/internal/db"
	"commonground/backend/internal/keydist/domain"
)

// PostgresRepository implements Repository over db.DBTX.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a key distribution repository bound to the given DBTX.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

// GetWrap returns the member's wrap for the org, or nil if none was published.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetWrap(ctx context.Context, orgID, userID string) (*domain.WrappedOrgKey, error) {
	var w domain.WrappedOrgKey
	err := r.db.QueryRowContext(ctx,
		`SELECT org_id, user_id, key_id, key_version, ciphertext, updated_at
		 FROM wrapped_org_keys WHERE org_id = $1 AND user_id = $2`,
		orgID, userID,
	).Scan(&w.OrgID, &w.UserID, &w.KeyID, &w.KeyVersion, &w.Ciphertext, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// UpsertWrap inserts or replaces the member's wrap for the org.
func (r *PostgresRepository) UpsertWrap(ctx context.Context, w *domain.WrappedOrgKey) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wrapped_org_keys (org_id, user_id, key_id, key_version, ciphertext, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (org_id, user_id) DO UPDATE
		 SET key_id = EXCLUDED.key_id, key_version = EXCLUDED.key_version,
		     ciphertext = EXCLUDED.ciphertext, updated_at = EXCLUDED.updated_at`,
		w.OrgID, w.UserID, w.KeyID, w.KeyVersion, w.Ciphertext, w.UpdatedAt,
	)
	return err
}

// GetVersion returns the org's current key version (0 when no row exists yet).
func (r *PostgresRepository) GetVersion(ctx context.Context, orgID string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`SELECT version FROM org_key_versions WHERE org_id = $1`, orgID,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

// AdvanceVersionTo raises the org's version to at least version. GREATEST
// keeps the write monotonic under concurrent publishes with stale versions.
func (r *PostgresRepository) AdvanceVersionTo(ctx context.Context, orgID string, version int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO org_key_versions (org_id, version, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (org_id) DO UPDATE
		 SET version = GREATEST(org_key_versions.version, EXCLUDED.version), updated_at = EXCLUDED.updated_at`,
		orgID, version, time.Now().UTC(),
	)
	return err
}

// IncrementVersion atomically bumps the org's version by one and returns the
// new value. The increment is a true read-modify-write inside the statement,
// never an overwrite with a stale value.
func (r *PostgresRepository) IncrementVersion(ctx context.Context, orgID string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO org_key_versions (org_id, version, updated_at) VALUES ($1, 1, $2)
		 ON CONFLICT (org_id) DO UPDATE
		 SET version = org_key_versions.version + 1, updated_at = EXCLUDED.updated_at
		 RETURNING version`,
		orgID, time.Now().UTC(),
	).Scan(&v)
	return v, err
}
