package repository

import (
	"context"
	"database/sql"
	"errors"

	"commonground/backend/internal/db"
	"commonground/backend/internal/membership/domain"
)

// PostgresRepository implements Repository over db.DBTX.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a membership repository bound to the given DBTX.
func NewPostgresRepository(db db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PostgresRepository) WithTx(tx db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: tx}
}

// GetMembershipByUserAndOrg returns the membership for the given user and org, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	var m domain.Membership
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, org_id, role, created_at FROM memberships WHERE user_id = $1 AND org_id = $2`,
		userID, orgID,
	).Scan(&m.ID, &m.UserID, &m.OrgID, &m.Role, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ListMembershipsByOrg returns all memberships for the given org. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, org_id, role, created_at FROM memberships WHERE org_id = $1 ORDER BY created_at`,
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrgID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CreateMembership persists the membership. The membership must have ID set.
func (r *PostgresRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memberships (id, user_id, org_id, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.UserID, m.OrgID, m.Role, m.CreatedAt,
	)
	return err
}

// DeleteByUserAndOrg removes the membership for the given user and org.
func (r *PostgresRepository) DeleteByUserAndOrg(ctx context.Context, userID, orgID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE user_id = $1 AND org_id = $2`,
		userID, orgID,
	)
	return err
}

// UpdateRole sets the membership role for the given user and org.
func (r *PostgresRepository) UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE memberships SET role = $3 WHERE user_id = $1 AND org_id = $2`,
		userID, orgID, role,
	)
	return err
}

// CountOwnersByOrg returns the number of owner memberships in the org.
// Callers enforcing the last-owner invariant must run this inside the same
// transaction as the mutation.
func (r *PostgresRepository) CountOwnersByOrg(ctx context.Context, orgID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE org_id = $1 AND role = 'owner'`,
		orgID,
	).Scan(&n)
	return n, err
}
