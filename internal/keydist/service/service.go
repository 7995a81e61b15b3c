// Package service brokers the zero-knowledge org-key distribution: device
// public key registration, per-member wrap publication, wrap fetch, and key
// version rotation. The server stores only opaque ciphertext wraps and can
// never compute the underlying org key.
package service

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/keydist/wrap"
	"commonground/backend/internal/platform/rbac"

	keydomain "commonground/backend/internal/keydist/domain"
	membershipdomain "commonground/backend/internal/membership/domain"
)

// KeyRepo is the minimal key distribution repository needed by the service.
type KeyRepo interface {
	GetWrap(ctx context.Context, orgID, userID string) (*keydomain.WrappedOrgKey, error)
	UpsertWrap(ctx context.Context, w *keydomain.WrappedOrgKey) error
	GetVersion(ctx context.Context, orgID string) (int64, error)
	AdvanceVersionTo(ctx context.Context, orgID string, version int64) error
	IncrementVersion(ctx context.Context, orgID string) (int64, error)
}

// UserKeyRepo is the minimal user repository needed by the service.
type UserKeyRepo interface {
	UpdatePublicKey(ctx context.Context, userID, publicKey string) error
}

// WrapInput is one member's wrap as produced by the publishing client.
type WrapInput struct {
	UserID     string
	Ciphertext []byte
	KeyVersion int64
}

// FetchResult is a member's current wrap plus the org's key version. Wrap is
// nil when the org has not published a key for this member yet ("no key
// yet"), which is a graceful state rather than an error.
type FetchResult struct {
	Wrap           *keydomain.WrappedOrgKey
	CurrentVersion int64
}

// Service implements the key distribution operations.
type Service struct {
	keys        KeyRepo
	users       UserKeyRepo
	memberships rbac.OrgMembershipGetter
}

// NewService returns a key distribution service with the given dependencies.
func NewService(keys KeyRepo, users UserKeyRepo, memberships rbac.OrgMembershipGetter) *Service {
	return &Service{keys: keys, users: users, memberships: memberships}
}

// RegisterDevicePublicKey stores the caller's X25519 device public key
// (base64, 32 bytes). Only the public half ever reaches the server.
func (s *Service) RegisterDevicePublicKey(ctx context.Context, userID, publicKeyB64 string) error {
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return apperr.New(apperr.CodeValidation, "public key must be base64")
	}
	if err := wrap.ValidatePublicKey(raw); err != nil {
		return apperr.New(apperr.CodeValidation, "public key must be a 32-byte X25519 point")
	}
	return s.users.UpdatePublicKey(ctx, userID, publicKeyB64)
}

// PublishWrappedKeys stores one opaque wrap per member, produced entirely by
// the publishing client. Requires admin or owner role. The org's version
// counter is advanced to at least the highest supplied version; a lower or
// equal value never regresses it.
func (s *Service) PublishWrappedKeys(ctx context.Context, orgID, actorID string, wraps []WrapInput) error {
	if _, err := rbac.RequireRole(ctx, s.memberships, orgID, actorID, membershipdomain.RoleAdmin); err != nil {
		return err
	}
	if len(wraps) == 0 {
		return apperr.New(apperr.CodeValidation, "at least one wrap is required")
	}
	var maxVersion int64
	now := time.Now().UTC()
	for _, in := range wraps {
		if in.UserID == "" || len(in.Ciphertext) == 0 {
			return apperr.New(apperr.CodeValidation, "each wrap needs a user id and ciphertext")
		}
		target, err := s.memberships.GetMembershipByUserAndOrg(ctx, in.UserID, orgID)
		if err != nil {
			return err
		}
		if target == nil {
			return apperr.New(apperr.CodeNotAMember, "wrap target is not a member of this organization")
		}
		if err := s.keys.UpsertWrap(ctx, &keydomain.WrappedOrgKey{
			OrgID:      orgID,
			UserID:     in.UserID,
			KeyID:      uuid.New().String(),
			KeyVersion: in.KeyVersion,
			Ciphertext: in.Ciphertext,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
		if in.KeyVersion > maxVersion {
			maxVersion = in.KeyVersion
		}
	}
	if maxVersion > 0 {
		return s.keys.AdvanceVersionTo(ctx, orgID, maxVersion)
	}
	return nil
}

// FetchWrappedKey returns the caller's own wrap for the org. Any member may
// fetch only their own wrap; an org without published keys yields a nil wrap.
func (s *Service) FetchWrappedKey(ctx context.Context, orgID, userID string) (*FetchResult, error) {
	if _, err := rbac.RequireRole(ctx, s.memberships, orgID, userID, membershipdomain.RoleViewer); err != nil {
		return nil, err
	}
	w, err := s.keys.GetWrap(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	version, err := s.keys.GetVersion(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Wrap: w, CurrentVersion: version}, nil
}

// RotateKeyVersion atomically increments the org's key version and returns
// the new value. Existing wraps are deliberately left in place: a stale wrap
// still decrypts old data, so rotation can never brick access mid-way.
// Callers are expected to re-publish wraps for all members under the new
// version immediately.
func (s *Service) RotateKeyVersion(ctx context.Context, orgID, actorID string) (int64, error) {
	if _, err := rbac.RequireRole(ctx, s.memberships, orgID, actorID, membershipdomain.RoleAdmin); err != nil {
		return 0, err
	}
	return s.keys.IncrementVersion(ctx, orgID)
}
