// Package service implements the MFA subsystem: TOTP secret lifecycle,
// recovery codes, and the login-challenge state machine.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/mfa"
	"commonground/backend/internal/security"

	authservice "commonground/backend/internal/auth/service"
	mfadomain "commonground/backend/internal/mfa/domain"
	userdomain "commonground/backend/internal/user/domain"
)

// Sentinel errors for the MFA service. ErrInvalidMFA deliberately covers a
// bad code, a spent recovery code, and a missing/expired/consumed challenge:
// the caller must not learn which part of the verification failed.
var (
	ErrInvalidMFA    = apperr.New(apperr.CodeInvalidMFA, "invalid or expired code")
	ErrMFANotSetUp   = apperr.New(apperr.CodeConflict, "multi-factor authentication is not set up")
	ErrSecretCorrupt = apperr.New(apperr.CodeCryptoFailure, "stored authenticator secret is unreadable")
)

// UserRepo is the minimal user repository needed by the MFA service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	UpdateTOTPSecret(ctx context.Context, userID string, secretEnc []byte, mfaEnabled bool) error
}

// MFARepo is the minimal challenge/recovery-code repository needed by the MFA service.
type MFARepo interface {
	GetChallenge(ctx context.Context, id string) (*mfadomain.Challenge, error)
	MarkChallengeVerified(ctx context.Context, id string) (bool, error)
	DeleteChallenge(ctx context.Context, id string) error
	CreateRecoveryCodes(ctx context.Context, codes []*mfadomain.RecoveryCode) error
	ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error)
	DeleteRecoveryCodesByUser(ctx context.Context, userID string) error
}

// SessionIssuer resumes a login once its pending challenge is verified.
type SessionIssuer interface {
	IssueSession(ctx context.Context, user *userdomain.User) (*authservice.AuthResult, error)
}

// Stores bundles the repositories whose writes must land atomically when MFA
// is confirmed or disabled.
type Stores struct {
	Users UserRepo
	MFA   MFARepo
}

// RunTx executes fn inside one atomic unit.
type RunTx func(ctx context.Context, fn func(ctx context.Context, s Stores) error) error

// TOTPSetup is the result of SetupTOTP, shown to the user exactly once.
type TOTPSetup struct {
	Secret          string
	ProvisioningURI string
}

// Service implements TOTP setup/confirm/disable and login-challenge verification.
type Service struct {
	users    UserRepo
	repo     MFARepo
	sessions SessionIssuer
	runTx    RunTx
	box      *security.SecretBox
	pepper   string
	issuer   string
}

// NewService returns an MFA service with the given dependencies. box must be
// constructed at startup from the server MFA encryption key; a missing key is
// a fatal configuration error, never a per-request one.
func NewService(users UserRepo, repo MFARepo, sessions SessionIssuer, runTx RunTx, box *security.SecretBox, pepper, issuer string) *Service {
	return &Service{
		users:    users,
		repo:     repo,
		sessions: sessions,
		runTx:    runTx,
		box:      box,
		pepper:   pepper,
		issuer:   issuer,
	}
}

// SetupTOTP generates a fresh secret, stores it encrypted with MFA still
// disabled (a half-finished setup never gates login), and returns the secret
// plus provisioning URI for the authenticator app.
func (s *Service) SetupTOTP(ctx context.Context, userID string) (*TOTPSetup, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.New(apperr.CodeNotFound, "user not found")
	}
	secret, uri, err := mfa.GenerateTOTPSecret(s.issuer, user.Email)
	if err != nil {
		return nil, err
	}
	sealed, err := s.box.Seal([]byte(secret))
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateTOTPSecret(ctx, userID, sealed, false); err != nil {
		return nil, err
	}
	return &TOTPSetup{Secret: secret, ProvisioningURI: uri}, nil
}

// ConfirmTOTP verifies the first code from the authenticator and enables MFA.
// All prior recovery codes are invalidated and a fresh batch is generated;
// the plaintext batch is returned once and only hashes are retained.
func (s *Service) ConfirmTOTP(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || len(user.TOTPSecretEnc) == 0 {
		return nil, ErrMFANotSetUp
	}
	secret, err := s.box.Open(user.TOTPSecretEnc)
	if err != nil {
		return nil, ErrSecretCorrupt
	}
	if !mfa.ValidateTOTP(code, string(secret), time.Now().UTC()) {
		return nil, ErrInvalidMFA
	}

	plaintext, err := mfa.GenerateRecoveryCodes()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rows := make([]*mfadomain.RecoveryCode, len(plaintext))
	for i, c := range plaintext {
		rows[i] = &mfadomain.RecoveryCode{
			ID:        uuid.New().String(),
			UserID:    userID,
			CodeHash:  mfa.HashRecoveryCode(s.pepper, c),
			CreatedAt: now,
		}
	}
	err = s.runTx(ctx, func(ctx context.Context, st Stores) error {
		if err := st.Users.UpdateTOTPSecret(ctx, userID, user.TOTPSecretEnc, true); err != nil {
			return err
		}
		if err := st.MFA.DeleteRecoveryCodesByUser(ctx, userID); err != nil {
			return err
		}
		return st.MFA.CreateRecoveryCodes(ctx, rows)
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// VerifyLogin consumes a pending login challenge with either a TOTP code or a
// recovery code and issues the session. The challenge is single-use:
// missing, expired, or already-verified challenges are rejected, and the
// verified flip is a compare-and-set so two concurrent verifications cannot
// both succeed.
func (s *Service) VerifyLogin(ctx context.Context, challengeID, code string) (*authservice.AuthResult, error) {
	challenge, err := s.repo.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil || challenge.Verified {
		return nil, ErrInvalidMFA
	}
	if challenge.Expired(time.Now().UTC()) {
		_ = s.repo.DeleteChallenge(ctx, challengeID)
		return nil, ErrInvalidMFA
	}
	user, err := s.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.MFAEnabled {
		return nil, ErrInvalidMFA
	}

	if mfa.LooksLikeRecoveryCode(code) {
		spent, err := s.repo.ConsumeRecoveryCode(ctx, user.ID, mfa.HashRecoveryCode(s.pepper, code))
		if err != nil {
			return nil, err
		}
		if !spent {
			return nil, ErrInvalidMFA
		}
	} else {
		secret, err := s.box.Open(user.TOTPSecretEnc)
		if err != nil {
			return nil, ErrSecretCorrupt
		}
		if !mfa.ValidateTOTP(code, string(secret), time.Now().UTC()) {
			return nil, ErrInvalidMFA
		}
	}

	flipped, err := s.repo.MarkChallengeVerified(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, ErrInvalidMFA
	}
	return s.sessions.IssueSession(ctx, user)
}

// Disable turns MFA off. A valid current TOTP code is required; the secret is
// cleared and every recovery code deleted in one atomic unit.
func (s *Service) Disable(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil || !user.MFAEnabled || len(user.TOTPSecretEnc) == 0 {
		return ErrMFANotSetUp
	}
	secret, err := s.box.Open(user.TOTPSecretEnc)
	if err != nil {
		return ErrSecretCorrupt
	}
	if !mfa.ValidateTOTP(code, string(secret), time.Now().UTC()) {
		return ErrInvalidMFA
	}
	return s.runTx(ctx, func(ctx context.Context, st Stores) error {
		if err := st.Users.UpdateTOTPSecret(ctx, userID, nil, false); err != nil {
			return err
		}
		return st.MFA.DeleteRecoveryCodesByUser(ctx, userID)
	})
}
