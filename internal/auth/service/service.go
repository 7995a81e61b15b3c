// Package service implements the password and session manager: registration,
// login, refresh-token rotation, and logout.
package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/security"

	membershipdomain "commonground/backend/internal/membership/domain"
	mfadomain "commonground/backend/internal/mfa/domain"
	orgdomain "commonground/backend/internal/organization/domain"
	tokendomain "commonground/backend/internal/refreshtoken/domain"
	userdomain "commonground/backend/internal/user/domain"
)

// Sentinel errors for the auth service; each carries its stable boundary code.
var (
	ErrEmailAlreadyRegistered = apperr.New(apperr.CodeConflict, "email already registered")
	ErrInvalidLogin           = apperr.New(apperr.CodeInvalidLogin, "invalid email or password")
	ErrInvalidRefresh         = apperr.New(apperr.CodeInvalidRefresh, "invalid refresh token")
	ErrExpiredRefresh         = apperr.New(apperr.CodeExpiredRefresh, "expired refresh token")
)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// OrgRepo is the minimal organization repository needed by the auth service.
type OrgRepo interface {
	Create(ctx context.Context, o *orgdomain.Org) error
}

// MembershipRepo is the minimal membership repository needed by the auth service.
type MembershipRepo interface {
	CreateMembership(ctx context.Context, m *membershipdomain.Membership) error
}

// TokenRepo is the minimal refresh token repository needed by the auth service.
type TokenRepo interface {
	GetByHash(ctx context.Context, tokenHash string) (*tokendomain.RefreshToken, error)
	Create(ctx context.Context, t *tokendomain.RefreshToken) error
	ConsumeByHash(ctx context.Context, tokenHash string) (bool, error)
	DeleteByHash(ctx context.Context, tokenHash string) error
	DeleteAllByUser(ctx context.Context, userID string) error
}

// ChallengeRepo is the minimal MFA challenge repository needed by the auth service.
type ChallengeRepo interface {
	CreateChallenge(ctx context.Context, c *mfadomain.Challenge) error
}

// Stores bundles the repositories whose writes must land atomically.
type Stores struct {
	Users       UserRepo
	Orgs        OrgRepo
	Memberships MembershipRepo
}

// RunTx executes fn inside one atomic unit: either every write in fn is
// observable afterwards, or none is. Production wiring binds the stores to a
// database transaction; in-memory test wiring runs fn directly.
type RunTx func(ctx context.Context, fn func(ctx context.Context, s Stores) error) error

// AuthResult holds issued tokens and the subject's identity.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
	Email        string
	Name         string
}

// LoginResult is either an issued session or a pending MFA challenge.
type LoginResult struct {
	MFARequired bool
	ChallengeID string
	Auth        *AuthResult
}

// AuthService implements register, login, refresh, and logout.
type AuthService struct {
	users        UserRepo
	tokens       TokenRepo
	challenges   ChallengeRepo
	runTx        RunTx
	hasher       *security.Hasher
	provider     *security.TokenProvider
	refreshTTL   time.Duration
	challengeTTL time.Duration
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	users UserRepo,
	tokens TokenRepo,
	challenges ChallengeRepo,
	runTx RunTx,
	hasher *security.Hasher,
	provider *security.TokenProvider,
	refreshTTL, challengeTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:        users,
		tokens:       tokens,
		challenges:   challenges,
		runTx:        runTx,
		hasher:       hasher,
		provider:     provider,
		refreshTTL:   refreshTTL,
		challengeTTL: challengeTTL,
	}
}

// Register creates a user, their organization, and an owner membership as a
// single atomic unit, then issues an access token. A duplicate email fails
// with CONFLICT before any write.
func (s *AuthService) Register(ctx context.Context, email, password, name, orgName string) (*AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if strings.TrimSpace(orgName) == "" {
		return nil, apperr.New(apperr.CodeValidation, "organization name is required")
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}

	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, apperr.New(apperr.CodeValidation, err.Error())
	}
	org := &orgdomain.Org{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(orgName),
		CreatedAt: now,
	}
	membership := &membershipdomain.Membership{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		OrgID:     org.ID,
		Role:      membershipdomain.RoleOwner,
		CreatedAt: now,
	}

	// All-or-nothing: a partially created account must never be observable.
	err = s.runTx(ctx, func(ctx context.Context, st Stores) error {
		if err := st.Users.Create(ctx, user); err != nil {
			return err
		}
		if err := st.Orgs.Create(ctx, org); err != nil {
			return err
		}
		return st.Memberships.CreateMembership(ctx, membership)
	})
	if err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.provider.IssueAccess(security.Identity{UserID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		UserID:      user.ID,
		Email:       user.Email,
		Name:        user.Name,
	}, nil
}

// Login authenticates with email/password. An unknown email and a wrong
// password fail identically, and a dummy hash verification runs for unknown
// emails so timing does not enumerate users. When the user has MFA enabled a
// pending challenge id is returned instead of tokens.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidLogin
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.hasher.DummyCompare([]byte(password))
		return nil, ErrInvalidLogin
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidLogin
	}

	if user.MFAEnabled {
		challenge := &mfadomain.Challenge{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			ExpiresAt: time.Now().UTC().Add(s.challengeTTL),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.challenges.CreateChallenge(ctx, challenge); err != nil {
			return nil, err
		}
		return &LoginResult{MFARequired: true, ChallengeID: challenge.ID}, nil
	}

	auth, err := s.IssueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Auth: auth}, nil
}

// IssueSession creates a refresh token row and issues an access token for the
// user. Also used by the MFA service to resume a login once the pending
// challenge is verified.
func (s *AuthService) IssueSession(ctx context.Context, user *userdomain.User) (*AuthResult, error) {
	refreshToken, err := security.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	row := &tokendomain.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: security.HashRefreshToken(refreshToken),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return nil, err
	}
	accessToken, expiresAt, err := s.provider.IssueAccess(security.Identity{UserID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
	}, nil
}

// Refresh rotates the refresh token: the presented token's row is consumed
// and a brand-new access/refresh pair is issued. Tokens are single-use; of
// two concurrent calls with the same token exactly one succeeds and the other
// observes the row already gone.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefresh
	}
	hash := security.HashRefreshToken(refreshToken)
	row, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrInvalidRefresh
	}
	if row.Expired(time.Now().UTC()) {
		_ = s.tokens.DeleteByHash(ctx, hash)
		return nil, ErrExpiredRefresh
	}
	consumed, err := s.tokens.ConsumeByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// A concurrent refresh won the race; this token no longer exists.
		return nil, ErrInvalidRefresh
	}
	user, err := s.users.GetByID(ctx, row.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidRefresh
	}
	return s.IssueSession(ctx, user)
}

// Logout deletes the session identified by the refresh token. Idempotent when
// the token is already absent.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokens.DeleteByHash(ctx, security.HashRefreshToken(refreshToken))
}

// LogoutAll deletes every refresh token for the user, invalidating all sessions.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	return s.tokens.DeleteAllByUser(ctx, userID)
}

func validateEmail(email string) error {
	if email == "" {
		return apperr.New(apperr.CodeValidation, "email is required")
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return apperr.New(apperr.CodeValidation, "invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return apperr.New(apperr.CodeValidation, "password must be at least 8 characters")
	}
	return nil
}
