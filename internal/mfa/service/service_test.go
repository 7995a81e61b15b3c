package service

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"commonground/backend/internal/mfa"
	"commonground/backend/internal/security"

	authservice "commonground/backend/internal/auth/service"
	mfadomain "commonground/backend/internal/mfa/domain"
	userdomain "commonground/backend/internal/user/domain"
)

const testPepper = "test-pepper"

type memUsers struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
}

func newMemUsers() *memUsers { return &memUsers{users: make(map[string]*userdomain.User)} }

func (m *memUsers) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUsers) UpdateTOTPSecret(ctx context.Context, userID string, secretEnc []byte, mfaEnabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.TOTPSecretEnc = secretEnc
	u.MFAEnabled = mfaEnabled
	return nil
}

type memMFA struct {
	mu         sync.Mutex
	challenges map[string]*mfadomain.Challenge
	codes      map[string]*mfadomain.RecoveryCode // by hash per user: key userID+"|"+hash
}

func newMemMFA() *memMFA {
	return &memMFA{
		challenges: make(map[string]*mfadomain.Challenge),
		codes:      make(map[string]*mfadomain.RecoveryCode),
	}
}

func (m *memMFA) GetChallenge(ctx context.Context, id string) (*mfadomain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.challenges[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memMFA) MarkChallengeVerified(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok || c.Verified {
		return false, nil
	}
	c.Verified = true
	return true, nil
}

func (m *memMFA) DeleteChallenge(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.challenges, id)
	return nil
}

func (m *memMFA) CreateRecoveryCodes(ctx context.Context, codes []*mfadomain.RecoveryCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range codes {
		cp := *c
		m.codes[c.UserID+"|"+c.CodeHash] = &cp
	}
	return nil
}

func (m *memMFA) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[userID+"|"+codeHash]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	return true, nil
}

func (m *memMFA) DeleteRecoveryCodesByUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.codes {
		if c.UserID == userID {
			delete(m.codes, k)
		}
	}
	return nil
}

func (m *memMFA) addChallenge(c *mfadomain.Challenge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.challenges[c.ID] = &cp
}

func (m *memMFA) liveCodeCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.codes {
		if c.UserID == userID && !c.Used {
			n++
		}
	}
	return n
}

type stubIssuer struct {
	mu     sync.Mutex
	issued int
}

func (s *stubIssuer) IssueSession(ctx context.Context, user *userdomain.User) (*authservice.AuthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return &authservice.AuthResult{
		AccessToken:  "access",
		RefreshToken: "refresh",
		UserID:       user.ID,
		Email:        user.Email,
	}, nil
}

type fixture struct {
	svc    *Service
	users  *memUsers
	repo   *memMFA
	issuer *stubIssuer
	userID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	box, err := security.NewSecretBox(key)
	if err != nil {
		t.Fatal(err)
	}

	users := newMemUsers()
	repo := newMemMFA()
	issuer := &stubIssuer{}
	runTx := func(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
		return fn(ctx, Stores{Users: users, MFA: repo})
	}
	svc := NewService(users, repo, issuer, runTx, box, testPepper, "commonground-auth")

	userID := uuid.New().String()
	users.users[userID] = &userdomain.User{
		ID:           userID,
		Email:        "a@example.com",
		PasswordHash: "irrelevant",
	}
	return &fixture{svc: svc, users: users, repo: repo, issuer: issuer, userID: userID}
}

// enableMFA walks the real setup/confirm flow and returns the plaintext
// secret and recovery codes.
func enableMFA(t *testing.T, f *fixture) (secret string, recoveryCodes []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := f.svc.SetupTOTP(ctx, f.userID)
	if err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}
	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	codes, err := f.svc.ConfirmTOTP(ctx, f.userID, code)
	if err != nil {
		t.Fatalf("ConfirmTOTP: %v", err)
	}
	return setup.Secret, codes
}

func (f *fixture) newChallenge(ttl time.Duration) string {
	id := uuid.New().String()
	now := time.Now().UTC()
	f.repo.addChallenge(&mfadomain.Challenge{
		ID:        id,
		UserID:    f.userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	return id
}

func TestSetupTOTPStoresSealedSecretWithoutEnabling(t *testing.T) {
	f := newFixture(t)
	setup, err := f.svc.SetupTOTP(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}
	if setup.Secret == "" || setup.ProvisioningURI == "" {
		t.Fatal("incomplete setup result")
	}

	user, _ := f.users.GetByID(context.Background(), f.userID)
	if user.MFAEnabled {
		t.Fatal("MFA enabled before confirmation")
	}
	if len(user.TOTPSecretEnc) == 0 {
		t.Fatal("secret not stored")
	}
	if string(user.TOTPSecretEnc) == setup.Secret {
		t.Fatal("secret stored in plaintext")
	}
}

func TestConfirmTOTPEnablesAndIssuesRecoveryCodes(t *testing.T) {
	f := newFixture(t)
	_, codes := enableMFA(t, f)

	user, _ := f.users.GetByID(context.Background(), f.userID)
	if !user.MFAEnabled {
		t.Fatal("MFA not enabled after confirm")
	}
	if len(codes) != mfa.RecoveryCodeCount {
		t.Fatalf("recovery codes = %d, want %d", len(codes), mfa.RecoveryCodeCount)
	}
	if f.repo.liveCodeCount(f.userID) != mfa.RecoveryCodeCount {
		t.Fatal("recovery code hashes not persisted")
	}
}

func TestConfirmTOTPRejectsWrongCode(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SetupTOTP(context.Background(), f.userID); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.ConfirmTOTP(context.Background(), f.userID, "000000")
	if !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("got %v, want ErrInvalidMFA", err)
	}
	user, _ := f.users.GetByID(context.Background(), f.userID)
	if user.MFAEnabled {
		t.Fatal("MFA enabled despite failed confirmation")
	}
}

func TestConfirmTOTPWithoutSetup(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmTOTP(context.Background(), f.userID, "123456")
	if !errors.Is(err, ErrMFANotSetUp) {
		t.Fatalf("got %v, want ErrMFANotSetUp", err)
	}
}

func TestReconfirmRotatesRecoveryCodes(t *testing.T) {
	f := newFixture(t)
	_, first := enableMFA(t, f)
	_, second := enableMFA(t, f)

	// The old batch is fully invalidated: total live codes stays at one batch.
	if f.repo.liveCodeCount(f.userID) != mfa.RecoveryCodeCount {
		t.Fatalf("live codes = %d, want %d", f.repo.liveCodeCount(f.userID), mfa.RecoveryCodeCount)
	}
	// And an old code no longer verifies.
	id := f.newChallenge(5 * time.Minute)
	if _, err := f.svc.VerifyLogin(context.Background(), id, first[0]); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("old recovery code accepted: %v", err)
	}
	_ = second
}

func TestVerifyLoginWithTOTP(t *testing.T) {
	f := newFixture(t)
	secret, _ := enableMFA(t, f)
	id := f.newChallenge(5 * time.Minute)

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	result, err := f.svc.VerifyLogin(context.Background(), id, code)
	if err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}
	if result.UserID != f.userID {
		t.Fatalf("session for wrong user: %s", result.UserID)
	}
	if f.issuer.issued != 1 {
		t.Fatalf("sessions issued = %d, want 1", f.issuer.issued)
	}
}

func TestVerifyLoginChallengeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	secret, _ := enableMFA(t, f)
	id := f.newChallenge(5 * time.Minute)

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.VerifyLogin(context.Background(), id, code); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.VerifyLogin(context.Background(), id, code); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("challenge replay accepted: %v", err)
	}
}

func TestVerifyLoginRejectsExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	secret, _ := enableMFA(t, f)
	id := f.newChallenge(-time.Minute)

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.VerifyLogin(context.Background(), id, code); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("expired challenge accepted: %v", err)
	}
}

func TestVerifyLoginRejectsUnknownChallenge(t *testing.T) {
	f := newFixture(t)
	enableMFA(t, f)
	if _, err := f.svc.VerifyLogin(context.Background(), uuid.New().String(), "123456"); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("unknown challenge accepted: %v", err)
	}
}

func TestVerifyLoginWithRecoveryCode(t *testing.T) {
	f := newFixture(t)
	_, codes := enableMFA(t, f)
	id := f.newChallenge(5 * time.Minute)

	result, err := f.svc.VerifyLogin(context.Background(), id, codes[0])
	if err != nil {
		t.Fatalf("VerifyLogin with recovery code: %v", err)
	}
	if result.UserID != f.userID {
		t.Fatal("wrong user")
	}

	// The code is spent: a second challenge with the same code must fail.
	id2 := f.newChallenge(5 * time.Minute)
	if _, err := f.svc.VerifyLogin(context.Background(), id2, codes[0]); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("spent recovery code accepted: %v", err)
	}
	// A different code from the batch still works.
	if _, err := f.svc.VerifyLogin(context.Background(), id2, codes[1]); err != nil {
		t.Fatalf("fresh recovery code rejected: %v", err)
	}
}

func TestConcurrentRecoveryCodeUseSingleWinner(t *testing.T) {
	f := newFixture(t)
	_, codes := enableMFA(t, f)

	const attempts = 8
	ids := make([]string, attempts)
	for i := range ids {
		ids[i] = f.newChallenge(5 * time.Minute)
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.VerifyLogin(context.Background(), ids[i], codes[0])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrInvalidMFA):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestDisableClearsSecretAndCodes(t *testing.T) {
	f := newFixture(t)
	secret, _ := enableMFA(t, f)

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Disable(context.Background(), f.userID, code); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	user, _ := f.users.GetByID(context.Background(), f.userID)
	if user.MFAEnabled || len(user.TOTPSecretEnc) != 0 {
		t.Fatal("MFA state not cleared")
	}
	if f.repo.liveCodeCount(f.userID) != 0 {
		t.Fatal("recovery codes survived disable")
	}
}

func TestDisableRequiresValidCode(t *testing.T) {
	f := newFixture(t)
	enableMFA(t, f)
	if err := f.svc.Disable(context.Background(), f.userID, "000000"); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("got %v, want ErrInvalidMFA", err)
	}
	user, _ := f.users.GetByID(context.Background(), f.userID)
	if !user.MFAEnabled {
		t.Fatal("MFA disabled despite invalid code")
	}
}

func TestDisableWithoutMFA(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Disable(context.Background(), f.userID, "123456"); !errors.Is(err, ErrMFANotSetUp) {
		t.Fatalf("got %v, want ErrMFANotSetUp", err)
	}
}
