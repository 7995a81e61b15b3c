package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"commonground/backend/internal/audit"
	"commonground/backend/internal/ratelimit"
	"commonground/backend/internal/security"

	authhandler "commonground/backend/internal/auth/handler"
	authservice "commonground/backend/internal/auth/service"
	keydisthandler "commonground/backend/internal/keydist/handler"
	keydistservice "commonground/backend/internal/keydist/service"
	membershiphandler "commonground/backend/internal/membership/handler"
	membershipservice "commonground/backend/internal/membership/service"
	mfahandler "commonground/backend/internal/mfa/handler"
	mfaservice "commonground/backend/internal/mfa/service"

	keydomain "commonground/backend/internal/keydist/domain"
	membershipdomain "commonground/backend/internal/membership/domain"
	mfadomain "commonground/backend/internal/mfa/domain"
	orgdomain "commonground/backend/internal/organization/domain"
	tokendomain "commonground/backend/internal/refreshtoken/domain"
	userdomain "commonground/backend/internal/user/domain"
)

// memStore is a single in-memory backing store implementing every repository
// interface the services need, so the full HTTP stack can run without Postgres.
type memStore struct {
	mu          sync.Mutex
	users       map[string]*userdomain.User
	orgs        map[string]*orgdomain.Org
	memberships map[string]*membershipdomain.Membership // userID|orgID
	tokens      map[string]*tokendomain.RefreshToken    // by hash
	challenges  map[string]*mfadomain.Challenge
	codes       map[string]*mfadomain.RecoveryCode // userID|hash
	wraps       map[string]*keydomain.WrappedOrgKey
	versions    map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]*userdomain.User),
		orgs:        make(map[string]*orgdomain.Org),
		memberships: make(map[string]*membershipdomain.Membership),
		tokens:      make(map[string]*tokendomain.RefreshToken),
		challenges:  make(map[string]*mfadomain.Challenge),
		codes:       make(map[string]*mfadomain.RecoveryCode),
		wraps:       make(map[string]*keydomain.WrappedOrgKey),
		versions:    make(map[string]int64),
	}
}

func (s *memStore) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(ctx context.Context, u *userdomain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memStore) UpdatePublicKey(ctx context.Context, userID, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.PublicKey = publicKey
	}
	return nil
}

func (s *memStore) UpdateTOTPSecret(ctx context.Context, userID string, secretEnc []byte, mfaEnabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.TOTPSecretEnc = secretEnc
		u.MFAEnabled = mfaEnabled
	}
	return nil
}

func (s *memStore) CreateOrg(ctx context.Context, o *orgdomain.Org) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orgs[o.ID] = &cp
	return nil
}

func (s *memStore) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memberships[userID+"|"+orgID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) ListMembershipsByOrg(ctx context.Context, orgID string) ([]*membershipdomain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*membershipdomain.Membership
	for _, m := range s.memberships {
		if m.OrgID == orgID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) CreateMembership(ctx context.Context, m *membershipdomain.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.memberships[m.UserID+"|"+m.OrgID] = &cp
	return nil
}

func (s *memStore) DeleteByUserAndOrg(ctx context.Context, userID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberships, userID+"|"+orgID)
	return nil
}

func (s *memStore) UpdateRole(ctx context.Context, userID, orgID string, role membershipdomain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memberships[userID+"|"+orgID]; ok {
		m.Role = role
	}
	return nil
}

func (s *memStore) CountOwnersByOrg(ctx context.Context, orgID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.memberships {
		if m.OrgID == orgID && m.Role == membershipdomain.RoleOwner {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetByHash(ctx context.Context, hash string) (*tokendomain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[hash]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) CreateToken(ctx context.Context, t *tokendomain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.TokenHash] = &cp
	return nil
}

func (s *memStore) ConsumeByHash(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[hash]; !ok {
		return false, nil
	}
	delete(s.tokens, hash)
	return true, nil
}

func (s *memStore) DeleteByHash(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, hash)
	return nil
}

func (s *memStore) DeleteAllByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, h)
		}
	}
	return nil
}

func (s *memStore) GetChallenge(ctx context.Context, id string) (*mfadomain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.challenges[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) CreateChallenge(ctx context.Context, c *mfadomain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.challenges[c.ID] = &cp
	return nil
}

func (s *memStore) MarkChallengeVerified(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok || c.Verified {
		return false, nil
	}
	c.Verified = true
	return true, nil
}

func (s *memStore) DeleteChallenge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, id)
	return nil
}

func (s *memStore) CreateRecoveryCodes(ctx context.Context, codes []*mfadomain.RecoveryCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range codes {
		cp := *c
		s.codes[c.UserID+"|"+c.CodeHash] = &cp
	}
	return nil
}

func (s *memStore) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[userID+"|"+codeHash]
	if !ok || c.Used {
		return false, nil
	}
	c.Used = true
	return true, nil
}

func (s *memStore) DeleteRecoveryCodesByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.codes {
		if c.UserID == userID {
			delete(s.codes, k)
		}
	}
	return nil
}

func (s *memStore) GetWrap(ctx context.Context, orgID, userID string) (*keydomain.WrappedOrgKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wraps[orgID+"|"+userID]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) UpsertWrap(ctx context.Context, w *keydomain.WrappedOrgKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.wraps[w.OrgID+"|"+w.UserID] = &cp
	return nil
}

func (s *memStore) GetVersion(ctx context.Context, orgID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[orgID], nil
}

func (s *memStore) AdvanceVersionTo(ctx context.Context, orgID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.versions[orgID] {
		s.versions[orgID] = version
	}
	return nil
}

func (s *memStore) IncrementVersion(ctx context.Context, orgID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[orgID]++
	return s.versions[orgID], nil
}

// Adapters so one memStore can stand in for every repo interface despite
// method name collisions (Create).
type orgStore struct{ *memStore }

func (s orgStore) Create(ctx context.Context, o *orgdomain.Org) error { return s.CreateOrg(ctx, o) }

type tokenStore struct{ *memStore }

func (s tokenStore) Create(ctx context.Context, t *tokendomain.RefreshToken) error {
	return s.CreateToken(ctx, t)
}

func newTestServer(t *testing.T, loginLimit int64) (*httptest.Server, *memStore) {
	t.Helper()
	store := newMemStore()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	provider := security.NewTokenProvider(key, &key.PublicKey, "commonground-auth", "commonground-api", time.Minute)

	boxKey := make([]byte, 32)
	if _, err := rand.Read(boxKey); err != nil {
		t.Fatal(err)
	}
	box, err := security.NewSecretBox(boxKey)
	if err != nil {
		t.Fatal(err)
	}

	authRunTx := func(ctx context.Context, fn func(ctx context.Context, s authservice.Stores) error) error {
		return fn(ctx, authservice.Stores{Users: store, Orgs: orgStore{store}, Memberships: store})
	}
	authSvc := authservice.NewAuthService(store, tokenStore{store}, store, authRunTx,
		security.NewHasher(1000), provider, time.Hour, 5*time.Minute)

	mfaRunTx := func(ctx context.Context, fn func(ctx context.Context, s mfaservice.Stores) error) error {
		return fn(ctx, mfaservice.Stores{Users: store, MFA: store})
	}
	mfaSvc := mfaservice.NewService(store, store, authSvc, mfaRunTx, box, "test-pepper", "commonground-auth")

	membershipRunTx := func(ctx context.Context, fn func(ctx context.Context, s membershipservice.Stores) error) error {
		return fn(ctx, membershipservice.Stores{Memberships: store})
	}
	membershipSvc := membershipservice.NewService(store, membershipRunTx)

	keydistSvc := keydistservice.NewService(store, store, store)

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryCounter(), time.Minute, map[string]int64{
		ActionLogin:    loginLimit,
		ActionRegister: loginLimit,
		ActionMFA:      loginLimit,
	})

	router := NewRouter(Deps{
		Auth:        authhandler.NewHandler(authSvc, audit.Nop{}, nil, false, time.Hour),
		MFA:         mfahandler.NewHandler(mfaSvc, audit.Nop{}, nil, false, time.Hour),
		KeyDist:     keydisthandler.NewHandler(keydistSvc, audit.Nop{}, nil),
		Memberships: membershiphandler.NewHandler(membershipSvc, audit.Nop{}),
		Validator:   provider,
		Limiter:     limiter,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

type apiResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func postJSON(t *testing.T, client *http.Client, url, bearer string, body any) (*http.Response, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}
	return resp, out
}

func getJSON(t *testing.T, client *http.Client, url, bearer string) (*http.Response, apiResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}
	return resp, out
}

// TestFullCredentialLifecycle walks the complete journey: register, enable
// MFA, log out, log back in through an MFA challenge, burn a recovery code,
// and verify single-use semantics along the way.
func TestFullCredentialLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, 100)
	client := srv.Client()

	// Register.
	resp, out := postJSON(t, client, srv.URL+"/api/auth/register", "", map[string]string{
		"email":    "ada@example.com",
		"password": "analytical-engine",
		"name":     "Ada",
		"org_name": "Engines Ltd",
	})
	if resp.StatusCode != http.StatusCreated || !out.OK {
		t.Fatalf("register: status %d, body %+v", resp.StatusCode, out)
	}
	var session struct {
		UserID      string `json:"user_id"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(out.Data, &session); err != nil {
		t.Fatal(err)
	}

	// Set up and confirm TOTP.
	resp, out = postJSON(t, client, srv.URL+"/api/mfa/totp/setup", session.AccessToken, map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("totp setup: %d %+v", resp.StatusCode, out)
	}
	var setup struct {
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(out.Data, &setup); err != nil {
		t.Fatal(err)
	}
	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	resp, out = postJSON(t, client, srv.URL+"/api/mfa/totp/confirm", session.AccessToken, map[string]string{"code": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("totp confirm: %d %+v", resp.StatusCode, out)
	}
	var confirmed struct {
		RecoveryCodes []string `json:"recovery_codes"`
	}
	if err := json.Unmarshal(out.Data, &confirmed); err != nil {
		t.Fatal(err)
	}
	if len(confirmed.RecoveryCodes) == 0 {
		t.Fatal("no recovery codes returned")
	}

	// Login now requires MFA.
	resp, out = postJSON(t, client, srv.URL+"/api/auth/login", "", map[string]string{
		"email":    "ada@example.com",
		"password": "analytical-engine",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %+v", resp.StatusCode, out)
	}
	var login struct {
		MFARequired bool   `json:"mfa_required"`
		ChallengeID string `json:"challenge_id"`
	}
	if err := json.Unmarshal(out.Data, &login); err != nil {
		t.Fatal(err)
	}
	if !login.MFARequired || login.ChallengeID == "" {
		t.Fatalf("expected MFA challenge, got %+v", login)
	}

	// Verify with a recovery code.
	recovery := confirmed.RecoveryCodes[0]
	resp, out = postJSON(t, client, srv.URL+"/api/mfa/verify", "", map[string]string{
		"challenge_id": login.ChallengeID,
		"code":         recovery,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mfa verify: %d %+v", resp.StatusCode, out)
	}
	var verified struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(out.Data, &verified); err != nil {
		t.Fatal(err)
	}

	// /me works with the fresh token.
	resp, out = getJSON(t, client, srv.URL+"/api/auth/me", verified.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %+v", resp.StatusCode, out)
	}

	// The recovery code is spent: a second challenge cannot reuse it.
	resp, out = postJSON(t, client, srv.URL+"/api/auth/login", "", map[string]string{
		"email":    "ada@example.com",
		"password": "analytical-engine",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatal("second login failed")
	}
	if err := json.Unmarshal(out.Data, &login); err != nil {
		t.Fatal(err)
	}
	resp, out = postJSON(t, client, srv.URL+"/api/mfa/verify", "", map[string]string{
		"challenge_id": login.ChallengeID,
		"code":         recovery,
	})
	if resp.StatusCode != http.StatusUnauthorized || out.Error == nil || out.Error.Code != "INVALID_MFA" {
		t.Fatalf("spent recovery code: %d %+v", resp.StatusCode, out)
	}

	// Logout with the refresh token from the body; replaying the token fails.
	resp, out = postJSON(t, client, srv.URL+"/api/auth/logout", "", map[string]string{"refresh_token": verified.RefreshToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: %d %+v", resp.StatusCode, out)
	}
	resp, out = postJSON(t, client, srv.URL+"/api/auth/refresh", "", map[string]string{"refresh_token": verified.RefreshToken})
	if resp.StatusCode != http.StatusUnauthorized || out.Error == nil || out.Error.Code != "INVALID_REFRESH" {
		t.Fatalf("refresh after logout: %d %+v", resp.StatusCode, out)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv, _ := newTestServer(t, 100)
	client := srv.Client()

	resp, out := getJSON(t, client, srv.URL+"/api/auth/me", "")
	if resp.StatusCode != http.StatusUnauthorized || out.Error == nil || out.Error.Code != "UNAUTHENTICATED" {
		t.Fatalf("me without token: %d %+v", resp.StatusCode, out)
	}
	resp, out = postJSON(t, client, srv.URL+"/api/mfa/totp/setup", "garbage-token", map[string]string{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("setup with garbage token: %d %+v", resp.StatusCode, out)
	}
}

func TestLoginRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, 3)
	client := srv.Client()

	body := map[string]string{"email": "nobody@example.com", "password": "wrong-password"}
	for i := 0; i < 3; i++ {
		resp, _ := postJSON(t, client, srv.URL+"/api/auth/login", "", body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: %d", i+1, resp.StatusCode)
		}
	}
	resp, out := postJSON(t, client, srv.URL+"/api/auth/login", "", body)
	if resp.StatusCode != http.StatusTooManyRequests || out.Error == nil || out.Error.Code != "RATE_LIMITED" {
		t.Fatalf("fourth attempt: %d %+v", resp.StatusCode, out)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestKeyDistributionOverHTTP(t *testing.T) {
	srv, store := newTestServer(t, 100)
	client := srv.Client()

	resp, out := postJSON(t, client, srv.URL+"/api/auth/register", "", map[string]string{
		"email":    "owner@example.com",
		"password": "wrapping-things",
		"name":     "Owner",
		"org_name": "Keys Inc",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %+v", resp.StatusCode, out)
	}
	var session struct {
		UserID      string `json:"user_id"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(out.Data, &session); err != nil {
		t.Fatal(err)
	}

	var orgID string
	store.mu.Lock()
	for id := range store.orgs {
		orgID = id
	}
	store.mu.Unlock()
	if orgID == "" {
		t.Fatal("no org created at registration")
	}

	// No key yet: graceful null.
	resp, out = getJSON(t, client, fmt.Sprintf("%s/api/orgs/%s/key", srv.URL, orgID), session.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch before publish: %d %+v", resp.StatusCode, out)
	}
	var fetch struct {
		CurrentVersion int64 `json:"current_version"`
		Key            *struct {
			KeyVersion int64  `json:"key_version"`
			Ciphertext string `json:"ciphertext"`
			Stale      bool   `json:"stale"`
		} `json:"key"`
	}
	if err := json.Unmarshal(out.Data, &fetch); err != nil {
		t.Fatal(err)
	}
	if fetch.Key != nil || fetch.CurrentVersion != 0 {
		t.Fatalf("expected empty key state, got %+v", fetch)
	}

	// Publish a wrap for self (owner is admin+).
	resp, out = postJSON(t, client, fmt.Sprintf("%s/api/orgs/%s/key/wraps", srv.URL, orgID), session.AccessToken, map[string]any{
		"wraps": []map[string]any{
			{"user_id": session.UserID, "ciphertext": "b3BhcXVlLWJsb2I=", "key_version": 1},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish: %d %+v", resp.StatusCode, out)
	}

	resp, out = getJSON(t, client, fmt.Sprintf("%s/api/orgs/%s/key", srv.URL, orgID), session.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch after publish: %d %+v", resp.StatusCode, out)
	}
	if err := json.Unmarshal(out.Data, &fetch); err != nil {
		t.Fatal(err)
	}
	if fetch.Key == nil || fetch.CurrentVersion != 1 || fetch.Key.Stale {
		t.Fatalf("unexpected key state: %+v", fetch)
	}

	// Rotate; the old wrap is now stale but still served.
	resp, out = postJSON(t, client, fmt.Sprintf("%s/api/orgs/%s/key/rotate", srv.URL, orgID), session.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: %d %+v", resp.StatusCode, out)
	}
	resp, out = getJSON(t, client, fmt.Sprintf("%s/api/orgs/%s/key", srv.URL, orgID), session.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("fetch after rotate failed")
	}
	if err := json.Unmarshal(out.Data, &fetch); err != nil {
		t.Fatal(err)
	}
	if fetch.CurrentVersion != 2 || fetch.Key == nil || !fetch.Key.Stale {
		t.Fatalf("expected stale wrap at version 2, got %+v", fetch)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, 100)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
}
