// Package handler exposes the auth service over HTTP: register, login,
// refresh, logout, and the current-identity probe.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/audit"
	"commonground/backend/internal/auth/service"
	"commonground/backend/internal/platform/httpx"
	"commonground/backend/internal/telemetry"

	telemetrydomain "commonground/backend/internal/telemetry/domain"
)

// Handler serves the /api/auth endpoints.
type Handler struct {
	svc          *service.AuthService
	audit        audit.AuditLogger
	events       telemetry.EventEmitter
	cookieSecure bool
	refreshTTL   time.Duration
}

// NewHandler returns an auth HTTP handler.
func NewHandler(svc *service.AuthService, auditLogger audit.AuditLogger, events telemetry.EventEmitter, cookieSecure bool, refreshTTL time.Duration) *Handler {
	return &Handler{
		svc:          svc,
		audit:        auditLogger,
		events:       events,
		cookieSecure: cookieSecure,
		refreshTTL:   refreshTTL,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	OrgName  string `json:"org_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    string `json:"expires_at"`
}

type loginResponse struct {
	MFARequired bool             `json:"mfa_required"`
	ChallengeID string           `json:"challenge_id,omitempty"`
	Session     *sessionResponse `json:"session,omitempty"`
}

func sessionPayload(a *service.AuthResult) *sessionResponse {
	return &sessionResponse{
		UserID:       a.UserID,
		Email:        a.Email,
		Name:         a.Name,
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		ExpiresAt:    a.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	result, err := h.svc.Register(r.Context(), req.Email, req.Password, req.Name, req.OrgName)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), "", result.UserID, "user.register", "user", "")
	telemetry.EmitAsync(h.events, r.Context(), &telemetrydomain.Event{
		UserID:    result.UserID,
		EventType: "auth.register",
		Source:    httpx.ClientIPFromContext(r.Context()),
		CreatedAt: time.Now().UTC(),
	})
	httpx.RespondJSON(w, http.StatusCreated, sessionPayload(result))
}

// Login handles POST /api/auth/login. A successful password check either
// issues a session or, when MFA is enabled, returns a pending challenge id.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	result, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInvalidLogin {
			h.audit.LogEvent(r.Context(), "", "", "auth.login_failure", "session", metaJSON(map[string]string{"email": req.Email}))
			telemetry.EmitAsync(h.events, r.Context(), &telemetrydomain.Event{
				EventType: "auth.login_failure",
				Source:    httpx.ClientIPFromContext(r.Context()),
				CreatedAt: time.Now().UTC(),
			})
		}
		httpx.RespondError(w, r, err)
		return
	}
	if result.MFARequired {
		h.audit.LogEvent(r.Context(), "", "", "auth.login_mfa_challenge", "session", "")
		httpx.RespondJSON(w, http.StatusOK, &loginResponse{MFARequired: true, ChallengeID: result.ChallengeID})
		return
	}
	if err := httpx.SetSessionCookies(w, result.Auth.RefreshToken, h.refreshTTL, h.cookieSecure); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), "", result.Auth.UserID, "auth.login", "session", "")
	telemetry.EmitAsync(h.events, r.Context(), &telemetrydomain.Event{
		UserID:    result.Auth.UserID,
		EventType: "auth.login",
		Source:    httpx.ClientIPFromContext(r.Context()),
		CreatedAt: time.Now().UTC(),
	})
	httpx.RespondJSON(w, http.StatusOK, &loginResponse{Session: sessionPayload(result.Auth)})
}

// Refresh handles POST /api/auth/refresh. The token may come from the session
// cookie (browser clients, CSRF-checked) or the body (native clients).
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, r, err)
			return
		}
	}
	token, fromCookie := httpx.RefreshTokenFromRequest(r, req.RefreshToken)
	if fromCookie && !httpx.CheckCSRF(r) {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "missing or mismatched CSRF token"))
		return
	}
	result, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := httpx.SetSessionCookies(w, result.RefreshToken, h.refreshTTL, h.cookieSecure); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, sessionPayload(result))
}

// Logout handles POST /api/auth/logout. Idempotent; always clears cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, r, err)
			return
		}
	}
	token, fromCookie := httpx.RefreshTokenFromRequest(r, req.RefreshToken)
	if fromCookie && !httpx.CheckCSRF(r) {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "missing or mismatched CSRF token"))
		return
	}
	if err := h.svc.Logout(r.Context(), token); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.ClearSessionCookies(w, h.cookieSecure)
	h.audit.LogEvent(r.Context(), "", "", "auth.logout", "session", "")
	httpx.RespondJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// LogoutAll handles POST /api/auth/logout_all. Requires authentication;
// revokes every session of the caller.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	if err := h.svc.LogoutAll(r.Context(), id.UserID); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.ClearSessionCookies(w, h.cookieSecure)
	h.audit.LogEvent(r.Context(), "", id.UserID, "auth.logout_all", "session", "")
	httpx.RespondJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// Me handles GET /api/auth/me, returning the verified identity of the caller.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]string{
		"user_id": id.UserID,
		"email":   id.Email,
		"name":    id.Name,
	})
}

func metaJSON(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
