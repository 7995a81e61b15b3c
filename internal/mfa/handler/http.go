// Package handler exposes the MFA subsystem over HTTP: TOTP setup and
// confirmation, login-challenge verification, and disable.
package handler

import (
	"net/http"
	"time"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/audit"
	"commonground/backend/internal/mfa/service"
	"commonground/backend/internal/platform/httpx"
	"commonground/backend/internal/telemetry"

	telemetrydomain "commonground/backend/internal/telemetry/domain"
)

// Handler serves the /api/mfa endpoints.
type Handler struct {
	svc          *service.Service
	audit        audit.AuditLogger
	events       telemetry.EventEmitter
	cookieSecure bool
	refreshTTL   time.Duration
}

// NewHandler returns an MFA HTTP handler.
func NewHandler(svc *service.Service, auditLogger audit.AuditLogger, events telemetry.EventEmitter, cookieSecure bool, refreshTTL time.Duration) *Handler {
	return &Handler{
		svc:          svc,
		audit:        auditLogger,
		events:       events,
		cookieSecure: cookieSecure,
		refreshTTL:   refreshTTL,
	}
}

type codeRequest struct {
	Code string `json:"code"`
}

type verifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// SetupTOTP handles POST /api/mfa/totp/setup. Returns the secret and
// provisioning URI exactly once; MFA stays disabled until confirmed.
func (h *Handler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	setup, err := h.svc.SetupTOTP(r.Context(), id.UserID)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), "", id.UserID, "mfa.totp_setup", "mfa", "")
	httpx.RespondJSON(w, http.StatusOK, map[string]string{
		"secret":           setup.Secret,
		"provisioning_uri": setup.ProvisioningURI,
	})
}

// ConfirmTOTP handles POST /api/mfa/totp/confirm. On success MFA is enabled
// and the fresh recovery codes are returned, plaintext, exactly once.
func (h *Handler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	var req codeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	codes, err := h.svc.ConfirmTOTP(r.Context(), id.UserID, req.Code)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), "", id.UserID, "mfa.enabled", "mfa", "")
	telemetry.EmitAsync(h.events, r.Context(), &telemetrydomain.Event{
		UserID:    id.UserID,
		EventType: "mfa.enabled",
		Source:    httpx.ClientIPFromContext(r.Context()),
		CreatedAt: time.Now().UTC(),
	})
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"recovery_codes": codes})
}

// VerifyLogin handles POST /api/mfa/verify: consumes a pending login
// challenge with a TOTP or recovery code and issues the session.
func (h *Handler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	result, err := h.svc.VerifyLogin(r.Context(), req.ChallengeID, req.Code)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInvalidMFA {
			h.audit.LogEvent(r.Context(), "", "", "mfa.verify_failure", "session", "")
			telemetry.EmitAsync(h.events, r.Context(), &telemetrydomain.Event{
				EventType: "mfa.verify_failure",
				Source:    httpx.ClientIPFromContext(r.Context()),
				CreatedAt: time.Now().UTC(),
			})
		}
		httpx.RespondError(w, r, err)
		return
	}
	if err := httpx.SetSessionCookies(w, result.RefreshToken, h.refreshTTL, h.cookieSecure); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), "", result.UserID, "mfa.verify_success", "session", "")
	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"user_id":       result.UserID,
		"email":         result.Email,
		"name":          result.Name,
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"expires_at":    result.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Disable handles POST /api/mfa/disable. Requires a valid current TOTP code.
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	var req codeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.svc.Disable(r.Context(), id.UserID, req.Code); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), "", id.UserID, "mfa.disabled", "mfa", "")
	httpx.RespondJSON(w, http.StatusOK, map[string]bool{"disabled": true})
}
