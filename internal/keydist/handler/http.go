// Package handler exposes key distribution over HTTP: device key
// registration, wrap publish/fetch, and key version rotation.
package handler

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/audit"
	"commonground/backend/internal/keydist/service"
	"commonground/backend/internal/platform/httpx"
	"commonground/backend/internal/telemetry"

	telemetrydomain "commonground/backend/internal/telemetry/domain"
)

// Handler serves the device-key and /api/orgs/{orgID}/key endpoints.
type Handler struct {
	svc    *service.Service
	audit  audit.AuditLogger
	events telemetry.EventEmitter
}

// NewHandler returns a key distribution HTTP handler.
func NewHandler(svc *service.Service, auditLogger audit.AuditLogger, events telemetry.EventEmitter) *Handler {
	return &Handler{svc: svc, audit: auditLogger, events: events}
}

type deviceKeyRequest struct {
	PublicKey string `json:"public_key"`
}

type wrapPayload struct {
	UserID     string `json:"user_id"`
	Ciphertext string `json:"ciphertext"`
	KeyVersion int64  `json:"key_version"`
}

type publishRequest struct {
	Wraps []wrapPayload `json:"wraps"`
}

// RegisterDeviceKey handles POST /api/users/me/device-key.
func (h *Handler) RegisterDeviceKey(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	var req deviceKeyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.svc.RegisterDevicePublicKey(r.Context(), id.UserID, req.PublicKey); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), "", id.UserID, "keydist.device_key_registered", "device_key", "")
	httpx.RespondJSON(w, http.StatusOK, map[string]bool{"registered": true})
}

// PublishWraps handles POST /api/orgs/{orgID}/key/wraps.
func (h *Handler) PublishWraps(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	orgID := mux.Vars(r)["orgID"]
	var req publishRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	wraps := make([]service.WrapInput, 0, len(req.Wraps))
	for _, p := range req.Wraps {
		ct, err := base64.StdEncoding.DecodeString(p.Ciphertext)
		if err != nil {
			httpx.RespondError(w, r, apperr.New(apperr.CodeValidation, "wrap ciphertext must be base64"))
			return
		}
		wraps = append(wraps, service.WrapInput{UserID: p.UserID, Ciphertext: ct, KeyVersion: p.KeyVersion})
	}
	if err := h.svc.PublishWrappedKeys(r.Context(), orgID, id.UserID, wraps); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), orgID, id.UserID, "keydist.wraps_published", "org_key", fmt.Sprintf(`{"count":%d}`, len(wraps)))
	telemetry.EmitAsync(h.events, r.Context(), &telemetrydomain.Event{
		OrgID:     orgID,
		UserID:    id.UserID,
		EventType: "keydist.wraps_published",
		Source:    httpx.ClientIPFromContext(r.Context()),
		CreatedAt: time.Now().UTC(),
	})
	httpx.RespondJSON(w, http.StatusOK, map[string]bool{"published": true})
}

// FetchKey handles GET /api/orgs/{orgID}/key: the caller's own wrap plus the
// org's current key version. A null key means no key has been published yet.
func (h *Handler) FetchKey(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	orgID := mux.Vars(r)["orgID"]
	result, err := h.svc.FetchWrappedKey(r.Context(), orgID, id.UserID)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	resp := map[string]any{
		"current_version": result.CurrentVersion,
		"key":             nil,
	}
	if result.Wrap != nil {
		resp["key"] = map[string]any{
			"key_id":      result.Wrap.KeyID,
			"key_version": result.Wrap.KeyVersion,
			"ciphertext":  base64.StdEncoding.EncodeToString(result.Wrap.Ciphertext),
			"stale":       result.Wrap.KeyVersion < result.CurrentVersion,
		}
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// RotateKey handles POST /api/orgs/{orgID}/key/rotate.
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	orgID := mux.Vars(r)["orgID"]
	version, err := h.svc.RotateKeyVersion(r.Context(), orgID, id.UserID)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), orgID, id.UserID, "keydist.key_rotated", "org_key", fmt.Sprintf(`{"version":%d}`, version))
	telemetry.EmitAsync(h.events, r.Context(), &telemetrydomain.Event{
		OrgID:     orgID,
		UserID:    id.UserID,
		EventType: "keydist.key_rotated",
		Source:    httpx.ClientIPFromContext(r.Context()),
		CreatedAt: time.Now().UTC(),
	})
	httpx.RespondJSON(w, http.StatusOK, map[string]int64{"version": version})
}
