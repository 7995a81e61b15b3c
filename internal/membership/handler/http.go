// Package handler exposes org membership management over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/audit"
	"commonground/backend/internal/membership/domain"
	"commonground/backend/internal/membership/service"
	"commonground/backend/internal/platform/httpx"
)

// Handler serves the /api/orgs/{orgID}/members endpoints.
type Handler struct {
	svc   *service.Service
	audit audit.AuditLogger
}

// NewHandler returns a membership HTTP handler.
func NewHandler(svc *service.Service, auditLogger audit.AuditLogger) *Handler {
	return &Handler{svc: svc, audit: auditLogger}
}

type roleRequest struct {
	Role string `json:"role"`
}

type memberResponse struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// List handles GET /api/orgs/{orgID}/members.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	orgID := mux.Vars(r)["orgID"]
	members, err := h.svc.List(r.Context(), orgID, id.UserID)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	out := make([]memberResponse, len(members))
	for i, m := range members {
		out[i] = memberResponse{
			UserID:    m.UserID,
			Role:      string(m.Role),
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]any{"members": out})
}

// ChangeRole handles PUT /api/orgs/{orgID}/members/{userID}/role.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	vars := mux.Vars(r)
	orgID, targetID := vars["orgID"], vars["userID"]
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.svc.ChangeRole(r.Context(), orgID, id.UserID, targetID, domain.Role(req.Role)); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), orgID, id.UserID, "membership.role_changed", "membership", `{"target":"`+targetID+`","role":"`+req.Role+`"}`)
	httpx.RespondJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// Remove handles DELETE /api/orgs/{orgID}/members/{userID}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.CurrentUser(r)
	if !ok {
		httpx.RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	vars := mux.Vars(r)
	orgID, targetID := vars["orgID"], vars["userID"]
	if err := h.svc.Remove(r.Context(), orgID, id.UserID, targetID); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.audit.LogEvent(r.Context(), orgID, id.UserID, "membership.removed", "membership", `{"target":"`+targetID+`"}`)
	httpx.RespondJSON(w, http.StatusOK, map[string]bool{"removed": true})
}
