package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keywarden/keywarden/internal/service"
)

// PolicyHandler manages per-tenant policies.
type PolicyHandler struct {
	engine *service.Engine
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(engine *service.Engine) *PolicyHandler {
	return &PolicyHandler{engine: engine}
}

// GetPolicy returns the tenant's effective policy. Tenants that never stored
// one get the defaults.
// GET /api/v1/tenants/{tenantID}/policy
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	pol, err := h.engine.Policy(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

// UpdatePolicy replaces the tenant's policy.
// PUT /api/v1/tenants/{tenantID}/policy
func (h *PolicyHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	// Start from the current policy so a partial payload only changes the
	// fields it names.
	pol, err := h.engine.Policy(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := readJSON(r, pol); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	pol.TenantID = tenantID

	updated, err := h.engine.UpdatePolicy(r.Context(), pol)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
