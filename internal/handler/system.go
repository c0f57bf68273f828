package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/server/middleware"
	"github.com/keywarden/keywarden/internal/service"
	"github.com/keywarden/keywarden/internal/store"
)

// SystemHandler manages operator sessions and accounts.
type SystemHandler struct {
	store   *store.Store
	authSvc *service.AuthService
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(st *store.Store, authSvc *service.AuthService) *SystemHandler {
	return &SystemHandler{store: st, authSvc: authSvc}
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token      string `json:"session_token"`
	TokenType  string `json:"token_type"`
	ExpiresIn  int    `json:"expires_in"`
	AdminID    string `json:"admin_id"`
	Email      string `json:"email"`
	SuperAdmin bool   `json:"super_admin"`
}

// Login authenticates an operator and returns a JWT session token.
// POST /api/v1/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	principal, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrAccountDisabled) {
			writeError(w, http.StatusUnauthorized, "Account is disabled")
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	ttl := 24 * time.Hour
	token, err := h.authSvc.IssueJWT(r.Context(), principal, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:      token,
		TokenType:  "bearer",
		ExpiresIn:  int(ttl.Seconds()),
		AdminID:    principal.AdminID,
		Email:      principal.Email,
		SuperAdmin: principal.SuperAdmin,
	})
}

// Logout invalidates the current session. JWTs are stateless, so this is a
// no-op on the server side; clients discard their token.
// DELETE /api/v1/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// Me returns the authenticated operator's identity.
// GET /api/v1/session
func (h *SystemHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"admin_id":    principal.AdminID,
		"email":       principal.Email,
		"super_admin": principal.SuperAdmin,
	})
}

// ListAdmins returns all operator accounts.
// GET /api/v1/admins
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource": admins,
		"meta":     model.ResponseMeta{Count: len(admins)},
	})
}

// createAdminRequest is the payload for operator account creation.
type createAdminRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	SuperAdmin bool   `json:"super_admin"`
}

// CreateAdmin registers a new operator account. Restricted to super admins
// by the router.
// POST /api/v1/admins
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	admin := &model.Admin{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Email:        req.Email,
		PasswordHash: service.HashPassword(req.Password),
		Name:         req.Name,
		IsActive:     true,
		IsSuperAdmin: req.SuperAdmin,
	}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Admin already exists: "+req.Email)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create admin: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, admin)
}
