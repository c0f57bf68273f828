package handler

import (
	"net"
	"net/http"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/service"
)

// VerifyHandler is the hot-path authorization endpoint called by the
// platform's request middleware on every inbound API call.
type VerifyHandler struct {
	engine *service.Engine
}

// NewVerifyHandler creates a new VerifyHandler.
func NewVerifyHandler(engine *service.Engine) *VerifyHandler {
	return &VerifyHandler{engine: engine}
}

// verifyRequest is one authorization question: may this secret perform this
// action on this resource.
type verifyRequest struct {
	Secret   string `json:"secret"`
	Action   string `json:"action"`
	Resource struct {
		Type     string `json:"type"`
		ID       string `json:"id"`
		TenantID string `json:"tenant_id"`
		SpaceID  string `json:"space_id"`
	} `json:"resource"`
	Origin   string `json:"origin"`
	CallerIP string `json:"caller_ip"`
	Method   string `json:"method"`
	Path     string `json:"path"`
}

// verifyResponse reveals key details only on allow. Denials are uniform so a
// caller holding a stolen or guessed credential cannot map the key space.
type verifyResponse struct {
	Outcome    string  `json:"outcome"`
	KeyID      string  `json:"key_id,omitempty"`
	TenantID   string  `json:"tenant_id,omitempty"`
	Permission string  `json:"permission,omitempty"`
	ScopeType  string  `json:"scope_type,omitempty"`
	ScopeID    *string `json:"scope_id,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Verify resolves a presented credential and authorizes the requested action.
// POST /api/v1/verify
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Secret == "" {
		writeError(w, http.StatusBadRequest, "secret is required")
		return
	}

	// The gateway forwards the end caller's address; fall back to the
	// connection peer when it does not.
	callerIP := req.CallerIP
	if callerIP == "" {
		callerIP = remoteIP(r)
	}
	origin := req.Origin
	if origin == "" {
		origin = r.Header.Get("Origin")
	}

	decision, err := h.engine.VerifyAndAuthorize(r.Context(), service.VerifyInput{
		RawSecret: req.Secret,
		Action:    model.Permission(req.Action),
		Resource: model.Resource{
			Type:     model.ResourceType(req.Resource.Type),
			ID:       req.Resource.ID,
			TenantID: req.Resource.TenantID,
			SpaceID:  req.Resource.SpaceID,
		},
		Origin:   origin,
		CallerIP: callerIP,
		Method:   req.Method,
		Path:     req.Path,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Verification error")
		return
	}

	switch decision.Outcome {
	case service.OutcomeAllow:
		key := decision.Key
		writeJSON(w, http.StatusOK, verifyResponse{
			Outcome:    string(decision.Outcome),
			KeyID:      key.ID,
			TenantID:   key.TenantID,
			Permission: string(key.Permission),
			ScopeType:  string(key.ScopeType),
			ScopeID:    key.ScopeID,
		})
	case service.OutcomeRateLimited:
		writeJSON(w, http.StatusTooManyRequests, verifyResponse{
			Outcome: string(decision.Outcome),
			Message: "Rate limit exceeded",
		})
	default:
		// One message for every denial cause. The reason is in the usage log.
		writeJSON(w, http.StatusUnauthorized, verifyResponse{
			Outcome: string(service.OutcomeDenied),
			Message: "Credential rejected",
		})
	}
}

// remoteIP strips the port from the connection peer address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
