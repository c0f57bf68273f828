package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/service"
	"github.com/keywarden/keywarden/internal/store"
)

// KeyHandler exposes the administrative key lifecycle: issue, list, inspect,
// rotate, suspend, reinstate, revoke, and usage reporting.
type KeyHandler struct {
	engine *service.Engine
	store  *store.Store
	logger *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(engine *service.Engine, st *store.Store, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{
		engine: engine,
		store:  st,
		logger: logger,
	}
}

// keyResponse is an APIKey plus its derived lifecycle state. Secret is set
// only on the single response that mints it; it is never retrievable again.
type keyResponse struct {
	*model.APIKey
	State  model.KeyState `json:"state"`
	Secret string         `json:"secret,omitempty"`
}

func (h *KeyHandler) keyResponse(ctx context.Context, key *model.APIKey, secret string) (*keyResponse, error) {
	state, err := h.engine.KeyState(ctx, key)
	if err != nil {
		return nil, err
	}
	return &keyResponse{APIKey: key, State: state, Secret: secret}, nil
}

// createKeyRequest is the payload for key creation.
type createKeyRequest struct {
	TenantID       string     `json:"tenant_id"`
	Label          string     `json:"label"`
	KeyType        string     `json:"key_type"`
	Permission     string     `json:"permission"`
	ScopeType      string     `json:"scope_type"`
	ScopeID        *string    `json:"scope_id"`
	AllowedOrigins []string   `json:"allowed_origins"`
	AllowedIPs     []string   `json:"allowed_ips"`
	ExpiresAt      *time.Time `json:"expires_at"`
	RateLimit      *int       `json:"rate_limit"`
}

// CreateKey mints a new API key and returns the raw secret exactly once.
// Repeated requests carrying the same Idempotency-Key header replay the
// stored response, secret included, instead of minting a second key.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	bodyHash, err := readJSONHashed(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if h.replayIdempotent(w, r, req.TenantID, "create_key", bodyHash) {
		return
	}

	key, secret, err := h.engine.CreateKey(r.Context(), service.CreateKeyInput{
		TenantID:       req.TenantID,
		Label:          req.Label,
		KeyType:        model.KeyType(req.KeyType),
		Permission:     model.Permission(req.Permission),
		ScopeType:      model.ScopeType(req.ScopeType),
		ScopeID:        req.ScopeID,
		AllowedOrigins: req.AllowedOrigins,
		AllowedIPs:     req.AllowedIPs,
		ExpiresAt:      req.ExpiresAt,
		RateLimit:      req.RateLimit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.keyResponse(r.Context(), key, secret)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.storeIdempotent(r, req.TenantID, "create_key", bodyHash, http.StatusCreated, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// ListKeys returns all keys for a tenant, newest first, with derived states.
// GET /api/v1/keys?tenant_id=...
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	tenantID := queryString(r, "tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	keys, err := h.engine.ListKeys(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	stateFilter := model.KeyState(queryString(r, "state"))
	resources := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		resp, err := h.keyResponse(r.Context(), &keys[i], "")
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if stateFilter != "" && resp.State != stateFilter {
			continue
		}
		resources = append(resources, keyToMap(resp))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// GetKey returns a single key by id.
// GET /api/v1/keys/{keyID}
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.engine.GetKey(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp, err := h.keyResponse(r.Context(), key, "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// rotateKeyRequest optionally overrides the rotation grace window.
type rotateKeyRequest struct {
	GraceHours int `json:"grace_hours"`
}

// RotateKey mints a successor key and opens the grace window on the
// predecessor. Returns the successor with its raw secret.
// POST /api/v1/keys/{keyID}/rotate
func (h *KeyHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")

	var req rotateKeyRequest
	bodyHash, err := readJSONHashed(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	key, err := h.engine.GetKey(r.Context(), keyID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if h.replayIdempotent(w, r, key.TenantID, "rotate_key:"+keyID, bodyHash) {
		return
	}

	successor, secret, err := h.engine.RotateKey(r.Context(), keyID, time.Duration(req.GraceHours)*time.Hour)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.keyResponse(r.Context(), successor, secret)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.storeIdempotent(r, key.TenantID, "rotate_key:"+keyID, bodyHash, http.StatusCreated, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// reasonRequest carries the audited reason for suspend and revoke.
type reasonRequest struct {
	ReasonCode string  `json:"reason_code"`
	Detail     *string `json:"detail"`
}

// SuspendKey pauses an active key.
// POST /api/v1/keys/{keyID}/suspend
func (h *KeyHandler) SuspendKey(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	key, err := h.engine.SuspendKey(r.Context(), chi.URLParam(r, "keyID"), model.ReasonCode(req.ReasonCode), req.Detail)
	if err != nil {
		// Suspending an already-suspended key is a no-op, not an error.
		if errors.Is(err, service.ErrConflict) {
			if key, err = h.engine.GetKey(r.Context(), chi.URLParam(r, "keyID")); err != nil {
				writeServiceError(w, err)
				return
			}
		} else {
			writeServiceError(w, err)
			return
		}
	}
	resp, err := h.keyResponse(r.Context(), key, "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReinstateKey resumes a suspended key.
// POST /api/v1/keys/{keyID}/reinstate
func (h *KeyHandler) ReinstateKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	key, err := h.engine.ReinstateKey(r.Context(), keyID)
	if err != nil {
		// Reinstating an already-active key converges on the same state.
		if errors.Is(err, service.ErrConflict) {
			if key, err = h.engine.GetKey(r.Context(), keyID); err != nil {
				writeServiceError(w, err)
				return
			}
		} else {
			writeServiceError(w, err)
			return
		}
	}
	resp, err := h.keyResponse(r.Context(), key, "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RevokeKey permanently revokes a key, cascading through its rotation
// descendants when the tenant policy enables it.
// POST /api/v1/keys/{keyID}/revoke
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	keyID := chi.URLParam(r, "keyID")
	key, err := h.engine.RevokeKey(r.Context(), keyID, model.ReasonCode(req.ReasonCode), req.Detail)
	if err != nil {
		// Revocation is idempotent: a second revoke reports the settled state.
		if errors.Is(err, service.ErrConflict) {
			if key, err = h.engine.GetKey(r.Context(), keyID); err != nil {
				writeServiceError(w, err)
				return
			}
		} else {
			writeServiceError(w, err)
			return
		}
	}
	resp, err := h.keyResponse(r.Context(), key, "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Usage returns the rolled-up summary plus one page of raw events for a key.
// GET /api/v1/keys/{keyID}/usage?limit=&cursor=
func (h *KeyHandler) Usage(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 100), 1, 500)
	cursor := queryString(r, "cursor")

	summary, events, next, err := h.engine.ListUsage(r.Context(), chi.URLParam(r, "keyID"), limit, cursor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
		"events":  events,
		"meta": model.ResponseMeta{
			Count:      len(events),
			Limit:      limit,
			NextCursor: next,
		},
	})
}

// replayIdempotent checks the Idempotency-Key header against stored records
// and, on a hit, replays the original response with its original status. A
// token reused for a different operation or payload is a client error, not a
// replay.
func (h *KeyHandler) replayIdempotent(w http.ResponseWriter, r *http.Request, tenantID, operation, requestHash string) bool {
	token := r.Header.Get("Idempotency-Key")
	if token == "" || tenantID == "" {
		return false
	}
	rec, err := h.store.GetIdempotencyRecord(r.Context(), tenantID, token, operation)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "Idempotency key was used for a different operation")
		return true
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Idempotency lookup failed: "+err.Error())
		return true
	}
	// A reused token only replays its own request. Anything else is a
	// client bug, never a silent stale response.
	if rec.RequestHash != requestHash {
		writeError(w, http.StatusConflict, "Idempotency key was reused with a different request body")
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(rec.Status)
	w.Write(rec.Response)
	return true
}

// storeIdempotent records the response for later replay. Failures are logged
// and swallowed; the operation itself already committed.
func (h *KeyHandler) storeIdempotent(r *http.Request, tenantID, operation, requestHash string, status int, v interface{}) {
	token := r.Header.Get("Idempotency-Key")
	if token == "" {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.store.PutIdempotencyRecord(r.Context(), tenantID, token, operation, requestHash, status, body); err != nil {
		h.logger.Warn("failed to store idempotency record", "operation", operation, "error", err)
	}
}

// keyToMap flattens a keyResponse for the list envelope.
func keyToMap(resp *keyResponse) map[string]interface{} {
	raw, _ := json.Marshal(resp)
	out := map[string]interface{}{}
	json.Unmarshal(raw, &out)
	return out
}
