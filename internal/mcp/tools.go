package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keywarden/keywarden/internal/model"
)

// registerTools registers all keywarden MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Inspection tools -----

	srv.AddTool(
		mcp.NewTool("keywarden_list_keys",
			mcp.WithDescription(
				"List all API keys belonging to a tenant, including each key's "+
					"redacted display form, scope, permission, and derived lifecycle "+
					"state (active, suspended, revoked, or expired). Raw secrets are "+
					"never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("tenant_id",
				mcp.Required(),
				mcp.Description("Tenant whose keys to list"),
			),
			mcp.WithString("state",
				mcp.Description("Optional filter: active, suspended, revoked, or expired"),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keywarden_get_key",
			mcp.WithDescription(
				"Get one API key by id with its derived lifecycle state, scope, "+
					"constraints, and rotation lineage. Raw secrets are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("Key id to look up"),
			),
		),
		s.handleGetKey,
	)

	srv.AddTool(
		mcp.NewTool("keywarden_key_usage",
			mcp.WithDescription(
				"Get the usage summary and recent authentication events for a key. "+
					"The summary gives lifetime totals; the events list shows recent "+
					"attempts with outcomes and, for denials, the internal reason. "+
					"Use this to investigate suspected abuse or debug auth failures.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("Key id to report on"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Number of recent events to include (default 25, max 500)"),
			),
		),
		s.handleKeyUsage,
	)

	srv.AddTool(
		mcp.NewTool("keywarden_get_policy",
			mcp.WithDescription(
				"Get the effective policy for a tenant: delegation depth, cascade "+
					"behavior, expiration requirements, rate limits, rotation grace "+
					"caps, and usage sampling settings.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("tenant_id",
				mcp.Required(),
				mcp.Description("Tenant whose policy to fetch"),
			),
		),
		s.handleGetPolicy,
	)

	// ----- Incident-response tools -----

	srv.AddTool(
		mcp.NewTool("keywarden_suspend_key",
			mcp.WithDescription(
				"Suspend an active API key. The key stops verifying immediately but "+
					"can be reinstated later. Requires a reason code: security_concern, "+
					"abuse_detected, user_request, admin_action, policy_violation, "+
					"key_compromised, user_offboarding, scope_removed, or other.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("Key id to suspend"),
			),
			mcp.WithString("reason_code",
				mcp.Required(),
				mcp.Description("Audited reason for the suspension"),
			),
			mcp.WithString("detail",
				mcp.Description("Free-text elaboration for the audit trail"),
			),
		),
		s.handleSuspendKey,
	)

	srv.AddTool(
		mcp.NewTool("keywarden_revoke_key",
			mcp.WithDescription(
				"Permanently revoke an API key. Revocation is irreversible; when the "+
					"tenant policy enables cascade, keys descended from it through "+
					"rotation are revoked too. Requires a reason code (same set as "+
					"suspend).",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("Key id to revoke"),
			),
			mcp.WithString("reason_code",
				mcp.Required(),
				mcp.Description("Audited reason for the revocation"),
			),
			mcp.WithString("detail",
				mcp.Description("Free-text elaboration for the audit trail"),
			),
		),
		s.handleRevokeKey,
	)
}

// keySummary is the tool-facing view of a key.
type keySummary struct {
	ID                 string           `json:"id"`
	TenantID           string           `json:"tenant_id"`
	Label              string           `json:"label,omitempty"`
	Display            string           `json:"display"`
	KeyType            model.KeyType    `json:"key_type"`
	Permission         model.Permission `json:"permission"`
	ScopeType          model.ScopeType  `json:"scope_type"`
	ScopeID            *string          `json:"scope_id,omitempty"`
	State              model.KeyState   `json:"state"`
	ExpiresAt          *time.Time       `json:"expires_at,omitempty"`
	RotationGraceUntil *time.Time       `json:"rotation_grace_until,omitempty"`
	RotatedFromKeyID   *string          `json:"rotated_from_key_id,omitempty"`
	LastUsedAt         *time.Time       `json:"last_used_at,omitempty"`
}

func (s *MCPServer) summarize(ctx context.Context, key *model.APIKey) (keySummary, error) {
	state, err := s.engine.KeyState(ctx, key)
	if err != nil {
		return keySummary{}, err
	}
	return keySummary{
		ID:                 key.ID,
		TenantID:           key.TenantID,
		Label:              key.Label,
		Display:            key.Display(),
		KeyType:            key.KeyType,
		Permission:         key.Permission,
		ScopeType:          key.ScopeType,
		ScopeID:            key.ScopeID,
		State:              state,
		ExpiresAt:          key.ExpiresAt,
		RotationGraceUntil: key.RotationGraceUntil,
		RotatedFromKeyID:   key.RotatedFromKeyID,
		LastUsedAt:         key.LastUsedAt,
	}, nil
}

func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	tenantID, err := requireString(request, "tenant_id")
	if err != nil {
		return toolError("%v", err)
	}
	stateFilter := model.KeyState(optionalString(request, "state"))

	keys, err := s.engine.ListKeys(ctx, tenantID)
	if err != nil {
		return toolError("failed to list keys: %v", err)
	}

	out := make([]keySummary, 0, len(keys))
	for i := range keys {
		sum, err := s.summarize(ctx, &keys[i])
		if err != nil {
			return toolError("failed to derive key state: %v", err)
		}
		if stateFilter != "" && sum.State != stateFilter {
			continue
		}
		out = append(out, sum)
	}
	return successJSON(map[string]interface{}{
		"tenant_id": tenantID,
		"count":     len(out),
		"keys":      out,
	})
}

func (s *MCPServer) handleGetKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}

	key, err := s.engine.GetKey(ctx, keyID)
	if err != nil {
		return toolError("key %q: %v", keyID, err)
	}
	sum, err := s.summarize(ctx, key)
	if err != nil {
		return toolError("failed to derive key state: %v", err)
	}
	return successJSON(sum)
}

func (s *MCPServer) handleKeyUsage(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}
	limit := clamp(optionalInt(request, "limit", 25), 1, 500)

	summary, events, _, err := s.engine.ListUsage(ctx, keyID, limit, "")
	if err != nil {
		return toolError("key %q: %v", keyID, err)
	}
	return successJSON(map[string]interface{}{
		"summary": summary,
		"events":  events,
	})
}

func (s *MCPServer) handleGetPolicy(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	tenantID, err := requireString(request, "tenant_id")
	if err != nil {
		return toolError("%v", err)
	}
	pol, err := s.engine.Policy(ctx, tenantID)
	if err != nil {
		return toolError("tenant %q: %v", tenantID, err)
	}
	return successJSON(pol)
}

func (s *MCPServer) handleSuspendKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}
	reason, err := requireString(request, "reason_code")
	if err != nil {
		return toolError("%v", err)
	}
	detail := detailArg(request)

	key, err := s.engine.SuspendKey(ctx, keyID, model.ReasonCode(reason), detail)
	if err != nil {
		return toolError("suspend %q: %v", keyID, err)
	}
	s.logger.Info("key suspended via mcp", "key_id", keyID, "reason", reason)
	sum, err := s.summarize(ctx, key)
	if err != nil {
		return toolError("failed to derive key state: %v", err)
	}
	return successJSON(sum)
}

func (s *MCPServer) handleRevokeKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}
	reason, err := requireString(request, "reason_code")
	if err != nil {
		return toolError("%v", err)
	}
	detail := detailArg(request)

	key, err := s.engine.RevokeKey(ctx, keyID, model.ReasonCode(reason), detail)
	if err != nil {
		return toolError("revoke %q: %v", keyID, err)
	}
	s.logger.Info("key revoked via mcp", "key_id", keyID, "reason", reason)
	sum, err := s.summarize(ctx, key)
	if err != nil {
		return toolError("failed to derive key state: %v", err)
	}
	return successJSON(sum)
}

func detailArg(request mcp.CallToolRequest) *string {
	if d := optionalString(request, "detail"); d != "" {
		return &d
	}
	return nil
}

