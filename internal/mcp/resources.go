package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keywarden/keywarden/internal/model"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// keywarden://reason-codes — the closed reason enumeration
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"keywarden://reason-codes",
			"Suspension and Revocation Reason Codes",
			mcp.WithResourceDescription(
				"The closed set of reason codes accepted by suspend and revoke "+
					"operations, for audit aggregation.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleReasonCodesResource,
	)

	// -------------------------------------------------------------------
	// keywarden://tenants/{tenant}/policy — a tenant's effective policy
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"keywarden://tenants/{tenant}/policy",
			"Tenant Policy",
			mcp.WithTemplateDescription(
				"The effective policy for one tenant: delegation depth, cascade "+
					"behavior, expiration and rate-limit caps, rotation grace, and "+
					"usage sampling settings.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handlePolicyResource,
	)
}

// handleReasonCodesResource returns the reason enumeration as JSON.
func (s *MCPServer) handleReasonCodesResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	codes := []model.ReasonCode{
		model.ReasonSecurityConcern,
		model.ReasonAbuseDetected,
		model.ReasonUserRequest,
		model.ReasonAdminAction,
		model.ReasonPolicyViolation,
		model.ReasonKeyCompromised,
		model.ReasonUserOffboarding,
		model.ReasonRotationCompleted,
		model.ReasonScopeRemoved,
		model.ReasonOther,
	}

	b, err := json.MarshalIndent(codes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reason codes: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "keywarden://reason-codes",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handlePolicyResource returns one tenant's effective policy.
func (s *MCPServer) handlePolicyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	// Extract tenant from URI: "keywarden://tenants/{tenant}/policy"
	uri := request.Params.URI
	trimmed := strings.TrimPrefix(uri, "keywarden://tenants/")
	if trimmed == uri || !strings.HasSuffix(trimmed, "/policy") {
		return nil, fmt.Errorf("invalid policy URI %q: expected keywarden://tenants/{tenant}/policy", uri)
	}
	tenantID := strings.TrimSuffix(trimmed, "/policy")
	if tenantID == "" {
		return nil, fmt.Errorf("invalid policy URI %q: empty tenant", uri)
	}

	pol, err := s.engine.Policy(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy for %q: %w", tenantID, err)
	}

	b, err := json.MarshalIndent(pol, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
