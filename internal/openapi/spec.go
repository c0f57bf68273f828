package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// GenerateSpec builds the OpenAPI 3.1 document for the admin and
// verification API. The surface is fixed, so the document is assembled from
// static schemas rather than introspection.
func GenerateSpec(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keywarden API",
			Description: "Scoped API-key lifecycle and authorization engine.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"bearerAuth": {}},
	}

	doc.Components.Schemas["ErrorResponse"] = errorResponseSchema()
	doc.Components.Schemas["APIKey"] = apiKeySchema()
	doc.Components.Schemas["Policy"] = policySchema()
	doc.Components.Schemas["UsageSummary"] = usageSummarySchema()
	doc.Components.Schemas["UsageEvent"] = usageEventSchema()
	doc.Components.Schemas["VerifyResult"] = verifyResultSchema()

	doc.Paths = openapi3.NewPaths()
	addSessionPaths(doc)
	addKeyPaths(doc)
	addPolicyPaths(doc)
	addVerifyPath(doc)

	return doc
}

func addSessionPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "Operator login",
			Description: "Authenticate an operator account and receive a JWT session token.",
			OperationID: "login",
			Security:    &openapi3.SecurityRequirements{},
			RequestBody: jsonRequestBody("Operator credentials", objectSchema(map[string]*openapi3.SchemaRef{
				"email":    stringSchema(""),
				"password": stringSchema(""),
			})),
			Responses: newResponses("200", "Session token", objectSchema(map[string]*openapi3.SchemaRef{
				"session_token": stringSchema(""),
				"token_type":    stringSchema(""),
				"expires_in":    intSchema(),
			})),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "Operator logout",
			OperationID: "logout",
			Responses:   newResponses("200", "Session invalidated", objectSchema(nil)),
		},
	})
}

func addKeyPaths(doc *openapi3.T) {
	keyRef := openapi3.NewSchemaRef("#/components/schemas/APIKey", nil)

	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List keys",
			Description: "List all keys for a tenant with their derived lifecycle states.",
			OperationID: "list_keys",
			Parameters: openapi3.Parameters{
				queryParam("tenant_id", "Owning tenant", true),
				queryParam("state", "Filter by derived state", false),
			},
			Responses: newResponses("200", "Keys for the tenant", listSchema(keyRef)),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Create key",
			Description: "Mint a new API key. The raw secret appears in this response only and is never retrievable again. Supply an Idempotency-Key header to make retries safe.",
			OperationID: "create_key",
			RequestBody: jsonRequestBody("Key definition", objectSchema(map[string]*openapi3.SchemaRef{
				"tenant_id":       stringSchema(""),
				"label":           stringSchema(""),
				"key_type":        stringSchema("secret or public"),
				"permission":      stringSchema("read, write, or admin"),
				"scope_type":      stringSchema("tenant, space, assistant, or app"),
				"scope_id":        stringSchema(""),
				"allowed_origins": arraySchema(stringSchema("")),
				"allowed_ips":     arraySchema(stringSchema("")),
				"expires_at":      stringSchema("RFC 3339 timestamp"),
				"rate_limit":      intSchema(),
			})),
			Responses: newResponses("201", "Created key with one-time secret", keyRef),
		},
	})

	doc.Paths.Set("/api/v1/keys/{keyID}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Get key",
			OperationID: "get_key",
			Parameters:  openapi3.Parameters{pathParam("keyID")},
			Responses:   newResponses("200", "Key with derived state", keyRef),
		},
	})

	reasonBody := jsonRequestBody("Audited reason", objectSchema(map[string]*openapi3.SchemaRef{
		"reason_code": stringSchema("Closed reason enumeration"),
		"detail":      stringSchema("Free-text elaboration"),
	}))

	doc.Paths.Set("/api/v1/keys/{keyID}/rotate", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Rotate key",
			Description: "Mint a successor key with identical constraints. The predecessor keeps verifying until the grace window closes.",
			OperationID: "rotate_key",
			Parameters:  openapi3.Parameters{pathParam("keyID")},
			RequestBody: jsonRequestBody("Optional grace override", objectSchema(map[string]*openapi3.SchemaRef{
				"grace_hours": intSchema(),
			})),
			Responses: newResponses("201", "Successor key with one-time secret", keyRef),
		},
	})
	doc.Paths.Set("/api/v1/keys/{keyID}/suspend", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Suspend key",
			OperationID: "suspend_key",
			Parameters:  openapi3.Parameters{pathParam("keyID")},
			RequestBody: reasonBody,
			Responses:   newResponses("200", "Suspended key", keyRef),
		},
	})
	doc.Paths.Set("/api/v1/keys/{keyID}/reinstate", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Reinstate key",
			OperationID: "reinstate_key",
			Parameters:  openapi3.Parameters{pathParam("keyID")},
			Responses:   newResponses("200", "Reinstated key", keyRef),
		},
	})
	doc.Paths.Set("/api/v1/keys/{keyID}/revoke", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Revoke key",
			Description: "Permanently revoke a key. Cascades through rotation descendants when the tenant policy enables it.",
			OperationID: "revoke_key",
			Parameters:  openapi3.Parameters{pathParam("keyID")},
			RequestBody: reasonBody,
			Responses:   newResponses("200", "Revoked key", keyRef),
		},
	})
	doc.Paths.Set("/api/v1/keys/{keyID}/usage", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Key usage",
			Description: "Rolled-up usage summary plus one page of raw events, newest first.",
			OperationID: "key_usage",
			Parameters: openapi3.Parameters{
				pathParam("keyID"),
				queryParam("limit", "Page size, max 500", false),
				queryParam("cursor", "Opaque cursor from the previous page", false),
			},
			Responses: newResponses("200", "Usage report", objectSchema(map[string]*openapi3.SchemaRef{
				"summary": openapi3.NewSchemaRef("#/components/schemas/UsageSummary", nil),
				"events": arraySchema(
					openapi3.NewSchemaRef("#/components/schemas/UsageEvent", nil)),
			})),
		},
	})
}

func addPolicyPaths(doc *openapi3.T) {
	policyRef := openapi3.NewSchemaRef("#/components/schemas/Policy", nil)
	doc.Paths.Set("/api/v1/tenants/{tenantID}/policy", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"policies"},
			Summary:     "Get tenant policy",
			OperationID: "get_policy",
			Parameters:  openapi3.Parameters{pathParam("tenantID")},
			Responses:   newResponses("200", "Effective tenant policy", policyRef),
		},
		Put: &openapi3.Operation{
			Tags:        []string{"policies"},
			Summary:     "Update tenant policy",
			OperationID: "update_policy",
			Parameters:  openapi3.Parameters{pathParam("tenantID")},
			RequestBody: jsonRequestBody("Policy fields to change", policyRef),
			Responses:   newResponses("200", "Updated policy", policyRef),
		},
	})
}

func addVerifyPath(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/verify", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"verify"},
			Summary:     "Verify a credential",
			Description: "Resolve a presented secret and decide whether the requested action on the requested resource is allowed. Denials are uniform.",
			OperationID: "verify",
			Security:    &openapi3.SecurityRequirements{},
			RequestBody: jsonRequestBody("Authorization question", objectSchema(map[string]*openapi3.SchemaRef{
				"secret": stringSchema("The raw API key"),
				"action": stringSchema("read, write, or admin"),
				"resource": objectSchema(map[string]*openapi3.SchemaRef{
					"type":      stringSchema("space, assistant, app, or document"),
					"id":        stringSchema(""),
					"tenant_id": stringSchema(""),
					"space_id":  stringSchema("Owning space for nested resources"),
				}),
				"origin":    stringSchema("Browser Origin header, public keys"),
				"caller_ip": stringSchema(""),
				"method":    stringSchema(""),
				"path":      stringSchema(""),
			})),
			Responses: newResponses("200", "Allowed",
				openapi3.NewSchemaRef("#/components/schemas/VerifyResult", nil)),
		},
	})
}

// ─── Schema Builders ────────────────────────────────────────────────────────

func apiKeySchema() *openapi3.SchemaRef {
	return objectSchema(map[string]*openapi3.SchemaRef{
		"id":                   stringSchema(""),
		"tenant_id":            stringSchema(""),
		"label":                stringSchema(""),
		"key_type":             stringSchema("secret or public"),
		"key_prefix":           stringSchema("Display and lookup prefix"),
		"key_suffix":           stringSchema("Last characters for display"),
		"secret":               stringSchema("Raw secret, present only on create and rotate"),
		"permission":           stringSchema(""),
		"scope_type":           stringSchema(""),
		"scope_id":             stringSchema(""),
		"state":                stringSchema("active, suspended, revoked, or expired"),
		"allowed_origins":      arraySchema(stringSchema("")),
		"allowed_ips":          arraySchema(stringSchema("")),
		"rate_limit":           intSchema(),
		"expires_at":           stringSchema(""),
		"rotation_grace_until": stringSchema(""),
		"rotated_from_key_id":  stringSchema(""),
		"created_at":           stringSchema(""),
		"last_used_at":         stringSchema(""),
	})
}

func policySchema() *openapi3.SchemaRef {
	return objectSchema(map[string]*openapi3.SchemaRef{
		"tenant_id":                  stringSchema(""),
		"max_delegation_depth":       intSchema(),
		"revocation_cascade_enabled": boolSchema(),
		"require_expiration":         boolSchema(),
		"max_expiration_days":        intSchema(),
		"auto_expire_unused_days":    intSchema(),
		"default_rate_limit":         intSchema(),
		"max_rate_limit_override":    intSchema(),
		"max_rotation_grace_hours":   intSchema(),
		"usage_sampling_threshold":   intSchema(),
		"usage_sampling_rate":        intSchema(),
	})
}

func usageSummarySchema() *openapi3.SchemaRef {
	return objectSchema(map[string]*openapi3.SchemaRef{
		"key_id":              stringSchema(""),
		"tenant_id":           stringSchema(""),
		"total_events":        intSchema(),
		"used_events":         intSchema(),
		"auth_failed_events":  intSchema(),
		"sampled_used_events": boolSchema(),
		"last_seen_at":        stringSchema(""),
		"last_success_at":     stringSchema(""),
		"last_failure_at":     stringSchema(""),
	})
}

func usageEventSchema() *openapi3.SchemaRef {
	return objectSchema(map[string]*openapi3.SchemaRef{
		"id":          stringSchema("Time-ordered id, doubles as pagination cursor"),
		"key_id":      stringSchema(""),
		"tenant_id":   stringSchema(""),
		"outcome":     stringSchema("success or auth_failed"),
		"deny_reason": stringSchema("Operator-side denial detail"),
		"action":      stringSchema(""),
		"resource":    stringSchema(""),
		"caller_ip":   stringSchema(""),
		"origin":      stringSchema(""),
		"method":      stringSchema(""),
		"path":        stringSchema(""),
		"occurred_at": stringSchema(""),
	})
}

func verifyResultSchema() *openapi3.SchemaRef {
	return objectSchema(map[string]*openapi3.SchemaRef{
		"outcome":    stringSchema("allow, denied, or rate_limited"),
		"key_id":     stringSchema(""),
		"tenant_id":  stringSchema(""),
		"permission": stringSchema(""),
		"scope_type": stringSchema(""),
		"scope_id":   stringSchema(""),
		"message":    stringSchema(""),
	})
}

func errorResponseSchema() *openapi3.SchemaRef {
	return objectSchema(map[string]*openapi3.SchemaRef{
		"error": objectSchema(map[string]*openapi3.SchemaRef{
			"code":    {Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
			"message": stringSchema(""),
			"context": objectSchema(nil),
		}),
	})
}

// ─── Primitive Helpers ──────────────────────────────────────────────────────

func stringSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Description: description,
	}}
}

func intSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}
}

func boolSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

func arraySchema(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: items,
	}}
}

func objectSchema(props map[string]*openapi3.SchemaRef) *openapi3.SchemaRef {
	s := &openapi3.Schema{Type: &openapi3.Types{"object"}}
	if props != nil {
		s.Properties = openapi3.Schemas{}
		for name, ref := range props {
			s.Properties[name] = ref
		}
	}
	return &openapi3.SchemaRef{Value: s}
}

func listSchema(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return objectSchema(map[string]*openapi3.SchemaRef{
		"resource": arraySchema(items),
		"meta":     metaSchema(),
	})
}

func metaSchema() *openapi3.SchemaRef {
	return objectSchema(map[string]*openapi3.SchemaRef{
		"count":       intSchema(),
		"limit":       intSchema(),
		"next_cursor": stringSchema(""),
	})
}

func queryParam(name, description string, required bool) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:        name,
		In:          "query",
		Description: description,
		Required:    required,
		Schema:      stringSchema(""),
	}}
}

func pathParam(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:     name,
		In:       "path",
		Required: true,
		Schema:   stringSchema(""),
	}}
}

func jsonRequestBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Description: description,
		Required:    true,
		Content:     openapi3.NewContentWithJSONSchemaRef(schema),
	}}
}

func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for code, desc := range map[string]string{
		"400": "Bad request",
		"401": "Unauthorized",
		"404": "Not found",
		"409": "Conflict",
		"422": "Policy violation",
	} {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}

	return responses
}
