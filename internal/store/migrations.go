package store

import (
	"fmt"
	"strings"
)

// The schema is written once with type tokens and expanded per driver, since
// the three supported databases disagree on text keys, booleans, and
// timestamp types.
//
// Tokens: {ID} short indexed text, {STR} indexed text, {TEXT} unbounded text,
// {TS} timestamp, {BOOL} boolean, {BIG} 64-bit integer.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		id {ID} PRIMARY KEY,
		tenant_id {ID} NOT NULL,
		label {STR} NOT NULL DEFAULT '',
		key_type {ID} NOT NULL,
		key_hash {STR} NOT NULL,
		key_salt {STR} NOT NULL,
		key_prefix {ID} NOT NULL,
		key_suffix {ID} NOT NULL,
		permission {ID} NOT NULL,
		scope_type {ID} NOT NULL,
		scope_id {ID},
		allowed_origins {TEXT} NOT NULL,
		allowed_ips {TEXT} NOT NULL,
		rate_limit {BIG},
		expires_at {TS},
		suspended_at {TS},
		suspended_reason {ID},
		suspended_detail {TEXT},
		revoked_at {TS},
		revoked_reason {ID},
		revoked_detail {TEXT},
		rotation_grace_until {TS},
		rotated_from_key_id {ID},
		created_at {TS} NOT NULL,
		updated_at {TS} NOT NULL,
		last_used_at {TS}
	)`,

	// The prefix is the verification lookup path; it must be unique so a
	// presented secret resolves to at most one candidate row.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_rotated_from ON api_keys(rotated_from_key_id)`,

	`CREATE TABLE IF NOT EXISTS policies (
		tenant_id {ID} PRIMARY KEY,
		max_delegation_depth {BIG} NOT NULL,
		revocation_cascade_enabled {BOOL} NOT NULL,
		require_expiration {BOOL} NOT NULL,
		max_expiration_days {BIG} NOT NULL,
		auto_expire_unused_days {BIG} NOT NULL,
		default_rate_limit {BIG} NOT NULL,
		max_rate_limit_override {BIG} NOT NULL,
		max_rotation_grace_hours {BIG} NOT NULL,
		usage_sampling_threshold {BIG} NOT NULL,
		usage_sampling_rate {BIG} NOT NULL,
		created_at {TS} NOT NULL,
		updated_at {TS} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS usage_events (
		id {ID} PRIMARY KEY,
		key_id {ID} NOT NULL,
		tenant_id {ID} NOT NULL,
		outcome {ID} NOT NULL,
		deny_reason {ID},
		action {ID} NOT NULL,
		resource {STR} NOT NULL,
		caller_ip {ID} NOT NULL DEFAULT '',
		origin {STR} NOT NULL DEFAULT '',
		method {ID} NOT NULL DEFAULT '',
		path {STR} NOT NULL DEFAULT '',
		occurred_at {TS} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_events_key_time ON usage_events(key_id, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS usage_summaries (
		key_id {ID} PRIMARY KEY,
		tenant_id {ID} NOT NULL,
		total_events {BIG} NOT NULL DEFAULT 0,
		used_events {BIG} NOT NULL DEFAULT 0,
		auth_failed_events {BIG} NOT NULL DEFAULT 0,
		sampled_used_events {BOOL} NOT NULL,
		last_seen_at {TS},
		last_success_at {TS},
		last_failure_at {TS}
	)`,

	`CREATE TABLE IF NOT EXISTS rate_counters (
		key_id {ID} NOT NULL,
		bucket {ID} NOT NULL,
		count {BIG} NOT NULL DEFAULT 0,
		PRIMARY KEY (key_id, bucket)
	)`,

	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		tenant_id {ID} NOT NULL,
		token {ID} NOT NULL,
		operation {ID} NOT NULL,
		request_hash {ID} NOT NULL,
		status {BIG} NOT NULL,
		response_json {TEXT} NOT NULL,
		created_at {TS} NOT NULL,
		PRIMARY KEY (tenant_id, token)
	)`,

	`CREATE TABLE IF NOT EXISTS admins (
		id {ID} PRIMARY KEY,
		email {ID} NOT NULL,
		password_hash {STR} NOT NULL,
		name {STR} NOT NULL DEFAULT '',
		is_active {BOOL} NOT NULL,
		is_super_admin {BOOL} NOT NULL,
		last_login_at {TS},
		created_at {TS} NOT NULL,
		updated_at {TS} NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_admins_email ON admins(email)`,

	`CREATE TABLE IF NOT EXISTS settings (
		key_name {ID} PRIMARY KEY,
		value {TEXT} NOT NULL
	)`,
}

// typeTokens maps schema tokens to concrete column types per driver.
var typeTokens = map[string]map[string]string{
	DriverSQLite: {
		"{ID}": "TEXT", "{STR}": "TEXT", "{TEXT}": "TEXT",
		"{TS}": "DATETIME", "{BOOL}": "INTEGER", "{BIG}": "INTEGER",
	},
	DriverPostgres: {
		"{ID}": "TEXT", "{STR}": "TEXT", "{TEXT}": "TEXT",
		"{TS}": "TIMESTAMPTZ", "{BOOL}": "BOOLEAN", "{BIG}": "BIGINT",
	},
	DriverMySQL: {
		"{ID}": "VARCHAR(64)", "{STR}": "VARCHAR(191)", "{TEXT}": "TEXT",
		"{TS}": "DATETIME(6)", "{BOOL}": "BOOLEAN", "{BIG}": "BIGINT",
	},
}

func (s *Store) migrate() error {
	tokens := typeTokens[s.driver]
	for _, stmt := range schema {
		expanded := stmt
		for token, typ := range tokens {
			expanded = strings.ReplaceAll(expanded, token, typ)
		}
		if s.driver == DriverMySQL {
			// MySQL predates IF NOT EXISTS on CREATE INDEX; tolerate reruns.
			expanded = strings.ReplaceAll(expanded, "INDEX IF NOT EXISTS", "INDEX")
		}
		if _, err := s.db.Exec(expanded); err != nil {
			if s.driver == DriverMySQL && strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, expanded)
		}
	}
	return nil
}
