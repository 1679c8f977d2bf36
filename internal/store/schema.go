package store

import "strings"

// commonColumns is the DDL fragment shared by every catalog entity table.
const commonColumns = `
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	team_id TEXT NOT NULL DEFAULT '',
	owner_email TEXT NOT NULL,
	visibility TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	reachable BOOLEAN NOT NULL DEFAULT TRUE,
	created_via TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL`

// schemaStatements returns the DDL in creation order. The only
// driver-specific piece is the binary column type; everything else is
// portable between SQLite and PostgreSQL.
func schemaStatements(driver string) []string {
	blobType := "BLOB"
	if driver == "postgres" {
		blobType = "BYTEA"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
	email TEXT PRIMARY KEY,
	full_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	is_platform_admin BOOLEAN NOT NULL DEFAULT FALSE,
	is_email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	failed_logins INTEGER NOT NULL DEFAULT 0,
	locked_until TIMESTAMP,
	token_epoch INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS teams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner_email TEXT NOT NULL,
	visibility TEXT NOT NULL,
	personal BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS team_members (
	team_id TEXT NOT NULL,
	user_email TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (team_id, user_email)
)`,
		`CREATE TABLE IF NOT EXISTS team_invitations (
	id TEXT PRIMARY KEY,
	team_id TEXT NOT NULL,
	invitee_email TEXT NOT NULL,
	token TEXT NOT NULL UNIQUE,
	expires_at TIMESTAMP NOT NULL,
	used_at TIMESTAMP
)`,
		`CREATE TABLE IF NOT EXISTS api_tokens (
	id TEXT PRIMARY KEY,
	user_email TEXT NOT NULL,
	name TEXT NOT NULL,
	jti TEXT NOT NULL UNIQUE,
	scope TEXT NOT NULL,
	scope_ref TEXT NOT NULL DEFAULT '',
	expires_at TIMESTAMP,
	revoked_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS auth_events (
	id TEXT PRIMARY KEY,
	user_email TEXT NOT NULL,
	event TEXT NOT NULL,
	ts TIMESTAMP NOT NULL,
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS gateways (` + commonColumns + `,
	url TEXT NOT NULL,
	transport TEXT NOT NULL,
	auth_type TEXT NOT NULL DEFAULT '',
	auth_value TEXT NOT NULL DEFAULT '',
	capabilities TEXT NOT NULL DEFAULT '{}'
)`,
		`CREATE TABLE IF NOT EXISTS tools (` + commonColumns + `,
	gateway_id TEXT,
	integration_type TEXT NOT NULL,
	input_schema TEXT NOT NULL DEFAULT '{}',
	output_schema TEXT NOT NULL DEFAULT '',
	annotations TEXT NOT NULL DEFAULT '',
	request_type TEXT NOT NULL DEFAULT '',
	base_url TEXT NOT NULL DEFAULT '',
	path_template TEXT NOT NULL DEFAULT '',
	query_mapping TEXT NOT NULL DEFAULT '{}',
	header_mapping TEXT NOT NULL DEFAULT '{}',
	allowlist TEXT NOT NULL DEFAULT '[]',
	timeout_ms INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER,
	idempotent BOOLEAN NOT NULL DEFAULT FALSE,
	expose_passthrough BOOLEAN NOT NULL DEFAULT FALSE,
	passthrough_headers TEXT NOT NULL DEFAULT '[]',
	plugin_chain_pre TEXT NOT NULL DEFAULT '[]',
	plugin_chain_post TEXT NOT NULL DEFAULT '[]'
)`,
		`CREATE TABLE IF NOT EXISTS resources (` + commonColumns + `,
	gateway_id TEXT,
	uri TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	text_content TEXT NOT NULL DEFAULT '',
	blob_content ` + blobType + `
)`,
		`CREATE TABLE IF NOT EXISTS prompts (` + commonColumns + `,
	gateway_id TEXT,
	template TEXT NOT NULL,
	arguments_schema TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS servers (` + commonColumns + `,
	icon TEXT NOT NULL DEFAULT '',
	associated_tools TEXT NOT NULL DEFAULT '[]',
	associated_resources TEXT NOT NULL DEFAULT '[]',
	associated_prompts TEXT NOT NULL DEFAULT '[]',
	associated_agents TEXT NOT NULL DEFAULT '[]'
)`,
		`CREATE TABLE IF NOT EXISTS a2a_agents (` + commonColumns + `,
	endpoint TEXT NOT NULL,
	protocol_version TEXT NOT NULL DEFAULT '',
	auth_type TEXT NOT NULL DEFAULT '',
	auth_value TEXT NOT NULL DEFAULT '',
	slug TEXT NOT NULL
)`,

		// Uniqueness keys. Federatable entities use paired partial
		// indexes because SQL UNIQUE treats NULL gateway_id values as
		// distinct: one key scopes federated rows to their origin
		// gateway, the other covers local rows.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_gateways_team_url ON gateways (team_id, url)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tools_gateway_name ON tools (gateway_id, name) WHERE gateway_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tools_local_name ON tools (name) WHERE gateway_id IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_resources_gateway_uri ON resources (gateway_id, uri) WHERE gateway_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_resources_owner_uri ON resources (team_id, owner_email, uri) WHERE gateway_id IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_prompts_gateway_name ON prompts (gateway_id, name) WHERE gateway_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_prompts_owner_name ON prompts (team_id, owner_email, name) WHERE gateway_id IS NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_servers_owner_name ON servers (team_id, owner_email, name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_owner_slug ON a2a_agents (team_id, owner_email, slug)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_owner_name ON api_tokens (user_email, name)`,

		// Query-path indexes.
		`CREATE INDEX IF NOT EXISTS idx_tools_gateway ON tools (gateway_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tools_team ON tools (team_id)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_gateway ON resources (gateway_id)`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_gateway ON prompts (gateway_id)`,
		`CREATE INDEX IF NOT EXISTS idx_members_user ON team_members (user_email)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_user ON api_tokens (user_email)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_events_user ON auth_events (user_email, ts)`,
	}

	return statements
}

// columnList returns "prefix.a, prefix.b, ..." for SELECT statements.
func columnList(prefix string, columns []string) string {
	if prefix == "" {
		return strings.Join(columns, ", ")
	}
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = prefix + "." + c
	}
	return strings.Join(parts, ", ")
}
