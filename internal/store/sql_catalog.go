package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

var commonColumnNames = []string{
	"id", "name", "description", "tags", "team_id", "owner_email", "visibility",
	"enabled", "reachable", "created_via", "created_by", "created_at", "updated_at",
}

func entityColumns(extra ...string) []string {
	return append(append([]string{}, commonColumnNames...), extra...)
}

var (
	toolColumns = entityColumns(
		"gateway_id", "integration_type", "input_schema", "output_schema", "annotations",
		"request_type", "base_url", "path_template", "query_mapping", "header_mapping",
		"allowlist", "timeout_ms", "max_retries", "idempotent", "expose_passthrough",
		"passthrough_headers", "plugin_chain_pre", "plugin_chain_post",
	)
	resourceColumns = entityColumns("gateway_id", "uri", "mime_type", "text_content", "blob_content")
	promptColumns   = entityColumns("gateway_id", "template", "arguments_schema")
	serverColumns   = entityColumns(
		"icon", "associated_tools", "associated_resources", "associated_prompts", "associated_agents",
	)
	gatewayColumns = entityColumns("url", "transport", "auth_type", "auth_value", "capabilities")
	agentColumns   = entityColumns("endpoint", "protocol_version", "auth_type", "auth_value", "slug")
)

func commonValues(c *Common) []any {
	return []any{
		c.ID, c.Name, c.Description, encodeJSON(c.Tags, "[]"), c.TeamID, c.OwnerEmail,
		string(c.Visibility), c.Enabled, c.Reachable, string(c.CreatedVia), c.CreatedBy,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	}
}

func commonDest(c *Common, tags *string) []any {
	return []any{
		&c.ID, &c.Name, &c.Description, tags, &c.TeamID, &c.OwnerEmail,
		&c.Visibility, &c.Enabled, &c.Reachable, &c.CreatedVia, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt,
	}
}

// commonSets is the SET fragment for the shared columns of an UPDATE; the
// id is immutable and created_at/created_via keep their original values.
const commonSets = `name = ?, description = ?, tags = ?, team_id = ?, owner_email = ?,
	visibility = ?, enabled = ?, reachable = ?, created_by = ?, updated_at = ?`

func commonSetValues(c *Common) []any {
	return []any{
		c.Name, c.Description, encodeJSON(c.Tags, "[]"), c.TeamID, c.OwnerEmail,
		string(c.Visibility), c.Enabled, c.Reachable, c.CreatedBy, c.UpdatedAt.UTC(),
	}
}

// ---- tools ----

func scanTool(row scanner) (*Tool, error) {
	var t Tool
	var tags, inputSchema, outputSchema, annotations string
	var queryMapping, headerMapping, allowlist string
	var passthrough, chainPre, chainPost string
	var gatewayID sql.NullString
	var maxRetries sql.NullInt64

	dest := append(commonDest(&t.Common, &tags),
		&gatewayID, &t.IntegrationType, &inputSchema, &outputSchema, &annotations,
		&t.RequestType, &t.BaseURL, &t.PathTemplate, &queryMapping, &headerMapping,
		&allowlist, &t.TimeoutMS, &maxRetries, &t.Idempotent, &t.ExposePassthrough,
		&passthrough, &chainPre, &chainPost,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	t.Tags = decodeStrings(tags)
	t.GatewayID = stringPtr(gatewayID)
	t.InputSchema = rawValue(inputSchema)
	t.OutputSchema = rawValue(outputSchema)
	t.Annotations = rawValue(annotations)
	t.QueryMapping = decodeStringMap(queryMapping)
	t.HeaderMapping = decodeStringMap(headerMapping)
	t.Allowlist = decodeStrings(allowlist)
	t.MaxRetries = intPtr(maxRetries)
	t.PassthroughHeaders = decodeStrings(passthrough)
	t.PluginChainPre = decodeStrings(chainPre)
	t.PluginChainPost = decodeStrings(chainPost)
	return &t, nil
}

func toolValues(t *Tool) []any {
	return append(commonValues(&t.Common),
		nullString(t.GatewayID), string(t.IntegrationType), rawColumn(t.InputSchema),
		rawColumn(t.OutputSchema), rawColumn(t.Annotations),
		string(t.RequestType), t.BaseURL, t.PathTemplate,
		encodeJSON(t.QueryMapping, "{}"), encodeJSON(t.HeaderMapping, "{}"),
		encodeJSON(t.Allowlist, "[]"), t.TimeoutMS, nullInt(t.MaxRetries),
		t.Idempotent, t.ExposePassthrough, encodeJSON(t.PassthroughHeaders, "[]"),
		encodeJSON(t.PluginChainPre, "[]"), encodeJSON(t.PluginChainPost, "[]"),
	)
}

func (s *SQLStore) CreateTool(ctx context.Context, tool *Tool) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertStatement("tools", toolColumns)), toolValues(tool)...)
	return translate(err)
}

func (s *SQLStore) GetTool(ctx context.Context, scope Scope, id string) (*Tool, error) {
	wb := &whereBuilder{}
	wb.and("id = ?", id)
	wb.scope(scope)
	query := "SELECT " + strings.Join(toolColumns, ", ") + " FROM tools" + wb.where()
	tool, err := scanTool(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return tool, nil
}

func (s *SQLStore) GetToolByName(ctx context.Context, scope Scope, gatewayID *string, name string) (*Tool, error) {
	wb := &whereBuilder{}
	wb.and("name = ?", name)
	if gatewayID == nil || *gatewayID == "" {
		wb.and("gateway_id IS NULL")
	} else {
		wb.and("gateway_id = ?", *gatewayID)
	}
	wb.scope(scope)
	query := "SELECT " + strings.Join(toolColumns, ", ") + " FROM tools" + wb.where()
	tool, err := scanTool(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return tool, nil
}

func (s *SQLStore) ListTools(ctx context.Context, scope Scope, filter Filter, page Page) ([]Tool, int, error) {
	wb := &whereBuilder{}
	wb.scope(scope)
	wb.filter(filter, KindTool)

	var tools []Tool
	total, err := s.listQuery(ctx, "tools", strings.Join(toolColumns, ", "), wb, page, func(rows *sql.Rows) error {
		tool, err := scanTool(rows)
		if err != nil {
			return err
		}
		tools = append(tools, *tool)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return tools, total, nil
}

func (s *SQLStore) UpdateTool(ctx context.Context, tool *Tool) error {
	query := `UPDATE tools SET ` + commonSets + `,
	gateway_id = ?, integration_type = ?, input_schema = ?, output_schema = ?, annotations = ?,
	request_type = ?, base_url = ?, path_template = ?, query_mapping = ?, header_mapping = ?,
	allowlist = ?, timeout_ms = ?, max_retries = ?, idempotent = ?, expose_passthrough = ?,
	passthrough_headers = ?, plugin_chain_pre = ?, plugin_chain_post = ?
	WHERE id = ?`
	args := append(commonSetValues(&tool.Common),
		nullString(tool.GatewayID), string(tool.IntegrationType), rawColumn(tool.InputSchema),
		rawColumn(tool.OutputSchema), rawColumn(tool.Annotations),
		string(tool.RequestType), tool.BaseURL, tool.PathTemplate,
		encodeJSON(tool.QueryMapping, "{}"), encodeJSON(tool.HeaderMapping, "{}"),
		encodeJSON(tool.Allowlist, "[]"), tool.TimeoutMS, nullInt(tool.MaxRetries),
		tool.Idempotent, tool.ExposePassthrough, encodeJSON(tool.PassthroughHeaders, "[]"),
		encodeJSON(tool.PluginChainPre, "[]"), encodeJSON(tool.PluginChainPost, "[]"),
		tool.ID,
	)
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) DeleteTool(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM tools WHERE id = ?"), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetToolStatus(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE tools SET enabled = ?, updated_at = ? WHERE id = ?"),
		enabled, time.Now().UTC(), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetToolsReachableByGateway(ctx context.Context, gatewayID string, reachable bool) error {
	return s.setReachableByGateway(ctx, "tools", gatewayID, reachable)
}

// DisableToolsMissingFromGateway disables every enabled tool of the given
// gateway whose name is absent from keepNames, returning how many rows
// changed. Reachable drops with enabled so a later sync can tell rows it
// disabled apart from operator-disabled ones; the bumped updated_at
// records the disable time for the purge grace period.
func (s *SQLStore) DisableToolsMissingFromGateway(ctx context.Context, gatewayID string, keepNames []string) (int, error) {
	return s.disableMissingFromGateway(ctx, "tools", "name", gatewayID, keepNames)
}

// PurgeDisabledFederatedTools deletes federated tools whose upstream
// entity has been gone since before the given instant.
func (s *SQLStore) PurgeDisabledFederatedTools(ctx context.Context, before time.Time) (int, error) {
	return s.purgeDisabledFederated(ctx, "tools", before)
}

// DeleteToolsByGateway removes every tool mirrored from the gateway.
// Runs when the gateway registration itself is deleted.
func (s *SQLStore) DeleteToolsByGateway(ctx context.Context, gatewayID string) (int, error) {
	return s.deleteByGateway(ctx, "tools", gatewayID)
}

// Shared sync plumbing for the federatable tables (tools, resources,
// prompts). The table and key column names are compile-time constants at
// every call site.

func (s *SQLStore) setReachableByGateway(ctx context.Context, table, gatewayID string, reachable bool) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE "+table+" SET reachable = ?, updated_at = ? WHERE gateway_id = ?"),
		reachable, time.Now().UTC(), gatewayID)
	return translate(err)
}

func (s *SQLStore) disableMissingFromGateway(ctx context.Context, table, keyColumn, gatewayID string, keep []string) (int, error) {
	wb := &whereBuilder{}
	wb.and("gateway_id = ?", gatewayID)
	wb.and("enabled = ?", true)
	if len(keep) > 0 {
		wb.and(keyColumn+" NOT IN ("+placeholders(len(keep))+")", toAny(keep)...)
	}
	args := append([]any{false, false, time.Now().UTC()}, wb.args...)
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE "+table+" SET enabled = ?, reachable = ?, updated_at = ?"+wb.where()), args...)
	if err != nil {
		return 0, translate(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// purgeDisabledFederated deletes rows that a sync disabled (both enabled
// and reachable cleared) before the cutoff. Operator-disabled rows keep
// reachable set while the upstream entity exists and are never purged.
func (s *SQLStore) purgeDisabledFederated(ctx context.Context, table string, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM "+table+" WHERE gateway_id IS NOT NULL AND enabled = ? AND reachable = ? AND updated_at < ?"),
		false, false, before.UTC())
	if err != nil {
		return 0, translate(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) deleteByGateway(ctx context.Context, table, gatewayID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM "+table+" WHERE gateway_id = ?"), gatewayID)
	if err != nil {
		return 0, translate(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---- resources ----

func scanResource(row scanner) (*Resource, error) {
	var r Resource
	var tags string
	var gatewayID sql.NullString
	var blob []byte

	dest := append(commonDest(&r.Common, &tags), &gatewayID, &r.URI, &r.MimeType, &r.Text, &blob)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.Tags = decodeStrings(tags)
	r.GatewayID = stringPtr(gatewayID)
	r.Blob = blob
	return &r, nil
}

func resourceValues(r *Resource) []any {
	return append(commonValues(&r.Common), nullString(r.GatewayID), r.URI, r.MimeType, r.Text, r.Blob)
}

func (s *SQLStore) CreateResource(ctx context.Context, resource *Resource) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertStatement("resources", resourceColumns)), resourceValues(resource)...)
	return translate(err)
}

func (s *SQLStore) GetResource(ctx context.Context, scope Scope, id string) (*Resource, error) {
	wb := &whereBuilder{}
	wb.and("id = ?", id)
	wb.scope(scope)
	query := "SELECT " + strings.Join(resourceColumns, ", ") + " FROM resources" + wb.where()
	resource, err := scanResource(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return resource, nil
}

// GetResourceByURI resolves a URI within the caller's visibility. The
// uniqueness key includes the owner, so the same URI may exist for several
// owners; the newest visible row wins.
func (s *SQLStore) GetResourceByURI(ctx context.Context, scope Scope, uri string) (*Resource, error) {
	wb := &whereBuilder{}
	wb.and("uri = ?", uri)
	wb.scope(scope)
	query := "SELECT " + strings.Join(resourceColumns, ", ") + " FROM resources" + wb.where() +
		" ORDER BY created_at DESC, id DESC LIMIT 1"
	resource, err := scanResource(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return resource, nil
}

func (s *SQLStore) ListResources(ctx context.Context, scope Scope, filter Filter, page Page) ([]Resource, int, error) {
	wb := &whereBuilder{}
	wb.scope(scope)
	wb.filter(filter, KindResource)

	var resources []Resource
	total, err := s.listQuery(ctx, "resources", strings.Join(resourceColumns, ", "), wb, page, func(rows *sql.Rows) error {
		resource, err := scanResource(rows)
		if err != nil {
			return err
		}
		resources = append(resources, *resource)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return resources, total, nil
}

func (s *SQLStore) UpdateResource(ctx context.Context, resource *Resource) error {
	query := `UPDATE resources SET ` + commonSets + `,
	gateway_id = ?, uri = ?, mime_type = ?, text_content = ?, blob_content = ?
	WHERE id = ?`
	args := append(commonSetValues(&resource.Common),
		nullString(resource.GatewayID), resource.URI, resource.MimeType, resource.Text, resource.Blob,
		resource.ID)
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) DeleteResource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM resources WHERE id = ?"), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetResourceStatus(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE resources SET enabled = ?, updated_at = ? WHERE id = ?"),
		enabled, time.Now().UTC(), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetResourcesReachableByGateway(ctx context.Context, gatewayID string, reachable bool) error {
	return s.setReachableByGateway(ctx, "resources", gatewayID, reachable)
}

// DisableResourcesMissingFromGateway disables enabled resources of the
// gateway whose URI is absent from keepURIs.
func (s *SQLStore) DisableResourcesMissingFromGateway(ctx context.Context, gatewayID string, keepURIs []string) (int, error) {
	return s.disableMissingFromGateway(ctx, "resources", "uri", gatewayID, keepURIs)
}

// PurgeDisabledFederatedResources deletes federated resources whose
// upstream entity has been gone since before the given instant.
func (s *SQLStore) PurgeDisabledFederatedResources(ctx context.Context, before time.Time) (int, error) {
	return s.purgeDisabledFederated(ctx, "resources", before)
}

// DeleteResourcesByGateway removes every resource mirrored from the
// gateway.
func (s *SQLStore) DeleteResourcesByGateway(ctx context.Context, gatewayID string) (int, error) {
	return s.deleteByGateway(ctx, "resources", gatewayID)
}

// ---- prompts ----

func scanPrompt(row scanner) (*Prompt, error) {
	var p Prompt
	var tags, argumentsSchema string
	var gatewayID sql.NullString

	dest := append(commonDest(&p.Common, &tags), &gatewayID, &p.Template, &argumentsSchema)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.Tags = decodeStrings(tags)
	p.GatewayID = stringPtr(gatewayID)
	p.ArgumentsSchema = rawValue(argumentsSchema)
	return &p, nil
}

func promptValues(p *Prompt) []any {
	return append(commonValues(&p.Common), nullString(p.GatewayID), p.Template, rawColumn(p.ArgumentsSchema))
}

func (s *SQLStore) CreatePrompt(ctx context.Context, prompt *Prompt) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertStatement("prompts", promptColumns)), promptValues(prompt)...)
	return translate(err)
}

func (s *SQLStore) GetPrompt(ctx context.Context, scope Scope, id string) (*Prompt, error) {
	wb := &whereBuilder{}
	wb.and("id = ?", id)
	wb.scope(scope)
	query := "SELECT " + strings.Join(promptColumns, ", ") + " FROM prompts" + wb.where()
	prompt, err := scanPrompt(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return prompt, nil
}

// GetPromptByName resolves a prompt name within the caller's visibility;
// the newest visible row wins when several owners share the name.
func (s *SQLStore) GetPromptByName(ctx context.Context, scope Scope, name string) (*Prompt, error) {
	wb := &whereBuilder{}
	wb.and("name = ?", name)
	wb.scope(scope)
	query := "SELECT " + strings.Join(promptColumns, ", ") + " FROM prompts" + wb.where() +
		" ORDER BY created_at DESC, id DESC LIMIT 1"
	prompt, err := scanPrompt(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return prompt, nil
}

func (s *SQLStore) ListPrompts(ctx context.Context, scope Scope, filter Filter, page Page) ([]Prompt, int, error) {
	wb := &whereBuilder{}
	wb.scope(scope)
	wb.filter(filter, KindPrompt)

	var prompts []Prompt
	total, err := s.listQuery(ctx, "prompts", strings.Join(promptColumns, ", "), wb, page, func(rows *sql.Rows) error {
		prompt, err := scanPrompt(rows)
		if err != nil {
			return err
		}
		prompts = append(prompts, *prompt)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return prompts, total, nil
}

func (s *SQLStore) UpdatePrompt(ctx context.Context, prompt *Prompt) error {
	query := `UPDATE prompts SET ` + commonSets + `,
	gateway_id = ?, template = ?, arguments_schema = ?
	WHERE id = ?`
	args := append(commonSetValues(&prompt.Common),
		nullString(prompt.GatewayID), prompt.Template, rawColumn(prompt.ArgumentsSchema), prompt.ID)
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) DeletePrompt(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM prompts WHERE id = ?"), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetPromptStatus(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE prompts SET enabled = ?, updated_at = ? WHERE id = ?"),
		enabled, time.Now().UTC(), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetPromptsReachableByGateway(ctx context.Context, gatewayID string, reachable bool) error {
	return s.setReachableByGateway(ctx, "prompts", gatewayID, reachable)
}

// DisablePromptsMissingFromGateway disables enabled prompts of the gateway
// whose name is absent from keepNames.
func (s *SQLStore) DisablePromptsMissingFromGateway(ctx context.Context, gatewayID string, keepNames []string) (int, error) {
	return s.disableMissingFromGateway(ctx, "prompts", "name", gatewayID, keepNames)
}

// PurgeDisabledFederatedPrompts deletes federated prompts whose upstream
// entity has been gone since before the given instant.
func (s *SQLStore) PurgeDisabledFederatedPrompts(ctx context.Context, before time.Time) (int, error) {
	return s.purgeDisabledFederated(ctx, "prompts", before)
}

// DeletePromptsByGateway removes every prompt mirrored from the gateway.
func (s *SQLStore) DeletePromptsByGateway(ctx context.Context, gatewayID string) (int, error) {
	return s.deleteByGateway(ctx, "prompts", gatewayID)
}

// ---- virtual servers ----

func scanServer(row scanner) (*VirtualServer, error) {
	var v VirtualServer
	var tags, tools, resources, prompts, agents string

	dest := append(commonDest(&v.Common, &tags), &v.Icon, &tools, &resources, &prompts, &agents)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	v.Tags = decodeStrings(tags)
	v.AssociatedTools = decodeStrings(tools)
	v.AssociatedResources = decodeStrings(resources)
	v.AssociatedPrompts = decodeStrings(prompts)
	v.AssociatedAgents = decodeStrings(agents)
	return &v, nil
}

func serverValues(v *VirtualServer) []any {
	return append(commonValues(&v.Common),
		v.Icon, encodeJSON(v.AssociatedTools, "[]"), encodeJSON(v.AssociatedResources, "[]"),
		encodeJSON(v.AssociatedPrompts, "[]"), encodeJSON(v.AssociatedAgents, "[]"),
	)
}

func (s *SQLStore) CreateServer(ctx context.Context, server *VirtualServer) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertStatement("servers", serverColumns)), serverValues(server)...)
	return translate(err)
}

func (s *SQLStore) GetServer(ctx context.Context, scope Scope, id string) (*VirtualServer, error) {
	wb := &whereBuilder{}
	wb.and("id = ?", id)
	wb.scope(scope)
	query := "SELECT " + strings.Join(serverColumns, ", ") + " FROM servers" + wb.where()
	server, err := scanServer(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return server, nil
}

func (s *SQLStore) ListServers(ctx context.Context, scope Scope, filter Filter, page Page) ([]VirtualServer, int, error) {
	wb := &whereBuilder{}
	wb.scope(scope)
	wb.filter(filter, KindServer)

	var servers []VirtualServer
	total, err := s.listQuery(ctx, "servers", strings.Join(serverColumns, ", "), wb, page, func(rows *sql.Rows) error {
		server, err := scanServer(rows)
		if err != nil {
			return err
		}
		servers = append(servers, *server)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return servers, total, nil
}

func (s *SQLStore) UpdateServer(ctx context.Context, server *VirtualServer) error {
	query := `UPDATE servers SET ` + commonSets + `,
	icon = ?, associated_tools = ?, associated_resources = ?, associated_prompts = ?, associated_agents = ?
	WHERE id = ?`
	args := append(commonSetValues(&server.Common),
		server.Icon, encodeJSON(server.AssociatedTools, "[]"), encodeJSON(server.AssociatedResources, "[]"),
		encodeJSON(server.AssociatedPrompts, "[]"), encodeJSON(server.AssociatedAgents, "[]"),
		server.ID,
	)
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM servers WHERE id = ?"), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetServerStatus(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE servers SET enabled = ?, updated_at = ? WHERE id = ?"),
		enabled, time.Now().UTC(), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

// ---- peer gateways ----

func scanGateway(row scanner) (*Gateway, error) {
	var g Gateway
	var tags, capabilities string

	dest := append(commonDest(&g.Common, &tags), &g.URL, &g.Transport, &g.AuthType, &g.AuthValue, &capabilities)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	g.Tags = decodeStrings(tags)
	g.Capabilities = rawValue(capabilities)
	return &g, nil
}

func gatewayValues(g *Gateway) []any {
	return append(commonValues(&g.Common),
		g.URL, string(g.Transport), string(g.AuthType), g.AuthValue, rawColumn(g.Capabilities))
}

func (s *SQLStore) CreateGateway(ctx context.Context, gateway *Gateway) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertStatement("gateways", gatewayColumns)), gatewayValues(gateway)...)
	return translate(err)
}

func (s *SQLStore) GetGateway(ctx context.Context, scope Scope, id string) (*Gateway, error) {
	wb := &whereBuilder{}
	wb.and("id = ?", id)
	wb.scope(scope)
	query := "SELECT " + strings.Join(gatewayColumns, ", ") + " FROM gateways" + wb.where()
	gateway, err := scanGateway(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return gateway, nil
}

func (s *SQLStore) ListGateways(ctx context.Context, scope Scope, filter Filter, page Page) ([]Gateway, int, error) {
	wb := &whereBuilder{}
	wb.scope(scope)
	wb.filter(filter, KindGateway)

	var gateways []Gateway
	total, err := s.listQuery(ctx, "gateways", strings.Join(gatewayColumns, ", "), wb, page, func(rows *sql.Rows) error {
		gateway, err := scanGateway(rows)
		if err != nil {
			return err
		}
		gateways = append(gateways, *gateway)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return gateways, total, nil
}

func (s *SQLStore) UpdateGateway(ctx context.Context, gateway *Gateway) error {
	query := `UPDATE gateways SET ` + commonSets + `,
	url = ?, transport = ?, auth_type = ?, auth_value = ?, capabilities = ?
	WHERE id = ?`
	args := append(commonSetValues(&gateway.Common),
		gateway.URL, string(gateway.Transport), string(gateway.AuthType), gateway.AuthValue,
		rawColumn(gateway.Capabilities), gateway.ID,
	)
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) DeleteGateway(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM gateways WHERE id = ?"), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetGatewayStatus(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE gateways SET enabled = ?, updated_at = ? WHERE id = ?"),
		enabled, time.Now().UTC(), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetGatewayReachable(ctx context.Context, id string, reachable bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE gateways SET reachable = ?, updated_at = ? WHERE id = ?"),
		reachable, time.Now().UTC(), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

// ---- a2a agents ----

func scanAgent(row scanner) (*A2AAgent, error) {
	var a A2AAgent
	var tags string

	dest := append(commonDest(&a.Common, &tags), &a.Endpoint, &a.ProtocolVersion, &a.AuthType, &a.AuthValue, &a.Slug)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	a.Tags = decodeStrings(tags)
	return &a, nil
}

func agentValues(a *A2AAgent) []any {
	return append(commonValues(&a.Common),
		a.Endpoint, a.ProtocolVersion, string(a.AuthType), a.AuthValue, a.Slug)
}

func (s *SQLStore) CreateAgent(ctx context.Context, agent *A2AAgent) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertStatement("a2a_agents", agentColumns)), agentValues(agent)...)
	return translate(err)
}

func (s *SQLStore) GetAgent(ctx context.Context, scope Scope, id string) (*A2AAgent, error) {
	wb := &whereBuilder{}
	wb.and("id = ?", id)
	wb.scope(scope)
	query := "SELECT " + strings.Join(agentColumns, ", ") + " FROM a2a_agents" + wb.where()
	agent, err := scanAgent(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return agent, nil
}

// GetAgentBySlug resolves a slug within the caller's visibility; the
// newest visible row wins when several owners share the slug.
func (s *SQLStore) GetAgentBySlug(ctx context.Context, scope Scope, slug string) (*A2AAgent, error) {
	wb := &whereBuilder{}
	wb.and("slug = ?", slug)
	wb.scope(scope)
	query := "SELECT " + strings.Join(agentColumns, ", ") + " FROM a2a_agents" + wb.where() +
		" ORDER BY created_at DESC, id DESC LIMIT 1"
	agent, err := scanAgent(s.db.QueryRowContext(ctx, s.rebind(query), wb.args...))
	if err != nil {
		return nil, translate(err)
	}
	return agent, nil
}

func (s *SQLStore) ListAgents(ctx context.Context, scope Scope, filter Filter, page Page) ([]A2AAgent, int, error) {
	wb := &whereBuilder{}
	wb.scope(scope)
	wb.filter(filter, KindAgent)

	var agents []A2AAgent
	total, err := s.listQuery(ctx, "a2a_agents", strings.Join(agentColumns, ", "), wb, page, func(rows *sql.Rows) error {
		agent, err := scanAgent(rows)
		if err != nil {
			return err
		}
		agents = append(agents, *agent)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return agents, total, nil
}

func (s *SQLStore) UpdateAgent(ctx context.Context, agent *A2AAgent) error {
	query := `UPDATE a2a_agents SET ` + commonSets + `,
	endpoint = ?, protocol_version = ?, auth_type = ?, auth_value = ?, slug = ?
	WHERE id = ?`
	args := append(commonSetValues(&agent.Common),
		agent.Endpoint, agent.ProtocolVersion, string(agent.AuthType), agent.AuthValue, agent.Slug,
		agent.ID,
	)
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM a2a_agents WHERE id = ?"), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (s *SQLStore) SetAgentStatus(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE a2a_agents SET enabled = ?, updated_at = ? WHERE id = ?"),
		enabled, time.Now().UTC(), id)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}
