package gatewaysrv

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// syncPageSize is the window used when walking catalog listings.
const syncPageSize = 200

// syncSurface reconciles the surface's tables with the catalog. Without
// force it is a no-op unless a relevant generation counter moved since
// the last pass.
func (e *Engine) syncSurface(ctx context.Context, sf *surface, force bool) error {
	want := map[store.EntityKind]int64{
		store.KindTool:     e.catalog.Generation(ctx, store.KindTool),
		store.KindResource: e.catalog.Generation(ctx, store.KindResource),
		store.KindPrompt:   e.catalog.Generation(ctx, store.KindPrompt),
		store.KindGateway:  e.catalog.Generation(ctx, store.KindGateway),
	}
	if sf.serverID != "" {
		want[store.KindServer] = e.catalog.Generation(ctx, store.KindServer)
	}

	if !force {
		sf.mu.Lock()
		stale := false
		for k, g := range want {
			if sf.gens[k] != g {
				stale = true
				break
			}
		}
		sf.mu.Unlock()
		if !stale {
			return nil
		}
	}

	// Targets are recorded before listing: a mutation landing mid-sync
	// moves the counters again and the next pass picks it up.
	assoc, err := e.associations(ctx, sf)
	if err != nil {
		return err
	}
	tools, err := e.desiredTools(ctx, sf, assoc)
	if err != nil {
		return err
	}
	resources, err := e.desiredResources(ctx, sf, assoc)
	if err != nil {
		return err
	}
	prompts, err := e.desiredPrompts(ctx, sf, assoc)
	if err != nil {
		return err
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()
	e.applyTools(sf, tools)
	e.applyResources(sf, resources)
	e.applyPrompts(sf, prompts)
	sf.gens = want
	return nil
}

type associations struct {
	tools     map[string]struct{}
	resources map[string]struct{}
	prompts   map[string]struct{}
}

// associations returns the virtual server's member sets, or nil for the
// root scope. A deleted, disabled, or no-longer-visible server drains
// to empty sets so live sessions see an empty catalog instead of a
// stale one.
func (e *Engine) associations(ctx context.Context, sf *surface) (*associations, error) {
	if sf.serverID == "" {
		return nil, nil
	}
	vs, err := e.catalog.GetServer(ctx, sf.actor, sf.serverID)
	if err != nil || !vs.Enabled {
		return &associations{
			tools:     map[string]struct{}{},
			resources: map[string]struct{}{},
			prompts:   map[string]struct{}{},
		}, nil
	}
	return &associations{
		tools:     idSet(vs.AssociatedTools),
		resources: idSet(vs.AssociatedResources),
		prompts:   idSet(vs.AssociatedPrompts),
	}, nil
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// wireTool pairs a catalog row with the name clients address it by,
// which is the qualified form for federated rows.
type wireTool struct {
	row  *store.Tool
	name string
}

func (e *Engine) desiredTools(ctx context.Context, sf *surface, assoc *associations) (map[string]wireTool, error) {
	rows, err := e.listTools(ctx, sf.actor)
	if err != nil {
		return nil, err
	}
	var gatewayNames map[string]string
	out := make(map[string]wireTool, len(rows))
	for i := range rows {
		row := &rows[i]
		if assoc != nil {
			if _, ok := assoc.tools[row.ID]; !ok {
				continue
			}
		}
		name := row.Name
		if row.Federated() {
			if gatewayNames == nil {
				gatewayNames, err = e.gatewayNames(ctx)
				if err != nil {
					return nil, err
				}
			}
			gwName, ok := gatewayNames[*row.GatewayID]
			if !ok {
				continue
			}
			name = e.catalog.QualifiedName(gwName, row.Name)
		}
		out[name] = wireTool{row: row, name: name}
	}
	return out, nil
}

func (e *Engine) desiredResources(ctx context.Context, sf *surface, assoc *associations) (map[string]*store.Resource, error) {
	rows, err := e.listResources(ctx, sf.actor)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*store.Resource, len(rows))
	for i := range rows {
		row := &rows[i]
		if assoc != nil {
			if _, ok := assoc.resources[row.ID]; !ok {
				continue
			}
		}
		out[row.URI] = row
	}
	return out, nil
}

func (e *Engine) desiredPrompts(ctx context.Context, sf *surface, assoc *associations) (map[string]*store.Prompt, error) {
	rows, err := e.listPrompts(ctx, sf.actor)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*store.Prompt, len(rows))
	for i := range rows {
		row := &rows[i]
		if assoc != nil {
			if _, ok := assoc.prompts[row.ID]; !ok {
				continue
			}
		}
		out[row.Name] = row
	}
	return out, nil
}

// applyTools diffs the desired table against the registered one. The
// transport library notifies connected sessions about list changes on
// its own. Callers hold sf.mu.
func (e *Engine) applyTools(sf *surface, desired map[string]wireTool) {
	var gone []string
	for name := range sf.tools {
		if _, ok := desired[name]; !ok {
			gone = append(gone, name)
		}
	}
	if len(gone) > 0 {
		sf.srv.DeleteTools(gone...)
		for _, name := range gone {
			delete(sf.tools, name)
		}
	}
	for name, wt := range desired {
		stamp := entityStamp{id: wt.row.ID, updated: wt.row.UpdatedAt}
		if cur, ok := sf.tools[name]; ok && cur == stamp {
			continue
		}
		sf.srv.AddTool(wireToolSpec(wt), e.toolHandler(sf))
		sf.tools[name] = stamp
	}
}

func (e *Engine) applyResources(sf *surface, desired map[string]*store.Resource) {
	for uri := range sf.resources {
		if _, ok := desired[uri]; !ok {
			sf.srv.RemoveResource(uri)
			delete(sf.resources, uri)
		}
	}
	for uri, row := range desired {
		stamp := entityStamp{id: row.ID, updated: row.UpdatedAt}
		if cur, ok := sf.resources[uri]; ok && cur == stamp {
			continue
		}
		sf.srv.AddResource(wireResourceSpec(row), e.resourceHandler(sf))
		sf.resources[uri] = stamp
	}
}

func (e *Engine) applyPrompts(sf *surface, desired map[string]*store.Prompt) {
	var gone []string
	for name := range sf.prompts {
		if _, ok := desired[name]; !ok {
			gone = append(gone, name)
		}
	}
	if len(gone) > 0 {
		sf.srv.DeletePrompts(gone...)
		for _, name := range gone {
			delete(sf.prompts, name)
		}
	}
	for name, row := range desired {
		stamp := entityStamp{id: row.ID, updated: row.UpdatedAt}
		if cur, ok := sf.prompts[name]; ok && cur == stamp {
			continue
		}
		sf.srv.AddPrompt(wirePromptSpec(row), e.promptHandler(sf))
		sf.prompts[name] = stamp
	}
}

// wireToolSpec converts a catalog row to its MCP advertisement.
func wireToolSpec(wt wireTool) mcp.Tool {
	t := mcp.Tool{Name: wt.name, Description: wt.row.Description}
	if len(wt.row.InputSchema) > 0 {
		t.RawInputSchema = wt.row.InputSchema
	} else {
		t.InputSchema = mcp.ToolInputSchema{Type: "object"}
	}
	if len(wt.row.Annotations) > 0 {
		_ = json.Unmarshal(wt.row.Annotations, &t.Annotations)
	}
	return t
}

func wireResourceSpec(row *store.Resource) mcp.Resource {
	return mcp.Resource{
		URI:         row.URI,
		Name:        row.Name,
		Description: row.Description,
		MIMEType:    row.MimeType,
	}
}

func wirePromptSpec(row *store.Prompt) mcp.Prompt {
	return mcp.Prompt{
		Name:        row.Name,
		Description: row.Description,
		Arguments:   promptArguments(row),
	}
}

// listTools walks the catalog's enabled tools visible to the actor.
func (e *Engine) listTools(ctx context.Context, actor catalog.Actor) ([]store.Tool, error) {
	enabled := true
	var out []store.Tool
	for page := 1; ; page++ {
		res, err := e.catalog.ListTools(ctx, actor, store.Filter{Enabled: &enabled}, catalog.PageRequest{Page: page, Size: syncPageSize})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Data...)
		if len(res.Data) < syncPageSize {
			return out, nil
		}
	}
}

func (e *Engine) listResources(ctx context.Context, actor catalog.Actor) ([]store.Resource, error) {
	enabled := true
	var out []store.Resource
	for page := 1; ; page++ {
		res, err := e.catalog.ListResources(ctx, actor, store.Filter{Enabled: &enabled}, catalog.PageRequest{Page: page, Size: syncPageSize})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Data...)
		if len(res.Data) < syncPageSize {
			return out, nil
		}
	}
}

func (e *Engine) listPrompts(ctx context.Context, actor catalog.Actor) ([]store.Prompt, error) {
	enabled := true
	var out []store.Prompt
	for page := 1; ; page++ {
		res, err := e.catalog.ListPrompts(ctx, actor, store.Filter{Enabled: &enabled}, catalog.PageRequest{Page: page, Size: syncPageSize})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Data...)
		if len(res.Data) < syncPageSize {
			return out, nil
		}
	}
}

// gatewayNames maps gateway IDs to display names for qualified tool
// names. The system view is used: a federated row being visible already
// implies its origin gateway was registered for the same audience.
func (e *Engine) gatewayNames(ctx context.Context) (map[string]string, error) {
	names := make(map[string]string)
	for page := 1; ; page++ {
		res, err := e.catalog.ListGateways(ctx, catalog.System(), store.Filter{}, catalog.PageRequest{Page: page, Size: syncPageSize})
		if err != nil {
			return nil, err
		}
		for i := range res.Data {
			names[res.Data[i].ID] = res.Data[i].Name
		}
		if len(res.Data) < syncPageSize {
			return names, nil
		}
	}
}
