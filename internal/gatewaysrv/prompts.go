package gatewaysrv

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/plugins"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// promptHandler serves prompts/get for every prompt registered on the
// surface.
func (e *Engine) promptHandler(sf *surface) mcpserver.PromptHandlerFunc {
	return func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return e.getPrompt(ctx, sf, req)
	}
}

func (e *Engine) getPrompt(ctx context.Context, sf *surface, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := req.Params.Name
	if !sf.hasPrompt(name) {
		return nil, notFoundError("prompt", name)
	}

	identity := e.identityFrom(ctx, sf)
	row, err := e.catalog.ResolvePrompt(ctx, actorFor(identity), name)
	if err != nil {
		if mcperr.IsKind(err, mcperr.KindNotFound) {
			return nil, notFoundError("prompt", name)
		}
		return nil, err
	}
	if !row.Enabled {
		return nil, notFoundError("prompt", name)
	}

	hctx := e.hookContext(ctx, identity, uuid.NewString(), row.TeamID)
	payload := plugins.PromptPayload{Name: name, ServerID: sf.serverID, Arguments: req.Params.Arguments}
	pre, err := e.plugins.Invoke(ctx, plugins.PromptPreFetch, payload, hctx)
	if err != nil {
		return nil, err
	}
	if pp, ok := pre.(plugins.PromptPayload); ok {
		payload = pp
	}

	var result *mcp.GetPromptResult
	if row.Federated() {
		if e.peers == nil {
			return nil, mcperr.Newf(mcperr.KindUpstream, "no federation client configured for prompt %s", name)
		}
		result, err = e.peers.GetPeerPrompt(ctx, *row.GatewayID, row.Name, payload.Arguments)
		if err != nil {
			return nil, err
		}
	} else {
		rendered, err := renderTemplate(row.Template, payload.Arguments, promptArguments(row))
		if err != nil {
			return nil, err
		}
		result = &mcp.GetPromptResult{
			Description: row.Description,
			Messages: []mcp.PromptMessage{
				{Role: mcp.RoleUser, Content: mcp.NewTextContent(rendered)},
			},
		}
	}

	payload.Messages = result.Messages
	post, err := e.plugins.Invoke(ctx, plugins.PromptPostFetch, payload, hctx)
	if err != nil {
		return nil, err
	}
	if pp, ok := post.(plugins.PromptPayload); ok {
		if mutated, ok := pp.Messages.([]mcp.PromptMessage); ok {
			result.Messages = mutated
		}
	}
	return result, nil
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.:-]+)\s*\}\}`)

// renderTemplate substitutes {{ name }} placeholders with argument
// values. Declared required arguments must be present and non-empty;
// placeholders without a matching argument render as the empty string.
func renderTemplate(template string, args map[string]string, declared []mcp.PromptArgument) (string, error) {
	for _, d := range declared {
		if !d.Required {
			continue
		}
		if v, ok := args[d.Name]; !ok || v == "" {
			return "", mcperr.Newf(mcperr.KindInvalidRequest, "prompt argument %q is required", d.Name)
		}
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		return args[sub[1]]
	}), nil
}

// promptArguments decodes the stored argument declarations. Federated
// rows mirror the peer's argument list directly; local rows carry a JSON
// schema object whose properties and required list are flattened here.
func promptArguments(row *store.Prompt) []mcp.PromptArgument {
	raw := row.ArgumentsSchema
	if len(raw) == 0 {
		return nil
	}

	var args []mcp.PromptArgument
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}

	var schema struct {
		Properties map[string]struct {
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	args = make([]mcp.PromptArgument, 0, len(names))
	for _, name := range names {
		args = append(args, mcp.PromptArgument{
			Name:        name,
			Description: schema.Properties[name].Description,
			Required:    required[name],
		})
		delete(required, name)
	}

	// Schemas may list required names without a matching property.
	rest := make([]string, 0, len(required))
	for name := range required {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		args = append(args, mcp.PromptArgument{Name: name, Required: true})
	}
	return args
}
