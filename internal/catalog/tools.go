package catalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// CreateTool registers a tool. The actor becomes the owner unless a
// platform admin names someone else; federated provenance is reserved
// for the federation manager.
func (s *Service) CreateTool(ctx context.Context, actor Actor, tool *store.Tool) (*store.Tool, error) {
	if tool.GatewayID != nil && !actor.PlatformAdmin {
		return nil, forbidden("federated provenance is reserved for the federation manager")
	}
	s.fillCommon(&tool.Common, actor)
	if err := s.checkTeam(actor, tool.TeamID); err != nil {
		return nil, err
	}
	if err := s.validateTool(tool); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindTool, Action: ActionRegister, ID: tool.ID, Entity: tool, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.CreateTool(ctx, tool); err != nil {
		return nil, storeError("tool", err)
	}
	s.logger.Info("tool registered",
		logging.EntityID(tool.ID), logging.Tool(tool.Name), logging.Status(string(tool.CreatedVia)))
	s.post(ctx, ev)
	return tool, nil
}

// GetTool returns the tool by ID if the actor may see it. Cache hits and
// store reads apply the same visibility predicate, so a hidden tool is
// indistinguishable from an absent one either way.
func (s *Service) GetTool(ctx context.Context, actor Actor, id string) (*store.Tool, error) {
	if cached := fromCache[store.Tool](ctx, s, store.KindTool, id); cached != nil {
		if !actor.Allowed(&cached.Common) {
			return nil, notFound("tool")
		}
		return cached, nil
	}

	tool, err := s.store.GetTool(ctx, store.Unrestricted(), id)
	if err != nil {
		return nil, storeError("tool", err)
	}
	toCache(ctx, s, store.KindTool, id, tool)
	if !actor.Allowed(&tool.Common) {
		return nil, notFound("tool")
	}
	return tool, nil
}

// ResolveTool resolves a client-facing tool name. Qualified names select
// a federated tool through its origin gateway; bare names select a local
// tool.
func (s *Service) ResolveTool(ctx context.Context, actor Actor, name string) (*store.Tool, error) {
	gatewayName, toolName, qualified := s.SplitQualifiedName(name)
	if !qualified {
		tool, err := s.store.GetToolByName(ctx, actor.Scope(), nil, name)
		if err != nil {
			return nil, storeError("tool", err)
		}
		return tool, nil
	}

	gateway, err := s.gatewayByName(ctx, actor, gatewayName)
	if err != nil {
		return nil, err
	}
	tool, err := s.store.GetToolByName(ctx, actor.Scope(), &gateway.ID, toolName)
	if err != nil {
		return nil, storeError("tool", err)
	}
	return tool, nil
}

// ListTools returns one window of the tools visible to the actor.
func (s *Service) ListTools(ctx context.Context, actor Actor, filter store.Filter, req PageRequest) (*PageOf[store.Tool], error) {
	page, cursorMode, err := s.normalizePage(req)
	if err != nil {
		return nil, err
	}
	tools, total, err := s.store.ListTools(ctx, actor.Scope(), filter, page)
	if err != nil {
		return nil, storeError("tool", err)
	}
	next := ""
	if cursorMode && len(tools) == page.Size && page.Size > 0 {
		last := tools[len(tools)-1]
		next = store.EncodeCursor(last.CreatedAt, last.ID)
	}
	return buildPage(tools, total, page, cursorMode, next), nil
}

// UpdateTool replaces the mutable fields of a tool. Identity, provenance,
// status, and reachability are carried over from the stored row.
func (s *Service) UpdateTool(ctx context.Context, actor Actor, id string, in *store.Tool) (*store.Tool, error) {
	existing, err := s.store.GetTool(ctx, actor.Scope(), id)
	if err != nil {
		return nil, storeError("tool", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return nil, forbidden("not allowed to modify this tool")
	}
	if existing.Federated() && !actor.PlatformAdmin {
		return nil, forbidden("federated tools are managed by their origin gateway")
	}
	if err := s.mergeCommon(&existing.Common, &in.Common, actor); err != nil {
		return nil, err
	}
	in.GatewayID = existing.GatewayID
	if err := s.validateTool(in); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindTool, Action: ActionUpdate, ID: id, Entity: in, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTool(ctx, in); err != nil {
		return nil, storeError("tool", err)
	}
	s.post(ctx, ev)
	return in, nil
}

// DeleteTool removes a tool.
func (s *Service) DeleteTool(ctx context.Context, actor Actor, id string) error {
	existing, err := s.store.GetTool(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("tool", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to delete this tool")
	}
	if existing.Federated() && !actor.PlatformAdmin {
		return forbidden("federated tools are managed by their origin gateway")
	}

	ev := AdminEvent{Kind: store.KindTool, Action: ActionDelete, ID: id, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.DeleteTool(ctx, id); err != nil {
		return storeError("tool", err)
	}
	s.logger.Info("tool deleted", logging.EntityID(id), logging.Tool(existing.Name))
	s.post(ctx, ev)
	return nil
}

// SetToolStatus flips operator intent for a tool.
func (s *Service) SetToolStatus(ctx context.Context, actor Actor, id string, enabled bool) error {
	existing, err := s.store.GetTool(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("tool", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to change this tool's status")
	}
	if existing.Federated() && !actor.PlatformAdmin {
		return forbidden("federated tools are managed by their origin gateway")
	}

	ev := AdminEvent{Kind: store.KindTool, Action: ActionStatusChange, ID: id, Enabled: &enabled, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.SetToolStatus(ctx, id, enabled); err != nil {
		return storeError("tool", err)
	}
	s.post(ctx, ev)
	return nil
}

// ImportFailure describes one rejected item of a bulk import.
type ImportFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ImportReport summarizes a bulk tool import.
type ImportReport struct {
	Created int             `json:"created"`
	Failed  []ImportFailure `json:"failed,omitempty"`
}

const maxImportBatch = 200

// ImportTools registers a batch of tools, continuing past rejected items
// and reporting them individually. Imported rows carry bulk_import
// provenance.
func (s *Service) ImportTools(ctx context.Context, actor Actor, tools []*store.Tool) (*ImportReport, error) {
	if len(tools) == 0 {
		return nil, invalid("import batch is empty")
	}
	if len(tools) > maxImportBatch {
		return nil, invalidf("import batch exceeds %d tools", maxImportBatch)
	}

	report := &ImportReport{}
	for _, tool := range tools {
		tool.CreatedVia = store.CreatedViaBulkImport
		if _, err := s.CreateTool(ctx, actor, tool); err != nil {
			report.Failed = append(report.Failed, ImportFailure{Name: tool.Name, Reason: userReason(err)})
			continue
		}
		report.Created++
	}
	s.logger.Info("tool import finished",
		slog.Int("created", report.Created), slog.Int("failed", len(report.Failed)))
	return report, nil
}

func userReason(err error) string {
	var me *mcperr.Error
	if errors.As(err, &me) {
		return me.UserFacingError()
	}
	return err.Error()
}
