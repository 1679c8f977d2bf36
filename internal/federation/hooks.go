package federation

import (
	"context"
	"log/slog"

	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// Hooks returns the catalog observer that ties peer session lifecycle to
// gateway mutations: deleting a registration tears down the session and
// removes the entities mirrored from it, disabling one drops the session.
// Registration handshakes are not hook-driven; the admin handlers run
// them directly because the loop-detection verdict has to reach the
// caller.
func (m *Manager) Hooks() catalog.AdminHooks {
	return gatewayObserver{m: m}
}

type gatewayObserver struct {
	m *Manager
}

func (gatewayObserver) Pre(context.Context, catalog.AdminEvent) error { return nil }

func (o gatewayObserver) Post(ctx context.Context, ev catalog.AdminEvent) {
	if ev.Kind != store.KindGateway {
		return
	}
	switch ev.Action {
	case catalog.ActionDelete:
		o.m.Deactivate(ev.ID)
		o.m.removeMirrored(ctx, ev.ID)
	case catalog.ActionStatusChange:
		if ev.Enabled != nil && !*ev.Enabled {
			o.m.Deactivate(ev.ID)
		}
	}
}

// removeMirrored deletes every entity pulled from the given gateway. The
// gateway row is already gone, so unlike a sync disable there is nothing
// to come back to.
func (m *Manager) removeMirrored(ctx context.Context, gatewayID string) {
	tools, err := m.store.DeleteToolsByGateway(ctx, gatewayID)
	if err != nil {
		m.logger.Error("removing federated tools failed",
			slog.String("gateway_id", gatewayID), logging.Err(err))
	}
	resources, err := m.store.DeleteResourcesByGateway(ctx, gatewayID)
	if err != nil {
		m.logger.Error("removing federated resources failed",
			slog.String("gateway_id", gatewayID), logging.Err(err))
	}
	prompts, err := m.store.DeletePromptsByGateway(ctx, gatewayID)
	if err != nil {
		m.logger.Error("removing federated prompts failed",
			slog.String("gateway_id", gatewayID), logging.Err(err))
	}

	if tools+resources+prompts == 0 {
		return
	}
	m.catalog.BumpGeneration(ctx, store.KindTool, store.KindResource, store.KindPrompt)
	m.logger.Info("removed entities of deleted gateway",
		slog.String("gateway_id", gatewayID),
		slog.Int("tools", tools),
		slog.Int("resources", resources),
		slog.Int("prompts", prompts))
}
