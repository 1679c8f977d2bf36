package plugins

import (
	"context"

	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/logging"
)

// CatalogHooks adapts catalog admin events onto the per-entity
// register/update/delete/status_change hook set, so plugins can veto or
// observe catalog mutations. Install it with catalog.WithHooks.
type CatalogHooks struct {
	manager *Manager
}

// NewCatalogHooks wraps the manager.
func NewCatalogHooks(m *Manager) *CatalogHooks {
	return &CatalogHooks{manager: m}
}

// Pre runs the pre hook for the mutation; a blocking result aborts the
// mutation before anything is written.
func (h *CatalogHooks) Pre(ctx context.Context, ev catalog.AdminEvent) error {
	hctx := adminHookContext(ctx, ev)
	_, err := h.manager.Invoke(ctx, AdminHook(ev.Kind, ev.Action, false), adminPayload(ev), hctx)
	return err
}

// Post runs the post hook after commit. Post outcomes cannot undo the
// mutation; blocking results are logged and dropped.
func (h *CatalogHooks) Post(ctx context.Context, ev catalog.AdminEvent) {
	hctx := adminHookContext(ctx, ev)
	_, err := h.manager.Invoke(ctx, AdminHook(ev.Kind, ev.Action, true), adminPayload(ev), hctx)
	if err != nil && h.manager != nil {
		h.manager.logger.Warn("post admin hook failed",
			logging.Entity(string(ev.Kind)),
			logging.EntityID(ev.ID),
			logging.Err(err))
	}
}

// adminHookContext reuses the request's hook context when the transport
// layer attached one, so admin hooks share elicitation answers and
// metadata with the rest of the request.
func adminHookContext(ctx context.Context, ev catalog.AdminEvent) *HookContext {
	if hctx, ok := HookContextFrom(ctx); ok {
		return hctx
	}
	hctx := NewHookContext("")
	hctx.User = ev.Actor.Email
	return hctx
}

func adminPayload(ev catalog.AdminEvent) AdminPayload {
	return AdminPayload{
		Kind:     string(ev.Kind),
		Action:   string(ev.Action),
		EntityID: ev.ID,
		Entity:   ev.Entity,
		Enabled:  ev.Enabled,
		Changed:  ev.Changed,
		Actor:    ev.Actor.Email,
	}
}
