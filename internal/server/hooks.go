package server

import (
	"context"
	"sync"

	"github.com/giantswarm/mcp-gateway/internal/catalog"
)

// HookRelay is an AdminHooks indirection for wiring. The catalog takes
// its hook chain at construction, but most hook providers (the serving
// engine, federation, the plugin adapter) are built after the catalog
// because they depend on it. The relay breaks the cycle: hand it to the
// catalog first, then Set the real chain once the subsystems exist.
// Events arriving before Set are passed through unobserved.
type HookRelay struct {
	mu    sync.RWMutex
	hooks catalog.AdminHooks
}

// NewHookRelay returns an empty relay.
func NewHookRelay() *HookRelay {
	return &HookRelay{}
}

// Set installs the hook chain. Safe to call concurrently with events.
func (r *HookRelay) Set(h catalog.AdminHooks) {
	r.mu.Lock()
	r.hooks = h
	r.mu.Unlock()
}

// Pre implements catalog.AdminHooks.
func (r *HookRelay) Pre(ctx context.Context, ev catalog.AdminEvent) error {
	r.mu.RLock()
	h := r.hooks
	r.mu.RUnlock()
	if h == nil {
		return nil
	}
	return h.Pre(ctx, ev)
}

// Post implements catalog.AdminHooks.
func (r *HookRelay) Post(ctx context.Context, ev catalog.AdminEvent) {
	r.mu.RLock()
	h := r.hooks
	r.mu.RUnlock()
	if h == nil {
		return
	}
	h.Post(ctx, ev)
}
