package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// Sync pulls the peer's catalog and reconciles the federated rows it
// owns: new entities are created, changed ones updated, and entities the
// peer no longer advertises are disabled pending the purge grace period.
func (m *Manager) Sync(ctx context.Context, gatewayID string) error {
	sess, gw, err := m.session(ctx, gatewayID)
	if err != nil {
		return err
	}
	return m.syncWith(ctx, gw, sess)
}

func (m *Manager) syncWith(ctx context.Context, gw *store.Gateway, sess peerSession) error {
	tools, err := m.syncTools(ctx, gw, sess)
	if err != nil {
		return err
	}
	resources, err := m.syncResources(ctx, gw, sess)
	if err != nil {
		return err
	}
	prompts, err := m.syncPrompts(ctx, gw, sess)
	if err != nil {
		return err
	}

	if tools+resources+prompts == 0 {
		m.logger.Debug("federated catalog in sync", logging.Gateway(gw.Name))
		return nil
	}
	var kinds []store.EntityKind
	if tools > 0 {
		kinds = append(kinds, store.KindTool)
	}
	if resources > 0 {
		kinds = append(kinds, store.KindResource)
	}
	if prompts > 0 {
		kinds = append(kinds, store.KindPrompt)
	}
	m.catalog.BumpGeneration(ctx, kinds...)
	m.logger.Info("federated catalog synced",
		logging.Gateway(gw.Name),
		slog.Int("tool_changes", tools),
		slog.Int("resource_changes", resources),
		slog.Int("prompt_changes", prompts))
	return nil
}

func (m *Manager) syncTools(ctx context.Context, gw *store.Gateway, sess peerSession) (int, error) {
	remote, err := pullTools(ctx, sess)
	if err != nil {
		return 0, mcperr.Wrap(mcperr.KindUpstream,
			fmt.Sprintf("listing tools on peer gateway %s", gw.Name), err)
	}
	rows, _, err := m.store.ListTools(ctx, store.Unrestricted(), store.Filter{GatewayID: gw.ID}, store.Page{})
	if err != nil {
		return 0, mcperr.Wrap(mcperr.KindInternal, "listing federated tools", err)
	}
	existing := make(map[string]*store.Tool, len(rows))
	for i := range rows {
		existing[rows[i].Name] = &rows[i]
	}

	changed := 0
	now := m.now().UTC()
	keep := make([]string, 0, len(remote))
	for _, rt := range remote {
		keep = append(keep, rt.Name)
		schema := toolSchemaJSON(rt)
		annotations := toolAnnotationsJSON(rt)
		cur, ok := existing[rt.Name]
		if !ok {
			tool := &store.Tool{
				Common:          m.federatedCommon(gw, rt.Name, rt.Description, now),
				GatewayID:       &gw.ID,
				IntegrationType: store.IntegrationFederated,
				InputSchema:     schema,
				Annotations:     annotations,
			}
			if err := m.store.CreateTool(ctx, tool); err != nil {
				return changed, mcperr.Wrap(mcperr.KindInternal, "creating federated tool "+rt.Name, err)
			}
			changed++
			continue
		}
		next := *cur
		next.Description = rt.Description
		next.InputSchema = schema
		next.Annotations = annotations
		next.Reachable = true
		// Disabled while unreachable means a previous sync turned the
		// row off; the entity reappearing upstream turns it back on.
		// Operator disables keep reachable set and stay off.
		if !cur.Enabled && !cur.Reachable {
			next.Enabled = true
		}
		if sameFederatedTool(cur, &next) {
			continue
		}
		next.UpdatedAt = now
		if err := m.store.UpdateTool(ctx, &next); err != nil {
			return changed, mcperr.Wrap(mcperr.KindInternal, "updating federated tool "+rt.Name, err)
		}
		changed++
	}

	removed, err := m.store.DisableToolsMissingFromGateway(ctx, gw.ID, keep)
	if err != nil {
		return changed, mcperr.Wrap(mcperr.KindInternal, "disabling removed federated tools", err)
	}
	return changed + removed, nil
}

func (m *Manager) syncResources(ctx context.Context, gw *store.Gateway, sess peerSession) (int, error) {
	remote, err := pullResources(ctx, sess)
	if err != nil {
		return 0, mcperr.Wrap(mcperr.KindUpstream,
			fmt.Sprintf("listing resources on peer gateway %s", gw.Name), err)
	}
	rows, _, err := m.store.ListResources(ctx, store.Unrestricted(), store.Filter{GatewayID: gw.ID}, store.Page{})
	if err != nil {
		return 0, mcperr.Wrap(mcperr.KindInternal, "listing federated resources", err)
	}
	existing := make(map[string]*store.Resource, len(rows))
	for i := range rows {
		existing[rows[i].URI] = &rows[i]
	}

	changed := 0
	now := m.now().UTC()
	keep := make([]string, 0, len(remote))
	for _, rr := range remote {
		keep = append(keep, rr.URI)
		name := rr.Name
		if name == "" {
			name = rr.URI
		}
		cur, ok := existing[rr.URI]
		if !ok {
			resource := &store.Resource{
				Common:    m.federatedCommon(gw, name, rr.Description, now),
				GatewayID: &gw.ID,
				URI:       rr.URI,
				MimeType:  rr.MIMEType,
			}
			if err := m.store.CreateResource(ctx, resource); err != nil {
				return changed, mcperr.Wrap(mcperr.KindInternal, "creating federated resource "+rr.URI, err)
			}
			changed++
			continue
		}
		next := *cur
		next.Name = name
		next.Description = rr.Description
		next.MimeType = rr.MIMEType
		next.Reachable = true
		if !cur.Enabled && !cur.Reachable {
			next.Enabled = true
		}
		if sameFederatedResource(cur, &next) {
			continue
		}
		next.UpdatedAt = now
		if err := m.store.UpdateResource(ctx, &next); err != nil {
			return changed, mcperr.Wrap(mcperr.KindInternal, "updating federated resource "+rr.URI, err)
		}
		changed++
	}

	removed, err := m.store.DisableResourcesMissingFromGateway(ctx, gw.ID, keep)
	if err != nil {
		return changed, mcperr.Wrap(mcperr.KindInternal, "disabling removed federated resources", err)
	}
	return changed + removed, nil
}

func (m *Manager) syncPrompts(ctx context.Context, gw *store.Gateway, sess peerSession) (int, error) {
	remote, err := pullPrompts(ctx, sess)
	if err != nil {
		return 0, mcperr.Wrap(mcperr.KindUpstream,
			fmt.Sprintf("listing prompts on peer gateway %s", gw.Name), err)
	}
	rows, _, err := m.store.ListPrompts(ctx, store.Unrestricted(), store.Filter{GatewayID: gw.ID}, store.Page{})
	if err != nil {
		return 0, mcperr.Wrap(mcperr.KindInternal, "listing federated prompts", err)
	}
	existing := make(map[string]*store.Prompt, len(rows))
	for i := range rows {
		existing[rows[i].Name] = &rows[i]
	}

	changed := 0
	now := m.now().UTC()
	keep := make([]string, 0, len(remote))
	for _, rp := range remote {
		keep = append(keep, rp.Name)
		args := promptArgumentsJSON(rp.Arguments)
		cur, ok := existing[rp.Name]
		if !ok {
			// The template stays empty: a federated prompt renders on
			// the owning peer via GetPeerPrompt.
			prompt := &store.Prompt{
				Common:          m.federatedCommon(gw, rp.Name, rp.Description, now),
				GatewayID:       &gw.ID,
				ArgumentsSchema: args,
			}
			if err := m.store.CreatePrompt(ctx, prompt); err != nil {
				return changed, mcperr.Wrap(mcperr.KindInternal, "creating federated prompt "+rp.Name, err)
			}
			changed++
			continue
		}
		next := *cur
		next.Description = rp.Description
		next.ArgumentsSchema = args
		next.Reachable = true
		if !cur.Enabled && !cur.Reachable {
			next.Enabled = true
		}
		if sameFederatedPrompt(cur, &next) {
			continue
		}
		next.UpdatedAt = now
		if err := m.store.UpdatePrompt(ctx, &next); err != nil {
			return changed, mcperr.Wrap(mcperr.KindInternal, "updating federated prompt "+rp.Name, err)
		}
		changed++
	}

	removed, err := m.store.DisablePromptsMissingFromGateway(ctx, gw.ID, keep)
	if err != nil {
		return changed, mcperr.Wrap(mcperr.KindInternal, "disabling removed federated prompts", err)
	}
	return changed + removed, nil
}

// resyncAll re-pulls every enabled, reachable peer and then purges rows
// whose upstream entity has been gone longer than the grace period.
// Unreachable peers are left to the health loop, which syncs on recovery.
func (m *Manager) resyncAll(ctx context.Context) {
	enabled := true
	gateways, _, err := m.store.ListGateways(ctx, store.Unrestricted(), store.Filter{Enabled: &enabled}, store.Page{})
	if err != nil {
		m.logger.Error("listing gateways for resync failed", logging.Err(err))
		return
	}
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentPeers)
	for i := range gateways {
		gw := gateways[i]
		if !gw.Reachable {
			continue
		}
		g.Go(func() error {
			if err := m.Sync(ctx, gw.ID); err != nil {
				m.logger.Warn("federated catalog resync failed",
					logging.Gateway(gw.Name), logging.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	m.purgeExpired(ctx)
}

// purgeExpired deletes federated rows that have been sync-disabled since
// before the grace cutoff. Disabled rows keep serving as references until
// then, so a briefly absent upstream entity comes back with its
// identity intact.
func (m *Manager) purgeExpired(ctx context.Context) {
	cutoff := m.now().UTC().Add(-m.cfg.PurgeGrace)

	tools, err := m.store.PurgeDisabledFederatedTools(ctx, cutoff)
	if err != nil {
		m.logger.Error("purging federated tools failed", logging.Err(err))
	}
	resources, err := m.store.PurgeDisabledFederatedResources(ctx, cutoff)
	if err != nil {
		m.logger.Error("purging federated resources failed", logging.Err(err))
	}
	prompts, err := m.store.PurgeDisabledFederatedPrompts(ctx, cutoff)
	if err != nil {
		m.logger.Error("purging federated prompts failed", logging.Err(err))
	}

	if tools+resources+prompts == 0 {
		return
	}
	var kinds []store.EntityKind
	if tools > 0 {
		kinds = append(kinds, store.KindTool)
	}
	if resources > 0 {
		kinds = append(kinds, store.KindResource)
	}
	if prompts > 0 {
		kinds = append(kinds, store.KindPrompt)
	}
	m.catalog.BumpGeneration(ctx, kinds...)
	m.logger.Info("purged stale federated entities",
		slog.Int("tools", tools),
		slog.Int("resources", resources),
		slog.Int("prompts", prompts))
}

// federatedCommon builds the shared block for an entity mirrored from a
// peer. Ownership and visibility inherit from the gateway registration.
func (m *Manager) federatedCommon(gw *store.Gateway, name, description string, now time.Time) store.Common {
	return store.Common{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		TeamID:      gw.TeamID,
		OwnerEmail:  gw.OwnerEmail,
		Visibility:  gw.Visibility,
		Enabled:     true,
		Reachable:   true,
		CreatedVia:  store.CreatedViaFederation,
		CreatedBy:   gw.OwnerEmail,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func sameFederatedTool(a, b *store.Tool) bool {
	return a.Description == b.Description &&
		a.Enabled == b.Enabled &&
		a.Reachable == b.Reachable &&
		bytes.Equal(a.InputSchema, b.InputSchema) &&
		bytes.Equal(a.Annotations, b.Annotations)
}

func sameFederatedResource(a, b *store.Resource) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		a.Enabled == b.Enabled &&
		a.Reachable == b.Reachable &&
		a.MimeType == b.MimeType
}

func sameFederatedPrompt(a, b *store.Prompt) bool {
	return a.Description == b.Description &&
		a.Enabled == b.Enabled &&
		a.Reachable == b.Reachable &&
		bytes.Equal(a.ArgumentsSchema, b.ArgumentsSchema)
}

func toolSchemaJSON(t mcp.Tool) json.RawMessage {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema
	}
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil
	}
	return raw
}

func toolAnnotationsJSON(t mcp.Tool) json.RawMessage {
	raw, err := json.Marshal(t.Annotations)
	if err != nil || string(raw) == "{}" {
		return nil
	}
	return raw
}

func promptArgumentsJSON(args []mcp.PromptArgument) json.RawMessage {
	if len(args) == 0 {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	return raw
}

func pullTools(ctx context.Context, sess peerSession) ([]mcp.Tool, error) {
	var out []mcp.Tool
	var cursor mcp.Cursor
	for {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor
		res, err := sess.ListTools(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Tools...)
		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
}

func pullResources(ctx context.Context, sess peerSession) ([]mcp.Resource, error) {
	var out []mcp.Resource
	var cursor mcp.Cursor
	for {
		req := mcp.ListResourcesRequest{}
		req.Params.Cursor = cursor
		res, err := sess.ListResources(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Resources...)
		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
}

func pullPrompts(ctx context.Context, sess peerSession) ([]mcp.Prompt, error) {
	var out []mcp.Prompt
	var cursor mcp.Cursor
	for {
		req := mcp.ListPromptsRequest{}
		req.Params.Cursor = cursor
		res, err := sess.ListPrompts(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Prompts...)
		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
}
