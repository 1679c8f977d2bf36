package catalog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/secrets"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// Gateways and agents are served from the store on every read: their
// credential columns are excluded from JSON and would not survive a cache
// round-trip, and both tables are small.

// CreateGateway registers a peer gateway. The credential is encrypted
// before it reaches the store; the federation manager picks the
// registration up through the post-register hook.
func (s *Service) CreateGateway(ctx context.Context, actor Actor, gateway *store.Gateway) (*store.Gateway, error) {
	s.fillCommon(&gateway.Common, actor)
	if err := s.checkTeam(actor, gateway.TeamID); err != nil {
		return nil, err
	}
	if gateway.Transport == "" {
		gateway.Transport = store.TransportStreamableHTTP
	}
	if err := s.validateGateway(gateway); err != nil {
		return nil, err
	}
	if err := s.sealCredential(&gateway.AuthValue); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindGateway, Action: ActionRegister, ID: gateway.ID, Entity: gateway, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.CreateGateway(ctx, gateway); err != nil {
		return nil, storeError("gateway", err)
	}
	s.logger.Info("gateway registered",
		logging.EntityID(gateway.ID), logging.Gateway(gateway.Name))
	s.post(ctx, ev)
	return gateway, nil
}

// GetGateway returns the peer gateway by ID if the actor may see it.
func (s *Service) GetGateway(ctx context.Context, actor Actor, id string) (*store.Gateway, error) {
	gateway, err := s.store.GetGateway(ctx, actor.Scope(), id)
	if err != nil {
		return nil, storeError("gateway", err)
	}
	return gateway, nil
}

// ListGateways returns one window of the peer gateways visible to the
// actor.
func (s *Service) ListGateways(ctx context.Context, actor Actor, filter store.Filter, req PageRequest) (*PageOf[store.Gateway], error) {
	page, cursorMode, err := s.normalizePage(req)
	if err != nil {
		return nil, err
	}
	gateways, total, err := s.store.ListGateways(ctx, actor.Scope(), filter, page)
	if err != nil {
		return nil, storeError("gateway", err)
	}
	next := ""
	if cursorMode && len(gateways) == page.Size && page.Size > 0 {
		last := gateways[len(gateways)-1]
		next = store.EncodeCursor(last.CreatedAt, last.ID)
	}
	return buildPage(gateways, total, page, cursorMode, next), nil
}

// UpdateGateway replaces the mutable fields of a peer gateway. An empty
// credential keeps the stored one; a new credential is re-encrypted. The
// emitted event names the changed connection fields so federation can
// decide whether to re-handshake.
func (s *Service) UpdateGateway(ctx context.Context, actor Actor, id string, in *store.Gateway) (*store.Gateway, error) {
	existing, err := s.store.GetGateway(ctx, actor.Scope(), id)
	if err != nil {
		return nil, storeError("gateway", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return nil, forbidden("not allowed to modify this gateway")
	}
	if err := s.mergeCommon(&existing.Common, &in.Common, actor); err != nil {
		return nil, err
	}
	if in.Transport == "" {
		in.Transport = existing.Transport
	}
	if in.URL == "" {
		in.URL = existing.URL
	}
	if len(in.Capabilities) == 0 {
		in.Capabilities = existing.Capabilities
	}

	var changed []string
	if in.Name != existing.Name {
		changed = append(changed, "name")
	}
	if in.URL != existing.URL {
		changed = append(changed, "url")
	}
	if in.Transport != existing.Transport {
		changed = append(changed, "transport")
	}
	if in.AuthType != existing.AuthType {
		changed = append(changed, "auth_type")
	}
	switch in.AuthValue {
	case "":
		in.AuthValue = existing.AuthValue
	case existing.AuthValue:
		// Round-tripped ciphertext, not a new credential.
	default:
		changed = append(changed, "auth_value")
		if err := s.sealCredential(&in.AuthValue); err != nil {
			return nil, err
		}
	}

	if err := s.validateGateway(in); err != nil {
		return nil, err
	}

	ev := AdminEvent{Kind: store.KindGateway, Action: ActionUpdate, ID: id, Entity: in, Changed: changed, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.UpdateGateway(ctx, in); err != nil {
		return nil, storeError("gateway", err)
	}
	s.post(ctx, ev)
	return in, nil
}

// DeleteGateway removes a peer gateway registration. Deleting a
// gateway cascades: the federation manager reacting to the delete event
// removes every entity mirrored from the peer, and with them any
// virtual server associations pointing at those entities. A gateway
// that still has mirrored entities is therefore protected; the delete
// is rejected with GATEWAY_HAS_DEPENDENTS until the caller confirms the
// cascade.
func (s *Service) DeleteGateway(ctx context.Context, actor Actor, id string, confirmed bool) error {
	existing, err := s.store.GetGateway(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("gateway", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to delete this gateway")
	}
	if !confirmed {
		dependents, err := s.gatewayDependents(ctx, id)
		if err != nil {
			return err
		}
		if dependents > 0 {
			return mcperr.Newf(mcperr.KindConflict,
				"gateway %s still provides %d federated entities; confirm the delete to remove them too",
				existing.Name, dependents).
				WithCode("GATEWAY_HAS_DEPENDENTS")
		}
	}

	ev := AdminEvent{Kind: store.KindGateway, Action: ActionDelete, ID: id, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.DeleteGateway(ctx, id); err != nil {
		return storeError("gateway", err)
	}
	s.logger.Info("gateway deleted", logging.EntityID(id), logging.Gateway(existing.Name))
	s.post(ctx, ev)
	return nil
}

// gatewayDependents counts the entities mirrored from a peer gateway.
// Virtual servers can only reference federated entities through these
// rows, so the row count covers their associations as well.
func (s *Service) gatewayDependents(ctx context.Context, id string) (int, error) {
	filter := store.Filter{GatewayID: id}
	one := store.Page{Size: 1}
	dependents := 0
	_, n, err := s.store.ListTools(ctx, store.Unrestricted(), filter, one)
	if err != nil {
		return 0, storeError("tool", err)
	}
	dependents += n
	_, n, err = s.store.ListResources(ctx, store.Unrestricted(), filter, one)
	if err != nil {
		return 0, storeError("resource", err)
	}
	dependents += n
	_, n, err = s.store.ListPrompts(ctx, store.Unrestricted(), filter, one)
	if err != nil {
		return 0, storeError("prompt", err)
	}
	return dependents + n, nil
}

// SetGatewayStatus flips operator intent for a peer gateway.
func (s *Service) SetGatewayStatus(ctx context.Context, actor Actor, id string, enabled bool) error {
	existing, err := s.store.GetGateway(ctx, actor.Scope(), id)
	if err != nil {
		return storeError("gateway", err)
	}
	if !actor.CanMutate(&existing.Common) {
		return forbidden("not allowed to change this gateway's status")
	}

	ev := AdminEvent{Kind: store.KindGateway, Action: ActionStatusChange, ID: id, Enabled: &enabled, Actor: actor}
	if err := s.pre(ctx, ev); err != nil {
		return err
	}
	if err := s.store.SetGatewayStatus(ctx, id, enabled); err != nil {
		return storeError("gateway", err)
	}
	s.post(ctx, ev)
	return nil
}

// SetGatewayReachable records a health probe result for a gateway and
// mirrors it onto the gateway's federated entities. Probe state is not an
// admin action: no hooks run, but derived caches are refreshed.
func (s *Service) SetGatewayReachable(ctx context.Context, id string, reachable bool) error {
	if err := s.store.SetGatewayReachable(ctx, id, reachable); err != nil {
		return storeError("gateway", err)
	}
	if err := s.store.SetToolsReachableByGateway(ctx, id, reachable); err != nil {
		return storeError("tool", err)
	}
	if err := s.store.SetResourcesReachableByGateway(ctx, id, reachable); err != nil {
		return storeError("resource", err)
	}
	if err := s.store.SetPromptsReachableByGateway(ctx, id, reachable); err != nil {
		return storeError("prompt", err)
	}
	s.invalidate(ctx, store.KindGateway, id)
	s.BumpGeneration(ctx, store.KindTool, store.KindResource, store.KindPrompt)
	return nil
}

// SetGatewayCapabilities stores the capabilities captured during a
// federation handshake. Sync bookkeeping, not an admin action.
func (s *Service) SetGatewayCapabilities(ctx context.Context, id string, capabilities json.RawMessage) error {
	gateway, err := s.store.GetGateway(ctx, store.Unrestricted(), id)
	if err != nil {
		return storeError("gateway", err)
	}
	gateway.Capabilities = capabilities
	gateway.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateGateway(ctx, gateway); err != nil {
		return storeError("gateway", err)
	}
	s.invalidate(ctx, store.KindGateway, id)
	return nil
}

// GatewayCredential returns the decrypted credential of a peer gateway.
// For internal subsystems attaching upstream auth; the plaintext never
// leaves the process.
func (s *Service) GatewayCredential(ctx context.Context, id string) (string, error) {
	gateway, err := s.store.GetGateway(ctx, store.Unrestricted(), id)
	if err != nil {
		return "", storeError("gateway", err)
	}
	return s.openCredential(gateway.AuthValue)
}

// BumpGeneration invalidates caches derived from the given kinds without
// touching individual entity keys. Bulk operations (federation sync) use
// it after writing through the store.
func (s *Service) BumpGeneration(ctx context.Context, kinds ...store.EntityKind) {
	if s.cache == nil {
		return
	}
	for _, kind := range kinds {
		if _, err := s.cache.Incr(ctx, generationKey(kind), -1); err != nil {
			s.logger.Warn("catalog generation bump failed",
				logging.Entity(string(kind)), logging.Err(err))
		}
	}
}

// gatewayByName resolves a visible gateway by display name. Names are not
// a uniqueness key, so the newest visible match wins, mirroring the other
// by-name resolutions.
func (s *Service) gatewayByName(ctx context.Context, actor Actor, name string) (*store.Gateway, error) {
	gateways, _, err := s.store.ListGateways(ctx, actor.Scope(), store.Filter{Search: name}, store.Page{})
	if err != nil {
		return nil, storeError("gateway", err)
	}
	for i := range gateways {
		if gateways[i].Name == name {
			return &gateways[i], nil
		}
	}
	return nil, notFound("gateway")
}

func (s *Service) sealCredential(value *string) error {
	if *value == "" {
		return nil
	}
	sealed, err := s.vault.Encrypt(*value)
	if err != nil {
		if errors.Is(err, secrets.ErrNoEncryptionKey) {
			return mcperr.New(mcperr.KindInvalidRequest,
				"storing credentials requires GATEWAY_ENCRYPTION_KEY to be configured")
		}
		return mcperr.Wrap(mcperr.KindInternal, "credential encryption failed", err)
	}
	*value = sealed
	return nil
}

func (s *Service) openCredential(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	plain, err := s.vault.Decrypt(value)
	if err != nil {
		return "", mcperr.Wrap(mcperr.KindInternal, "credential decryption failed", err)
	}
	return plain, nil
}
