package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

// CapabilityKey is the entry under the initialize result's experimental
// capabilities where a gateway publishes its federation announcement.
const CapabilityKey = "mcp-gateway/federation"

// CodeLoopDetected is the machine-readable reason attached to Conflict
// errors for registrations that would create a federation cycle.
const CodeLoopDetected = "FEDERATION_LOOP_DETECTED"

// Announcement identifies a gateway to its peers. KnownGateways lists
// every gateway ID reachable through the announcer, so a registration
// candidate can be checked for cycles spanning more than one hop.
type Announcement struct {
	GatewayID     string   `json:"gateway_id"`
	GatewayName   string   `json:"gateway_name,omitempty"`
	KnownGateways []string `json:"known_gateways,omitempty"`
}

// Announcement returns what this gateway advertises during its own
// initialize exchanges: its identity plus every gateway ID reachable
// through registered peers.
func (m *Manager) Announcement() Announcement {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]struct{})
	for _, st := range m.peers {
		if st.announcement == nil {
			continue
		}
		known[st.announcement.GatewayID] = struct{}{}
		for _, id := range st.announcement.KnownGateways {
			known[id] = struct{}{}
		}
	}
	delete(known, m.self.GatewayID)

	out := Announcement{GatewayID: m.self.GatewayID, GatewayName: m.self.GatewayName}
	if len(known) > 0 {
		out.KnownGateways = slices.Sorted(maps.Keys(known))
	}
	return out
}

// announcementFromCapabilities extracts a peer's announcement from the
// raw capabilities captured during the handshake. Returns nil when the
// peer does not announce itself; not every MCP server is a gateway.
func announcementFromCapabilities(raw json.RawMessage) *Announcement {
	if len(raw) == 0 {
		return nil
	}
	var caps struct {
		Experimental map[string]json.RawMessage `json:"experimental"`
	}
	if err := json.Unmarshal(raw, &caps); err != nil {
		return nil
	}
	entry, ok := caps.Experimental[CapabilityKey]
	if !ok {
		return nil
	}
	var ann Announcement
	if err := json.Unmarshal(entry, &ann); err != nil || ann.GatewayID == "" {
		return nil
	}
	return &ann
}

// establish dials the peer and runs the MCP initialize handshake. It is
// the cache's session loader: every fresh session passes through here, so
// the loop-detection state and the stored capabilities refresh on each
// handshake.
func (m *Manager) establish(ctx context.Context, gw *store.Gateway) (peerSession, error) {
	credential, err := m.catalog.GatewayCredential(ctx, gw.ID)
	if err != nil {
		return nil, err
	}
	headers, err := authHeaders(gw.AuthType, credential)
	if err != nil {
		return nil, err
	}
	sess, err := m.dialFn(gw, headers)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindUpstream,
			fmt.Sprintf("dialing peer gateway %s", gw.Name), err)
	}
	res, err := sess.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "mcp-gateway",
				Version: "1.0.0",
			},
		},
	})
	if err != nil {
		_ = sess.Close()
		return nil, mcperr.Wrap(mcperr.KindUpstream,
			fmt.Sprintf("initialize handshake with peer gateway %s", gw.Name), err)
	}

	caps, err := json.Marshal(res.Capabilities)
	if err != nil {
		caps = nil
	}
	ann := announcementFromCapabilities(caps)
	if ann != nil && m.createsLoop(ann) {
		_ = sess.Close()
		m.logger.Warn("federating with peer would create a loop",
			logging.Gateway(gw.Name), slog.String("peer_gateway_id", ann.GatewayID))
		return nil, mcperr.Newf(mcperr.KindConflict,
			"peer gateway %s already federates with this gateway", gw.Name).
			WithCode(CodeLoopDetected)
	}
	m.rememberPeer(gw, ann)

	if err := m.catalog.SetGatewayCapabilities(ctx, gw.ID, caps); err != nil {
		m.logger.Warn("storing peer gateway capabilities failed",
			logging.Gateway(gw.Name), logging.Err(err))
	}
	m.logger.Debug("peer gateway session established",
		logging.Gateway(gw.Name),
		slog.String("server", res.ServerInfo.Name),
		slog.Bool("announced", ann != nil))
	return sess, nil
}

// createsLoop reports whether federating with the announcer would route
// calls back to this gateway, directly or through peers the announcer
// already knows.
func (m *Manager) createsLoop(ann *Announcement) bool {
	if m.self.GatewayID == "" {
		return false
	}
	if ann.GatewayID == m.self.GatewayID {
		return true
	}
	return slices.Contains(ann.KnownGateways, m.self.GatewayID)
}

// rememberPeer records the announcement captured at the last handshake.
// A nil announcement still creates probe state for the peer.
func (m *Manager) rememberPeer(gw *store.Gateway, ann *Announcement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.peerFor(gw)
	st.announcement = ann
}
