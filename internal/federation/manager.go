// Package federation connects this gateway to registered peer gateways.
//
// The Manager owns the peer lifecycle: it runs the MCP initialize
// handshake when a gateway is registered, rejects registrations that
// would create a federation cycle, mirrors each peer's tools, resources,
// and prompts into federated catalog rows, probes peer health in the
// background, and relays calls for federated entities to the peer that
// owns them.
//
// Reachability is advisory and fully automatic: after enough consecutive
// probe failures a peer and its mirrored entities flip to
// reachable=false, and a single successful probe flips them back and
// refreshes the mirrored catalog. Operators never have to reactivate a
// recovered peer by hand.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/mcp-gateway/internal/catalog"
	"github.com/giantswarm/mcp-gateway/internal/config"
	"github.com/giantswarm/mcp-gateway/internal/dispatch"
	"github.com/giantswarm/mcp-gateway/internal/logging"
	"github.com/giantswarm/mcp-gateway/internal/mcperr"
	"github.com/giantswarm/mcp-gateway/internal/store"
)

const (
	defaultHealthTimeout    = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultFailureThreshold = 3

	// maxConcurrentPeers bounds how many peers the health and resync
	// loops touch at once.
	maxConcurrentPeers = 4
)

// Manager federates this gateway with its registered peers.
type Manager struct {
	cfg     config.FederationConfig
	self    Announcement
	catalog *catalog.Service
	store   store.Store
	logger  *slog.Logger
	now     func() time.Time
	dialFn  dialer
	cache   *clientCache

	observeProbe ProbeObserver
	observeCall  CallObserver

	// peers holds per-peer probe state and the announcement captured at
	// the last handshake, keyed by the gateway row ID.
	mu     sync.Mutex
	peers  map[string]*peerState
	closed bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// The dispatcher reaches federated tools through the manager.
var _ dispatch.PeerCaller = (*Manager)(nil)

type peerState struct {
	announcement *Announcement
	failures     int
	unreachable  bool
}

// ProbeObserver receives one record per peer health probe; outcome is
// healthy or unreachable. Used by the instrumentation layer.
type ProbeObserver func(peer, outcome string)

// CallObserver receives one record per relayed peer operation that
// reached the wire.
type CallObserver func(operation, peer, outcome string, elapsed time.Duration)

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the logger for federation lifecycle and probe events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithProbeObserver registers a metrics callback for health probes.
func WithProbeObserver(o ProbeObserver) Option {
	return func(m *Manager) {
		m.observeProbe = o
	}
}

// WithCallObserver registers a metrics callback for relayed calls.
func WithCallObserver(o CallObserver) Option {
	return func(m *Manager) {
		m.observeCall = o
	}
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// withDialer overrides how peer sessions are constructed. For tests.
func withDialer(d dialer) Option {
	return func(m *Manager) {
		m.dialFn = d
	}
}

// NewManager wires the federation subsystem and starts its background
// loops. A zero HealthInterval or ResyncInterval disables the respective
// loop; Close stops the loops and tears down all peer sessions.
func NewManager(cfg config.FederationConfig, self Announcement, cat *catalog.Service, st store.Store, opts ...Option) *Manager {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}

	m := &Manager{
		cfg:     cfg,
		self:    self,
		catalog: cat,
		store:   st,
		logger:  slog.Default(),
		now:     time.Now,
		dialFn:  dialPeer,
		peers:   make(map[string]*peerState),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = newClientCache(sessionTTL, m.now, m.establish)

	if m.cfg.HealthInterval > 0 {
		m.wg.Add(1)
		go m.healthLoop()
	}
	if m.cfg.ResyncInterval > 0 {
		m.wg.Add(1)
		go m.resyncLoop()
	}

	m.logger.Info("federation manager started",
		slog.String("gateway_id", self.GatewayID),
		slog.Duration("health_interval", m.cfg.HealthInterval),
		slog.Duration("resync_interval", m.cfg.ResyncInterval))
	return m
}

func (m *Manager) checkClosed() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return mcperr.New(mcperr.KindInternal, "federation manager is closed")
	}
	return nil
}

// Register runs the federation handshake for a newly registered gateway:
// initialize, loop detection, and the first catalog pull.
//
// An unreachable peer is not an error. The registration stays with
// reachable=false and the health loop activates it when the peer comes
// up. A detected federation loop is an error carrying the
// FEDERATION_LOOP_DETECTED reason; the caller is expected to undo the
// registration.
func (m *Manager) Register(ctx context.Context, gatewayID string) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	gw, err := m.catalog.GetGateway(ctx, catalog.System(), gatewayID)
	if err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()
	sess, err := m.cache.get(hctx, gw)
	if err != nil {
		if mcperr.ReasonCode(err) == CodeLoopDetected {
			return err
		}
		m.logger.Warn("peer gateway unreachable at registration",
			logging.Gateway(gw.Name), logging.Err(err))
		m.markUnreachable(ctx, gw)
		return nil
	}
	m.noteSuccess(ctx, gw)
	return m.syncWith(ctx, gw, sess)
}

// Refresh drops the cached session and re-runs the registration
// handshake. Gateway updates that change the URL, transport, or
// credential go through here so the next session uses the new settings.
func (m *Manager) Refresh(ctx context.Context, gatewayID string) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	m.cache.drop(gatewayID)
	m.forgetPeer(gatewayID)
	return m.Register(ctx, gatewayID)
}

// Deactivate drops the peer's session and probe state. The caller owns
// the gateway row; mirrored entity rows keep their flags so re-enabling
// the gateway resumes where things left off.
func (m *Manager) Deactivate(gatewayID string) {
	m.cache.drop(gatewayID)
	m.forgetPeer(gatewayID)
}

// session returns a live session to an enabled peer, dialing one if none
// is cached.
func (m *Manager) session(ctx context.Context, gatewayID string) (peerSession, *store.Gateway, error) {
	if err := m.checkClosed(); err != nil {
		return nil, nil, err
	}
	gw, err := m.catalog.GetGateway(ctx, catalog.System(), gatewayID)
	if err != nil {
		return nil, nil, err
	}
	if !gw.Enabled {
		return nil, nil, mcperr.Newf(mcperr.KindForbidden, "peer gateway %s is disabled", gw.Name)
	}
	sess, err := m.cache.get(ctx, gw)
	if err != nil {
		return nil, nil, err
	}
	return sess, gw, nil
}

// recordCall reports one relayed operation to the metrics callback.
// Deferred with a pointer so the outcome reflects the final error.
func (m *Manager) recordCall(operation, peer string, start time.Time, err *error) {
	if m.observeCall == nil {
		return
	}
	outcome := "ok"
	if *err != nil {
		outcome = "error"
	}
	m.observeCall(operation, peer, outcome, m.now().Sub(start))
}

// CallPeerTool relays a tool invocation to the peer that owns it. The
// name is the peer's own unqualified tool name.
func (m *Manager) CallPeerTool(ctx context.Context, gatewayID, name string, args map[string]any) (payload any, err error) {
	sess, gw, err := m.session(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	defer m.recordCall("call_tool", gw.Name, m.now(), &err)
	res, err := sess.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		m.cache.drop(gatewayID)
		return nil, mcperr.Wrap(mcperr.KindUpstream,
			fmt.Sprintf("calling %s on peer gateway %s", name, gw.Name), err)
	}
	if res.IsError {
		return nil, mcperr.Newf(mcperr.KindUpstream,
			"peer gateway %s rejected %s: %s", gw.Name, name, peerErrorText(res))
	}
	return peerPayload(res), nil
}

// ReadPeerResource relays a resource read to the peer that advertises the
// URI. Federated resource rows carry no content; the peer serves it.
func (m *Manager) ReadPeerResource(ctx context.Context, gatewayID, uri string) (result *mcp.ReadResourceResult, err error) {
	sess, gw, err := m.session(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	defer m.recordCall("read_resource", gw.Name, m.now(), &err)
	res, err := sess.ReadResource(ctx, mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: uri},
	})
	if err != nil {
		m.cache.drop(gatewayID)
		return nil, mcperr.Wrap(mcperr.KindUpstream,
			fmt.Sprintf("reading %s from peer gateway %s", uri, gw.Name), err)
	}
	return res, nil
}

// GetPeerPrompt relays a prompt render to the owning peer.
func (m *Manager) GetPeerPrompt(ctx context.Context, gatewayID, name string, args map[string]string) (result *mcp.GetPromptResult, err error) {
	sess, gw, err := m.session(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	defer m.recordCall("get_prompt", gw.Name, m.now(), &err)
	res, err := sess.GetPrompt(ctx, mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{Name: name, Arguments: args},
	})
	if err != nil {
		m.cache.drop(gatewayID)
		return nil, mcperr.Wrap(mcperr.KindUpstream,
			fmt.Sprintf("rendering %s on peer gateway %s", name, gw.Name), err)
	}
	return res, nil
}

// peerPayload flattens a peer tool result into the dispatcher's payload
// shape: structured content verbatim, a lone text block decoded as JSON
// when it parses, raw text otherwise.
func peerPayload(res *mcp.CallToolResult) any {
	if res.StructuredContent != nil {
		return res.StructuredContent
	}
	var texts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	switch len(texts) {
	case 0:
		return nil
	case 1:
		var decoded any
		if json.Unmarshal([]byte(texts[0]), &decoded) == nil {
			return decoded
		}
		return texts[0]
	default:
		out := make([]any, len(texts))
		for i, t := range texts {
			out[i] = t
		}
		return out
	}
}

func peerErrorText(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok && tc.Text != "" {
			return tc.Text
		}
	}
	return "tool call failed"
}

// peerFor returns the in-memory probe state, creating it on first touch.
// Callers hold m.mu. The unreachable flag seeds from the stored row so a
// restart does not re-announce peers that were already down.
func (m *Manager) peerFor(gw *store.Gateway) *peerState {
	st, ok := m.peers[gw.ID]
	if !ok {
		st = &peerState{unreachable: !gw.Reachable}
		if st.unreachable {
			st.failures = m.cfg.FailureThreshold
		}
		m.peers[gw.ID] = st
	}
	return st
}

func (m *Manager) forgetPeer(gatewayID string) {
	m.mu.Lock()
	delete(m.peers, gatewayID)
	m.mu.Unlock()
}

// markUnreachable flips the gateway and its mirrored entities to
// reachable=false immediately, with the failure count saturated so a
// single successful probe reactivates it.
func (m *Manager) markUnreachable(ctx context.Context, gw *store.Gateway) {
	m.mu.Lock()
	st := m.peerFor(gw)
	st.failures = m.cfg.FailureThreshold
	already := st.unreachable
	st.unreachable = true
	m.mu.Unlock()
	if already {
		return
	}
	m.logger.Warn("peer gateway unreachable", logging.Gateway(gw.Name))
	if err := m.catalog.SetGatewayReachable(ctx, gw.ID, false); err != nil {
		m.logger.Error("recording gateway unreachability failed",
			logging.Gateway(gw.Name), logging.Err(err))
	}
}

// noteFailure counts one failed probe and flips the peer unreachable once
// failures reach the configured threshold.
func (m *Manager) noteFailure(ctx context.Context, gw *store.Gateway) {
	m.mu.Lock()
	st := m.peerFor(gw)
	st.failures++
	saturated := st.failures >= m.cfg.FailureThreshold
	m.mu.Unlock()
	if saturated {
		m.markUnreachable(ctx, gw)
	}
}

// noteSuccess resets the failure count and reports whether the peer was
// unreachable until now. The reachable flags flip back on recovery.
func (m *Manager) noteSuccess(ctx context.Context, gw *store.Gateway) (recovered bool) {
	m.mu.Lock()
	st := m.peerFor(gw)
	st.failures = 0
	recovered = st.unreachable
	st.unreachable = false
	m.mu.Unlock()
	if !recovered {
		return false
	}
	m.logger.Info("peer gateway recovered", logging.Gateway(gw.Name))
	if err := m.catalog.SetGatewayReachable(ctx, gw.ID, true); err != nil {
		m.logger.Error("recording gateway recovery failed",
			logging.Gateway(gw.Name), logging.Err(err))
	}
	return true
}

// probeGateway pings the peer's cached session, dialing a fresh one (and
// thereby re-running the handshake) when none is live. A failed ping
// drops the session so the next probe starts clean.
func (m *Manager) probeGateway(ctx context.Context, gw *store.Gateway) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
	defer cancel()
	sess, err := m.cache.get(pctx, gw)
	if err == nil {
		err = sess.Ping(pctx)
	}
	if err != nil {
		m.cache.drop(gw.ID)
		m.logger.Debug("peer gateway probe failed",
			logging.Gateway(gw.Name), logging.Err(err))
		m.noteFailure(ctx, gw)
		if m.observeProbe != nil {
			m.observeProbe(gw.Name, "unreachable")
		}
		return
	}
	if m.observeProbe != nil {
		m.observeProbe(gw.Name, "healthy")
	}
	if m.noteSuccess(ctx, gw) {
		if err := m.syncWith(ctx, gw, sess); err != nil {
			m.logger.Warn("post-recovery catalog sync failed",
				logging.Gateway(gw.Name), logging.Err(err))
		}
	}
}

func (m *Manager) probeAll(ctx context.Context) {
	enabled := true
	gateways, _, err := m.store.ListGateways(ctx, store.Unrestricted(), store.Filter{Enabled: &enabled}, store.Page{})
	if err != nil {
		m.logger.Error("listing gateways for health probes failed", logging.Err(err))
		return
	}
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentPeers)
	for i := range gateways {
		gw := &gateways[i]
		g.Go(func() error {
			m.probeGateway(ctx, gw)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll(context.Background())
		}
	}
}

func (m *Manager) resyncLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.resyncAll(context.Background())
		}
	}
}

// Close stops the background loops and closes every peer session. Safe
// to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	m.cache.closeAll()
	m.logger.Info("federation manager stopped")
	return nil
}
