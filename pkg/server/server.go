// Package server wires the gateway's leaf packages (protocol, registry,
// authn, session, pairing, debounce, scheduler, agentrun, exec, outbound,
// channels, events, audit) into the running process: the accept loop, the
// per-connection read/write loops, and the control-method dispatch table
// described in spec §2's data flow (transport -> B,C -> D -> E -> F -> G ->
// H -> I/J/K). Grounded on the teacher's pkg/web/server.go middleware chain
// (recovery/timeout wrapping, graceful shutdown) and pkg/web/terminal.go's
// dedicated websocket read/write goroutines, generalized from an HTTP+REST
// dashboard backend to this protocol's persistent duplex control channel.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/cloudbro-kube-ai/k13d/pkg/agentrun"
	"github.com/cloudbro-kube-ai/k13d/pkg/audit"
	"github.com/cloudbro-kube-ai/k13d/pkg/authn"
	"github.com/cloudbro-kube-ai/k13d/pkg/channels"
	"github.com/cloudbro-kube-ai/k13d/pkg/config"
	"github.com/cloudbro-kube-ai/k13d/pkg/debounce"
	"github.com/cloudbro-kube-ai/k13d/pkg/events"
	execpkg "github.com/cloudbro-kube-ai/k13d/pkg/exec"
	"github.com/cloudbro-kube-ai/k13d/pkg/log"
	"github.com/cloudbro-kube-ai/k13d/pkg/outbound"
	"github.com/cloudbro-kube-ai/k13d/pkg/pairing"
	"github.com/cloudbro-kube-ai/k13d/pkg/protocol"
	"github.com/cloudbro-kube-ai/k13d/pkg/registry"
	"github.com/cloudbro-kube-ai/k13d/pkg/scheduler"
	"github.com/cloudbro-kube-ai/k13d/pkg/session"
)

// DefaultAgentID names the agent bound to a session when none is specified.
const DefaultAgentID = "default"

// agentRuntime bundles one configured agent's scheduler, driver, and tool
// policy, keyed by agent id in Gateway.agents.
type agentRuntime struct {
	policy    agentrun.AgentPolicy
	driver    *agentrun.Driver
	scheduler *scheduler.Scheduler
}

// Gateway is the whole runtime core, assembled by New and driven by Start.
type Gateway struct {
	cfg *config.Config

	Registry  *registry.Registry
	Auth      *authn.Authenticator
	Methods   *protocol.MethodRegistry
	Sessions  *session.Store
	SessionCfg *session.Config
	Pairing   *pairing.Store
	Debouncer *debounce.Debouncer
	ExecPlane *execpkg.Plane
	Outbound  *outbound.Router
	Channels  *channels.Registry
	Audit     *audit.Sink // nil if the SQL sink failed to open; never fatal

	mu     sync.Mutex
	agents map[string]*agentRuntime
	buses  map[session.Key]*events.Bus

	idem *idempotencyCache

	runMu    sync.Mutex
	runIndex map[string]string // runId -> sessionKey, for chat.abort lookups

	nodeMu   sync.Mutex
	nodeCall map[string]chan nodeCallResult

	httpServer *http.Server
	cron       *cron.Cron
}

type nodeCallResult struct {
	exitCode int
	output   []byte
	err      error
}

// New assembles a Gateway from cfg. It never blocks on network I/O; call
// Start to begin accepting connections.
func New(cfg *config.Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: invalid config: %w", err)
	}

	log.Init("gateway", logLevel(cfg.LogLevel), nil)

	stateDir := cfg.EffectiveStateDir()

	sessions, err := session.NewStoreWithDir(stateDir + "/sessions")
	if err != nil {
		return nil, fmt.Errorf("server: opening session store: %w", err)
	}

	auth, err := authn.New(authn.Config{
		SharedToken:    cfg.Auth.SharedToken,
		SharedPassword: cfg.Auth.SharedPassword,
		Tunnel:         authn.TunnelConfig{Enabled: cfg.Auth.TunnelEnabled, HeaderName: cfg.Auth.TunnelHeader},
		LDAP:           ldapConfigFrom(cfg.Auth.LDAP),
	})
	if err != nil {
		return nil, fmt.Errorf("server: building authenticator: %w", err)
	}

	methods, err := protocol.NewMethodRegistry(protocol.DefaultMethods())
	if err != nil {
		return nil, fmt.Errorf("server: compiling method schemas: %w", err)
	}

	gw := &Gateway{
		cfg:      cfg,
		Registry: registry.New(),
		Auth:     auth,
		Methods:  methods,
		Sessions: sessions,
		SessionCfg: &session.Config{
			DMScopeGlobal: session.DMScope(cfg.Session.DMScope),
		},
		Channels: channels.NewRegistry(),
		agents:   make(map[string]*agentRuntime),
		buses:    make(map[session.Key]*events.Bus),
		runIndex: make(map[string]string),
		nodeCall: make(map[string]chan nodeCallResult),
	}

	gw.Pairing = pairing.NewStore(cfg.Pairing.MaxPending, time.Duration(cfg.Pairing.DefaultTTLSeconds)*time.Second, gw.auditPairing)
	gw.Debouncer = debounce.New(gw.onDebounceFlush)

	gw.ExecPlane = &execpkg.Plane{
		Dispatcher: &execpkg.Dispatcher{Node: &nodeInvoker{gw: gw}},
		Approvals:  execpkg.NewApprovalManager(gw.auditApproval),
		Requester:  approvalRequester{gw: gw},
		Events:     execEventPublisher{gw: gw},
		Allowlists: make(map[string]*execpkg.Allowlist),
	}

	gw.Outbound = &outbound.Router{
		Channels:      gw.Channels,
		Sessions:      sessionOpener{gw: gw},
		Lifecycle:     lifecycleNotifier{gw: gw},
		ResolveConfig: gw.SessionCfg,
	}

	webchat := channels.NewWebChat(gw.deliverWebChat)
	gw.Channels.Register(webchat, channels.Limits{MaxChars: 4000, MarkdownStyle: "plain"})

	if sink, err := audit.Open(audit.Config{Driver: audit.Driver(cfg.Audit.Driver), DSN: cfg.Audit.DSN, StateDir: stateDir}); err != nil {
		log.Warnf("audit sink unavailable, continuing without it: %v", err)
	} else {
		gw.Audit = sink
	}

	gw.idem = newIdempotencyCache(5 * time.Minute)

	gw.RegisterAgent(DefaultAgentID, agentrun.EchoCapability{}, agentrun.AgentPolicy{AgentID: DefaultAgentID, ContextWindow: 20})

	return gw, nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ldapConfigFrom(c config.LDAPConfig) authn.LDAPConfig {
	groupScopes := make(map[string]registry.Scope, len(c.GroupScopes))
	for k, v := range c.GroupScopes {
		groupScopes[k] = registry.Scope(v)
	}
	return authn.LDAPConfig{
		Enabled:      c.Enabled,
		URL:          c.URL,
		BindDN:       c.BindDN,
		BindPassword: c.BindPassword,
		BaseDN:       c.BaseDN,
		UserFilter:   c.UserFilter,
		GroupScopes:  groupScopes,
	}
}

// RegisterAgent wires a scheduler+driver pair for agentID using cap as its
// model-provider Capability. Tool executors (exec.run, message.send) are
// attached automatically; callers may add more via agentRuntime extension
// points in a future revision.
func (g *Gateway) RegisterAgent(agentID string, cap agentrun.Capability, policy agentrun.AgentPolicy) {
	policy.AgentID = agentID

	driver := &agentrun.Driver{
		Capability: cap,
		Policy:     policy,
		FullTools: []agentrun.ToolSpec{
			{Name: "exec.run", Description: "Run a shell command on the resolved exec host."},
			{Name: "message.send", Description: "Send a message to a different channel/peer."},
		},
		Tools: map[string]agentrun.ToolExecutor{
			"exec.run":     &execToolExecutor{gw: g, agentID: agentID},
			"message.send": &sendToolExecutor{gw: g, agentID: agentID},
		},
		Bus:     busProvider{gw: g},
		History: historyProvider{gw: g},
		Persist: persister{gw: g},
	}

	sched := scheduler.New(driver, g.sinkFor(agentID), g.cfg.Session.QueueDepth)

	g.mu.Lock()
	g.agents[agentID] = &agentRuntime{policy: policy, driver: driver, scheduler: sched}
	g.mu.Unlock()
}

func (g *Gateway) agentFor(id string) *agentRuntime {
	if id == "" {
		id = DefaultAgentID
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.agents[id]; ok {
		return a
	}
	return g.agents[DefaultAgentID]
}

// busFor returns (creating if needed) the per-session SystemEvent bus.
func (g *Gateway) busFor(key session.Key) *events.Bus {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buses[key]
	if !ok {
		b = events.New(g.cfg.Session.EventBusCapacity)
		g.buses[key] = b
	}
	return b
}

// sinkFor returns the scheduler.EventSink that fans a session's TurnEvents
// to (a) its session transcript, via AppendEvent, and (b) every connection
// subscribed to its event topic.
func (g *Gateway) sinkFor(agentID string) scheduler.EventSink {
	return func(sessionKey string, ev scheduler.TurnEvent) {
		key := session.Key(sessionKey)
		rt, ok := g.Sessions.Get(key)
		if !ok {
			rt = g.Sessions.GetOrCreate(key, agentID)
		}
		_ = g.Sessions.AppendEvent(rt, "turn-event", ev)

		frame, err := protocol.NewEvent(protocol.EventAgent, map[string]any{
			"sessionKey": sessionKey,
			"runId":      ev.RunID,
			"stream":     ev.Stream,
			"data":       ev.Data,
		}, &ev.Seq)
		if err != nil {
			log.Errorf("server: encoding agent event: %v", err)
			return
		}
		g.Registry.BroadcastTopic(topicForSession(key), frame)
	}
}

// recordRun remembers which session owns runID, for chat.abort's lookup.
func (g *Gateway) recordRun(runID, sessionKey string) {
	g.runMu.Lock()
	g.runIndex[runID] = sessionKey
	g.runMu.Unlock()
}

func (g *Gateway) sessionForRun(runID string) (string, bool) {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	key, ok := g.runIndex[runID]
	return key, ok
}

func topicForSession(key session.Key) string { return "session:" + string(key) }

func newRunID() string { return uuid.NewString() }

// Close releases resources that outlive a single Start/Stop cycle (used by
// tests that build a Gateway without ever calling Start).
func (g *Gateway) Close() error {
	if g.Audit != nil {
		return g.Audit.Close()
	}
	return nil
}

// Shutdown stops accepting new work and drains background sweeps, used by
// both the CLI's "stop" path and graceful process shutdown.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.cron != nil {
		g.cron.Stop()
	}
	g.Channels.StopAll(ctx)
	if g.httpServer != nil {
		return g.httpServer.Shutdown(ctx)
	}
	return nil
}
