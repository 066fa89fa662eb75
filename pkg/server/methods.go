// Control-method dispatch: frame codec helpers, the connect handshake, and
// the per-method request handlers. Grounded on the teacher's pkg/web REST
// handler table, generalized from HTTP routes to req-frame methods answered
// over the same persistent connection.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudbro-kube-ai/k13d/pkg/authn"
	"github.com/cloudbro-kube-ai/k13d/pkg/debounce"
	execpkg "github.com/cloudbro-kube-ai/k13d/pkg/exec"
	"github.com/cloudbro-kube-ai/k13d/pkg/log"
	"github.com/cloudbro-kube-ai/k13d/pkg/pairing"
	"github.com/cloudbro-kube-ai/k13d/pkg/protocol"
	"github.com/cloudbro-kube-ai/k13d/pkg/registry"
	"github.com/cloudbro-kube-ai/k13d/pkg/session"
)

func encodeFrame(frame any) ([]byte, error) {
	f, ok := frame.(*protocol.Frame)
	if !ok {
		return nil, fmt.Errorf("server: not a protocol frame: %T", frame)
	}
	return protocol.Encode(f)
}

func decodeFrame(data []byte) (*protocol.Frame, error) { return protocol.Decode(data) }

func errorFrame(id, message string) *protocol.Frame {
	return protocol.NewError(id, protocol.ErrInvalidRequest, message)
}

func protocolErrorResponse(id string, err error) *protocol.Frame {
	if pe, ok := err.(*protocol.Error); ok {
		return protocol.NewError(id, pe.Code, pe.Message)
	}
	return protocol.NewError(id, protocol.ErrInvalidRequest, err.Error())
}

type connectParams struct {
	Client struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Version     string `json:"version"`
		Mode        string `json:"mode"`
		Platform    string `json:"platform"`
	} `json:"client"`
	MinProtocol int `json:"minProtocol"`
	MaxProtocol int `json:"maxProtocol"`
	Auth        struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	} `json:"auth"`
	Role     string   `json:"role"`
	Scope    []string `json:"scope"`
	DeviceID string   `json:"deviceId"`
}

// handleConnect authenticates the first frame on a freshly accepted
// connection. It returns false when the connection must be closed.
func (g *Gateway) handleConnect(conn *wsConn, f *protocol.Frame, tunnelHeader string) bool {
	if f.Kind != protocol.KindReq || f.Method != protocol.MethodConnect {
		_ = conn.Send(errorFrame(f.ID, "first frame must be connect"))
		return false
	}
	if err := g.Methods.Validate(f.Method, f.Params); err != nil {
		_ = conn.Send(protocolErrorResponse(f.ID, err))
		return false
	}

	var p connectParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		_ = conn.Send(errorFrame(f.ID, "invalid connect params"))
		return false
	}
	if protocol.Version < p.MinProtocol || protocol.Version > p.MaxProtocol {
		_ = conn.Send(protocol.NewError(f.ID, protocol.ErrVersionMismatch, "unsupported protocol version"))
		return false
	}

	role := registry.Role(p.Role)
	if role == "" {
		role = registry.RoleOperator
	}
	deviceID := p.DeviceID
	if deviceID == "" {
		deviceID = p.Client.ID
	}

	creds := authn.Credentials{
		Token:        p.Auth.Token,
		Password:     p.Auth.Password,
		Username:     p.Client.ID,
		TunnelHeader: tunnelHeader,
	}
	identity, err := g.Auth.Authenticate(context.Background(), creds, role, deviceID)
	if err != nil {
		_ = conn.Send(protocol.NewError(f.ID, protocol.ErrUnauthorized, "authentication failed"))
		return false
	}

	connection := &registry.Connection{
		Handle:   conn.handle,
		DeviceID: identity.DeviceID,
		Role:     role,
		Scopes:   identity.Scopes,
		Protocol: protocol.Version,
	}
	g.Registry.Register(connection, conn)

	res, err := protocol.NewResult(f.ID, map[string]any{
		"protocol": protocol.Version,
		"deviceId": identity.DeviceID,
		"role":     role,
	})
	if err != nil {
		return false
	}
	return conn.Send(res) == nil
}

// dispatch routes one post-handshake frame. res frames are replies to
// requests this gateway itself initiated (node.invoke round trips); req
// frames are client calls answered synchronously.
func (g *Gateway) dispatch(conn *wsConn, f *protocol.Frame) {
	switch f.Kind {
	case protocol.KindRes:
		g.resolveNodeCall(f.ID, f.Payload, f.Error)
	case protocol.KindReq:
		g.dispatchRequest(conn, f)
	}
}

func (g *Gateway) dispatchRequest(conn *wsConn, f *protocol.Frame) {
	if err := g.Methods.Validate(f.Method, f.Params); err != nil {
		_ = conn.Send(protocolErrorResponse(f.ID, err))
		return
	}

	c, ok := g.Registry.Get(conn.handle)
	if !ok {
		_ = conn.Send(protocol.NewError(f.ID, protocol.ErrUnauthorized, "connection not registered"))
		return
	}

	var (
		payload any
		err     error
	)
	switch f.Method {
	case protocol.MethodChatSend:
		payload, err = g.handleChatSend(c, f.Params)
	case protocol.MethodChatAbort:
		payload, err = g.handleChatAbort(c, f.Params)
	case protocol.MethodChatInject:
		payload, err = g.handleChatInject(c, f.Params)
	case protocol.MethodChatHistory:
		payload, err = g.handleChatHistory(c, f.Params)
	case protocol.MethodNodeInvoke:
		payload, err = g.handleNodeInvoke(c, f.Params)
	case protocol.MethodApprovalList:
		payload, err = g.handleApprovalList(c, f.Params)
	case protocol.MethodApprovalResolve:
		payload, err = g.handleApprovalResolve(c, f.Params)
	case protocol.MethodPairingList:
		payload, err = g.handlePairingList(c, f.Params)
	case protocol.MethodPairingApprove:
		payload, err = g.handlePairingApprove(c, f.Params)
	case protocol.MethodPairingDeny:
		payload, err = g.handlePairingDeny(c, f.Params)
	default:
		err = protocol.NewErr(protocol.ErrUnknownMethod, "unhandled method: "+f.Method)
	}

	if err != nil {
		_ = conn.Send(protocolErrorResponse(f.ID, err))
		return
	}
	res, encErr := protocol.NewResult(f.ID, payload)
	if encErr != nil {
		log.Errorf("server: encoding result for %s: %v", f.Method, encErr)
		return
	}
	_ = conn.Send(res)
}

func requireScope(c *registry.Connection, scope registry.Scope) error {
	if c.Role == registry.RoleNode {
		return nil // nodes authenticate via their own device identity, not operator scopes
	}
	if !c.HasScope(scope) {
		return protocol.NewErr(protocol.ErrUnauthorized, "missing required scope: "+string(scope))
	}
	return nil
}

type chatTarget struct {
	Channel string `json:"channel"`
	Account string `json:"account"`
	Peer    struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"peer"`
	Thread  string `json:"thread"`
	TopicID string `json:"topicId"`
}

type chatSendParams struct {
	SessionKey     string      `json:"sessionKey"`
	Target         *chatTarget `json:"target"`
	Message        string      `json:"message"`
	IdempotencyKey string      `json:"idempotencyKey"`
}

func (g *Gateway) handleChatSend(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopeWrite); err != nil {
		return nil, err
	}
	var p chatSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "invalid chat.send params")
	}
	if p.SessionKey == "" && p.Target == nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "chat.send requires sessionKey or target")
	}

	key := resolveChatSessionKey(p, g.SessionCfg)

	if c.Role == registry.RoleChannelPlugin && p.Target != nil {
		policy := g.pairingPolicyFor(p.Target.Channel)
		switch g.Pairing.Evaluate(p.Target.Channel, policy, p.Target.Peer.ID) {
		case pairing.DecisionDrop:
			return nil, protocol.NewErr(protocol.ErrUnauthorized, "sender not paired")
		case pairing.DecisionPairingIssued:
			g.Registry.BroadcastScope(registry.ScopePairing, mustEvent(protocol.EventPairingChanged, map[string]any{
				"channel": p.Target.Channel, "sender": p.Target.Peer.ID, "status": "pending",
			}))
			return map[string]any{"status": "pairing-pending"}, nil
		}
	}

	rt := g.Sessions.GetOrCreate(key, DefaultAgentID)
	rt.Touch()
	g.Registry.SubscribeTopic(c.Handle, topicForSession(key))

	// ackID becomes the actual Turn.RunID the scheduler assigns once the
	// debounce window flushes (see onDebounceFlush/Scheduler.Submit) — a
	// retried send with the same idempotencyKey must get back the same
	// runId as the original, not a second, unrelated one.
	ackID, replayed := g.idem.GetOrSet(idempotencyKey(string(key), p.IdempotencyKey), newRunID())
	if replayed {
		return map[string]any{"runId": ackID, "status": "started"}, nil
	}

	window := time.Duration(g.cfg.Session.DebounceMillis) * time.Millisecond
	g.Debouncer.Push(string(key), debounce.Message{Text: p.Message, Arrived: time.Now(), RunID: ackID}, window)

	return map[string]any{"runId": ackID, "status": "started"}, nil
}

func resolveChatSessionKey(p chatSendParams, cfg *session.Config) session.Key {
	if p.SessionKey != "" {
		return session.Key(p.SessionKey)
	}
	t := p.Target
	return session.Resolve(session.ResolveInput{
		Channel: t.Channel, AccountID: t.Account,
		Peer:    session.Peer{Kind: t.Peer.Kind, ID: t.Peer.ID},
		Thread:  t.Thread, TopicID: t.TopicID,
	}, cfg)
}

func mustEvent(name string, payload any) *protocol.Frame {
	f, err := protocol.NewEvent(name, payload, nil)
	if err != nil {
		return &protocol.Frame{Kind: protocol.KindEvent, Event: name}
	}
	return f
}

func (g *Gateway) handleChatAbort(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopeWrite); err != nil {
		return nil, err
	}
	var p struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "invalid chat.abort params")
	}

	sessionKey, ok := g.sessionForRun(p.RunID)
	if !ok {
		return nil, protocol.NewErr(protocol.ErrNotFound, "unknown runId")
	}
	agentID := DefaultAgentID
	if rt, ok := g.Sessions.Get(session.Key(sessionKey)); ok {
		agentID = rt.AgentID
	}
	if err := g.agentFor(agentID).scheduler.Cancel(sessionKey, p.RunID, "operator abort"); err != nil {
		return nil, protocol.NewErr(protocol.ErrNotFound, err.Error())
	}
	return map[string]any{"accepted": true}, nil
}

func (g *Gateway) handleChatInject(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopeWrite); err != nil {
		return nil, err
	}
	var p struct {
		SessionKey string `json:"sessionKey"`
		Text       string `json:"text"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "invalid chat.inject params")
	}
	g.busFor(session.Key(p.SessionKey)).Push(injectedSystemEvent(p.Text))
	return map[string]any{"accepted": true}, nil
}

func (g *Gateway) handleChatHistory(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopeRead); err != nil {
		return nil, err
	}
	var p struct {
		SessionKey string `json:"sessionKey"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "invalid chat.history params")
	}
	agentID := DefaultAgentID
	if rt, ok := g.Sessions.Get(session.Key(p.SessionKey)); ok {
		agentID = rt.AgentID
	}
	events, err := g.Sessions.History(agentID, session.Key(p.SessionKey), p.Limit)
	if err != nil {
		return nil, protocol.NewErr(protocol.ErrInternal, err.Error())
	}
	return map[string]any{"entries": events}, nil
}

type nodeInvokeParams struct {
	NodeID  string `json:"nodeId"`
	Command string `json:"command"`
	Args    struct {
		Command string            `json:"command"`
		Cwd     string            `json:"cwd"`
		Env     map[string]string `json:"env"`
	} `json:"args"`
}

func (g *Gateway) handleNodeInvoke(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopeWrite); err != nil {
		return nil, err
	}
	var p nodeInvokeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "invalid node.invoke params")
	}

	conns := g.Registry.ByDevice(p.NodeID)
	if len(conns) == 0 {
		return nil, protocol.NewErr(protocol.ErrNotFound, "node not connected: "+p.NodeID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	exitCode, output, err := g.invokeNode(ctx, conns[0], p.Args.Command, p.Args.Cwd, p.Args.Env)
	if err != nil {
		return nil, protocol.NewErr(protocol.ErrInternal, err.Error())
	}
	return map[string]any{"exitCode": exitCode, "output": string(output)}, nil
}

func (g *Gateway) handleApprovalList(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopeApprovals); err != nil {
		return nil, err
	}
	return map[string]any{"approvals": g.ExecPlane.Approvals.List()}, nil
}

func (g *Gateway) handleApprovalResolve(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopeApprovals); err != nil {
		return nil, err
	}
	var p struct {
		ApprovalID string `json:"approvalId"`
		Decision   string `json:"decision"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "invalid approval.resolve params")
	}
	if err := g.ExecPlane.Approvals.Resolve(p.ApprovalID, execpkg.Decision(p.Decision), c.DeviceID); err != nil {
		switch err {
		case execpkg.ErrAlreadyResolved:
			return nil, protocol.NewErr(protocol.ErrAlreadyResolved, err.Error())
		case execpkg.ErrNotFound:
			return nil, protocol.NewErr(protocol.ErrNotFound, err.Error())
		default:
			return nil, protocol.NewErr(protocol.ErrInternal, err.Error())
		}
	}
	return map[string]any{"accepted": true}, nil
}

func (g *Gateway) handlePairingList(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopePairing); err != nil {
		return nil, err
	}
	var p struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "invalid pairing.list params")
	}
	return map[string]any{"requests": g.Pairing.List(p.Channel)}, nil
}

func (g *Gateway) handlePairingApprove(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopePairing); err != nil {
		return nil, err
	}
	var p struct {
		Channel string `json:"channel"`
		Sender  string `json:"sender"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "invalid pairing.approve params")
	}
	if err := g.Pairing.Approve(p.Channel, p.Sender); err != nil {
		return nil, protocol.NewErr(protocol.ErrInternal, err.Error())
	}
	g.Registry.BroadcastScope(registry.ScopePairing, mustEvent(protocol.EventPairingChanged, map[string]any{
		"channel": p.Channel, "sender": p.Sender, "status": "approved",
	}))
	return map[string]any{"accepted": true}, nil
}

func (g *Gateway) handlePairingDeny(c *registry.Connection, raw json.RawMessage) (any, error) {
	if err := requireScope(c, registry.ScopePairing); err != nil {
		return nil, err
	}
	var p struct {
		Channel string `json:"channel"`
		Sender  string `json:"sender"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidRequest, "invalid pairing.deny params")
	}
	if err := g.Pairing.Deny(p.Channel, p.Sender); err != nil {
		return nil, protocol.NewErr(protocol.ErrInternal, err.Error())
	}
	g.Registry.BroadcastScope(registry.ScopePairing, mustEvent(protocol.EventPairingChanged, map[string]any{
		"channel": p.Channel, "sender": p.Sender, "status": "denied",
	}))
	return map[string]any{"accepted": true}, nil
}
