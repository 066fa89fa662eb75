package server

import (
	"context"
	"encoding/json"

	"github.com/cloudbro-kube-ai/k13d/pkg/agentrun"
	"github.com/cloudbro-kube-ai/k13d/pkg/audit"
	"github.com/cloudbro-kube-ai/k13d/pkg/channels"
	"github.com/cloudbro-kube-ai/k13d/pkg/debounce"
	"github.com/cloudbro-kube-ai/k13d/pkg/events"
	execpkg "github.com/cloudbro-kube-ai/k13d/pkg/exec"
	"github.com/cloudbro-kube-ai/k13d/pkg/log"
	"github.com/cloudbro-kube-ai/k13d/pkg/outbound"
	"github.com/cloudbro-kube-ai/k13d/pkg/pairing"
	"github.com/cloudbro-kube-ai/k13d/pkg/protocol"
	"github.com/cloudbro-kube-ai/k13d/pkg/registry"
	"github.com/cloudbro-kube-ai/k13d/pkg/session"
)

// historyProvider adapts pkg/session.Store to agentrun.HistoryProvider,
// replaying the JSONL transcript's user/assistant lines into prompt history.
type historyProvider struct{ gw *Gateway }

func (h historyProvider) RecentHistory(sessionKey session.Key, limit int) []agentrun.HistoryTurn {
	rt, ok := h.gw.Sessions.Get(sessionKey)
	if !ok {
		return nil
	}
	events, err := h.gw.Sessions.History(rt.AgentID, sessionKey, limit)
	if err != nil {
		log.Warnf("server: loading history for %s: %v", sessionKey, err)
		return nil
	}
	out := make([]agentrun.HistoryTurn, 0, len(events))
	for _, ev := range events {
		var role string
		switch ev.Kind {
		case "user-message":
			role = "user"
		case "assistant-message":
			role = "assistant"
		default:
			continue
		}
		var text string
		if err := json.Unmarshal(ev.Data, &text); err != nil {
			continue
		}
		out = append(out, agentrun.HistoryTurn{Role: role, Content: text})
	}
	return out
}

// persister adapts pkg/session.Store to agentrun.Persister.
type persister struct{ gw *Gateway }

func (p persister) PersistAssistantMessage(sessionKey session.Key, text string) {
	rt, ok := p.gw.Sessions.Get(sessionKey)
	if !ok {
		return
	}
	if err := p.gw.Sessions.AppendEvent(rt, "assistant-message", text); err != nil {
		log.Warnf("server: persisting assistant message for %s: %v", sessionKey, err)
	}
}

// busProvider adapts Gateway.busFor to agentrun.BusProvider.
type busProvider struct{ gw *Gateway }

func (b busProvider) BusFor(sessionKey session.Key) *events.Bus { return b.gw.busFor(sessionKey) }

// execToolExecutor adapts pkg/exec.Plane to agentrun.ToolExecutor for the
// "exec.run" tool.
type execToolExecutor struct {
	gw      *Gateway
	agentID string
}

type execToolArgs struct {
	Command string            `json:"command"`
	Cwd     string            `json:"cwd"`
	Env     map[string]string `json:"env"`
}

func (e *execToolExecutor) IsExecTool(name string) bool { return name == "exec.run" }

func (e *execToolExecutor) Execute(ctx context.Context, sessionKey session.Key, call agentrun.ToolCall) (string, bool) {
	var args execToolArgs
	if err := json.Unmarshal([]byte(call.ArgsJSON), &args); err != nil {
		return `{"error":"invalid exec.run arguments"}`, true
	}

	global := execpkg.Policy{
		Host:     execpkg.HostKind(e.gw.cfg.Exec.DefaultHost),
		Security: execpkg.Security(e.gw.cfg.Exec.DefaultSecurity),
		Ask:      execpkg.Ask(e.gw.cfg.Exec.DefaultAsk),
	}

	req := execpkg.ExecRequest{
		RequestID:  newRunID(),
		TurnID:     call.TurnID,
		SessionKey: string(sessionKey),
		Command:    args.Command,
		Cwd:        args.Cwd,
		Env:        args.Env,
	}

	result, err := e.gw.ExecPlane.Invoke(ctx, e.agentID, global, nil, nil, req)
	if err != nil {
		return agentrun.MarshalToolArgs(map[string]any{"error": err.Error()}), true
	}
	return agentrun.MarshalToolArgs(map[string]any{
		"exitCode": result.ExitCode,
		"output":   string(result.Output),
	}), result.ExitCode != 0
}

// sendToolExecutor adapts pkg/outbound.Router to agentrun.ToolExecutor for
// the "message.send" tool, letting an agent mirror output to a different
// channel/peer/session than the one driving the current turn.
type sendToolExecutor struct {
	gw      *Gateway
	agentID string
}

type sendToolArgs struct {
	Channel string `json:"channel"`
	Account string `json:"account"`
	Peer    struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"peer"`
	Text string `json:"text"`
}

func (s *sendToolExecutor) IsExecTool(name string) bool { return false }

func (s *sendToolExecutor) Execute(ctx context.Context, sessionKey session.Key, call agentrun.ToolCall) (string, bool) {
	var args sendToolArgs
	if err := json.Unmarshal([]byte(call.ArgsJSON), &args); err != nil {
		return `{"error":"invalid message.send arguments"}`, true
	}

	target := channels.Target{Channel: args.Channel, Account: args.Account}
	target.Peer.Kind, target.Peer.ID = args.Peer.Kind, args.Peer.ID

	err := s.gw.Outbound.Deliver(ctx, outbound.Outbound{
		SourceKey: sessionKey,
		Target:    target,
		Payload:   channels.Payload{Text: args.Text},
		AgentID:   s.agentID,
	})
	if err != nil {
		return agentrun.MarshalToolArgs(map[string]any{"error": err.Error()}), true
	}
	return `{"ok":true}`, false
}

// sessionOpener adapts pkg/session.Store to outbound.SessionOpener.
type sessionOpener struct{ gw *Gateway }

func (s sessionOpener) EnsureSession(key session.Key, agentID string) *session.Runtime {
	return s.gw.Sessions.GetOrCreate(key, agentID)
}

// lifecycleNotifier adapts the registry's topic broadcast to
// outbound.LifecycleNotifier.
type lifecycleNotifier struct{ gw *Gateway }

func (l lifecycleNotifier) NotifyDeliveryFailed(sourceKey, targetKey session.Key, reason string) {
	frame, err := protocol.NewEvent(protocol.EventPresence, map[string]any{
		"kind":      "delivery-failed",
		"source":    string(sourceKey),
		"target":    string(targetKey),
		"reason":    reason,
	}, nil)
	if err != nil {
		log.Errorf("server: encoding delivery-failed event: %v", err)
		return
	}
	l.gw.Registry.BroadcastTopic(topicForSession(sourceKey), frame)
}

// approvalRequester adapts the registry's approvals-scope broadcast to
// exec.ApprovalRequester.
type approvalRequester struct{ gw *Gateway }

func (a approvalRequester) PublishApprovalRequested(appr *execpkg.Approval) {
	frame, err := protocol.NewEvent(protocol.EventApprovalRequest, map[string]any{
		"approvalId": appr.ApprovalID,
		"requestId":  appr.ExecRequestID,
		"sessionKey": appr.SessionKey,
		"command":    appr.Command,
		"host":       appr.Host,
		"reason":     appr.Reason,
	}, nil)
	if err != nil {
		log.Errorf("server: encoding approval.requested event: %v", err)
		return
	}
	a.gw.Registry.BroadcastScope(registry.ScopeApprovals, frame)
}

// execEventPublisher adapts the session event bus + registry broadcast to
// exec.EventPublisher.
type execEventPublisher struct{ gw *Gateway }

func (e execEventPublisher) PublishExecStarted(sessionKey, requestID string) {
	e.publish(sessionKey, protocol.EventExecStarted, map[string]any{"requestId": requestID})
	e.gw.busFor(session.Key(sessionKey)).Push(events.SystemEvent{
		Kind: "exec.started", Message: "command started", Data: map[string]any{"requestId": requestID},
	})
}

func (e execEventPublisher) PublishExecFinished(sessionKey, requestID string, exitCode int) {
	e.publish(sessionKey, protocol.EventExecFinished, map[string]any{"requestId": requestID, "exitCode": exitCode})
	e.gw.busFor(session.Key(sessionKey)).Push(events.SystemEvent{
		Kind: "exec.finished", Message: "command finished", Data: map[string]any{"requestId": requestID, "exitCode": exitCode},
	})
}

func (e execEventPublisher) PublishExecDenied(sessionKey, requestID, reason string) {
	e.publish(sessionKey, protocol.EventExecDenied, map[string]any{"requestId": requestID, "reason": reason})
	e.gw.busFor(session.Key(sessionKey)).Push(events.SystemEvent{
		Kind: "exec.denied", Message: reason, Data: map[string]any{"requestId": requestID},
	})
}

func (e execEventPublisher) publish(sessionKey, name string, payload map[string]any) {
	payload["sessionKey"] = sessionKey
	frame, err := protocol.NewEvent(name, payload, nil)
	if err != nil {
		log.Errorf("server: encoding %s event: %v", name, err)
		return
	}
	e.gw.Registry.BroadcastTopic(topicForSession(session.Key(sessionKey)), frame)
}

// nodeInvoker forwards exec.Plane's node.invoke{system.run} request to the
// named node's connection via a correlated req/res round trip, and blocks
// until the reply frame arrives or ctx is cancelled.
type nodeInvoker struct{ gw *Gateway }

func (n *nodeInvoker) InvokeSystemRun(ctx context.Context, nodeID, command, cwd string, env map[string]string) (int, []byte, error) {
	conns := n.gw.Registry.ByDevice(nodeID)
	if len(conns) == 0 {
		return -1, nil, execpkg.NewExecDeniedError("node " + nodeID + " is not connected")
	}
	return n.gw.invokeNode(ctx, conns[0], command, cwd, env)
}

// auditPairing adapts pairing.AuditFunc to the audit sink.
func (g *Gateway) auditPairing(action, channel, sender string) {
	if g.Audit == nil {
		return
	}
	if err := g.Audit.Record(context.Background(), audit.Record{
		Category: audit.CategoryPairing, Action: action, Channel: channel, Actor: sender,
	}); err != nil {
		log.Warnf("server: recording pairing audit: %v", err)
	}
}

// auditApproval records an approval resolution.
func (g *Gateway) auditApproval(a *execpkg.Approval) {
	if g.Audit == nil {
		return
	}
	if err := g.Audit.Record(context.Background(), audit.Record{
		Category:   audit.CategoryApproval,
		Action:     string(a.ApprovalID),
		SessionKey: a.SessionKey,
		Detail:     a.Command,
	}); err != nil {
		log.Warnf("server: recording approval audit: %v", err)
	}
}

// onDebounceFlush is the Debouncer's FlushFunc: it joins a session's
// coalesced burst into one composite input and submits it as a turn.
func (g *Gateway) onDebounceFlush(sessionKey string, msgs []debounce.Message) {
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	composite := joinMessages(texts)

	rt, ok := g.Sessions.Get(session.Key(sessionKey))
	if !ok {
		rt = g.Sessions.GetOrCreate(session.Key(sessionKey), DefaultAgentID)
	}
	if err := g.Sessions.AppendEvent(rt, "user-message", composite); err != nil {
		log.Warnf("server: persisting inbound message for %s: %v", sessionKey, err)
	}

	agent := g.agentFor(rt.AgentID)
	runID, err := agent.scheduler.Submit(sessionKey, msgs[0].RunID, composite)
	if err != nil {
		log.Errorf("server: submitting turn for %s: %v", sessionKey, err)
		return
	}
	g.recordRun(runID, sessionKey)
}

func joinMessages(texts []string) string {
	out := texts[0]
	for _, t := range texts[1:] {
		out += "\n" + t
	}
	return out
}

// deliverWebChat is the built-in WebChat plugin's Deliver callback: it fans
// the outbound payload to every connection subscribed to the target
// session's topic, the same path a chat.send response's assistant events
// travel.
func (g *Gateway) deliverWebChat(ctx context.Context, target channels.Target, payload channels.Payload) error {
	targetKey := session.Resolve(session.ResolveInput{
		Channel: target.Channel, AccountID: target.Account,
		Peer: session.Peer{Kind: target.Peer.Kind, ID: target.Peer.ID},
	}, g.SessionCfg)

	frame, err := protocol.NewEvent(protocol.EventAgent, map[string]any{
		"sessionKey": string(targetKey),
		"stream":     "assistant",
		"data":       map[string]string{"text": payload.Text},
	}, nil)
	if err != nil {
		return err
	}
	g.Registry.BroadcastTopic(topicForSession(targetKey), frame)
	return nil
}

// injectedSystemEvent wraps an operator's chat.inject text as a SystemEvent
// so it surfaces in the next turn's prompt prelude alongside exec/pairing
// notices.
func injectedSystemEvent(text string) events.SystemEvent {
	return events.SystemEvent{Kind: "operator.inject", Message: text}
}

// pairingPolicyFor returns the configured pairing policy for channel,
// defaulting to pairing (the safest posture for an unrecognized channel).
func (g *Gateway) pairingPolicyFor(channel string) pairing.Policy {
	for _, c := range g.cfg.Channels {
		if c.Name == channel {
			if c.Policy == "" {
				return pairing.PolicyPairing
			}
			return pairing.Policy(c.Policy)
		}
	}
	return pairing.PolicyPairing
}
