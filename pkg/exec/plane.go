package exec

import (
	"context"
	"time"
)

// DefaultApprovalTimeout matches the spec's default approval TTL.
const DefaultApprovalTimeout = 60 * time.Second

// ApprovalRequester publishes an approval-requested event to every operator
// connection with the approvals scope. Implemented by pkg/server.
type ApprovalRequester interface {
	PublishApprovalRequested(a *Approval)
}

// EventPublisher publishes exec.started/finished/denied as event frames on
// the session's topic and as SystemEvents on the session. They are not
// emitted as TurnEvents on the turn's agent stream.
type EventPublisher interface {
	PublishExecStarted(sessionKey, requestID string)
	PublishExecFinished(sessionKey, requestID string, exitCode int)
	PublishExecDenied(sessionKey, requestID, reason string)
}

// Plane ties policy resolution, allowlist matching, the approval protocol,
// and dispatch together into the single entry point pkg/agentrun's tool
// dispatch calls for an exec tool invocation.
type Plane struct {
	Dispatcher *Dispatcher
	Approvals  *ApprovalManager
	Requester  ApprovalRequester
	Events     EventPublisher

	// Allowlists is keyed by agent id; callers own persistence.
	Allowlists map[string]*Allowlist
}

// Invoke resolves policy, authorizes (asking an operator if required), and
// dispatches req. It returns ExecDenied as a typed error when the policy or
// a deny resolution rejects the command.
func (p *Plane) Invoke(ctx context.Context, agentID string, global Policy, agentOverride, callOverride *Override, req ExecRequest) (Result, error) {
	policy := Resolve(global, agentOverride, callOverride)
	req.Host, req.NodeID, req.Security, req.Ask = policy.Host, policy.NodeID, policy.Security, policy.Ask

	allowlist := p.Allowlists[agentID]
	if allowlist == nil {
		allowlist = NewAllowlist(nil)
		if p.Allowlists == nil {
			p.Allowlists = make(map[string]*Allowlist)
		}
		p.Allowlists[agentID] = allowlist
	}

	parsed := ParseCommand(req.Command)
	_, matched := allowlist.Match(policy.Host, policy.NodeID, parsed.Program)

	authorized, mustAsk := Authorize(policy.Security, policy.Ask, matched)

	if !authorized && !mustAsk {
		p.publishDenied(req, "policy denied: security="+string(policy.Security))
		return Result{ExitCode: -1}, NewExecDeniedError("policy denied")
	}

	if mustAsk {
		approval := p.Approvals.Create(req.RequestID, req.SessionKey, req.Command, policy.Host, "ask="+string(policy.Ask), DefaultApprovalTimeout)
		if p.Requester != nil {
			p.Requester.PublishApprovalRequested(approval)
		}
		decision, err := p.Approvals.Wait(ctx, approval.ApprovalID)
		if err != nil {
			p.publishDenied(req, "approval wait error: "+err.Error())
			return Result{ExitCode: -1}, err
		}
		switch decision {
		case DecisionAllowAndAdd:
			allowlist.Add(policy.Host, policy.NodeID, parsed.Program)
		case DecisionAllowOnce:
			// one-shot: no allowlist mutation
		default: // deny, timeout
			p.publishDenied(req, "approval "+string(decision))
			return Result{ExitCode: -1}, NewExecDeniedError("approval " + string(decision))
		}
	}

	if p.Events != nil {
		p.Events.PublishExecStarted(req.SessionKey, req.RequestID)
	}
	result := p.Dispatcher.Dispatch(ctx, req)
	if p.Events != nil {
		p.Events.PublishExecFinished(req.SessionKey, req.RequestID, result.ExitCode)
	}
	return result, nil
}

func (p *Plane) publishDenied(req ExecRequest, reason string) {
	if p.Events != nil {
		p.Events.PublishExecDenied(req.SessionKey, req.RequestID, reason)
	}
}

// ExecDeniedError is a typed error surfaced as the protocol's EXEC_DENIED
// code by the transport layer.
type ExecDeniedError struct{ Reason string }

func NewExecDeniedError(reason string) *ExecDeniedError { return &ExecDeniedError{Reason: reason} }

func (e *ExecDeniedError) Error() string { return "exec denied: " + e.Reason }
