package server

import (
	execpkg "github.com/cloudbro-kube-ai/k13d/pkg/exec"
	"github.com/cloudbro-kube-ai/k13d/pkg/pairing"
	"github.com/cloudbro-kube-ai/k13d/pkg/protocol"
	"github.com/cloudbro-kube-ai/k13d/pkg/registry"
)

// The methods below satisfy pkg/dashboard.Source, letting the operator
// console attach directly to a running Gateway's in-process state instead of
// round-tripping its own control-protocol connection.

// ListConnections snapshots every live connection across all roles.
func (g *Gateway) ListConnections() []registry.Connection {
	var out []registry.Connection
	for _, role := range []registry.Role{registry.RoleOperator, registry.RoleNode, registry.RoleChannelPlugin} {
		for _, c := range g.Registry.ListByRole(role) {
			out = append(out, *c)
		}
	}
	return out
}

// ListPairing returns every pending pairing request across the given
// channel names (a dashboard has no single "list all channels" RPC, so it
// is handed the gateway's configured channel list directly).
func (g *Gateway) ListPairing(channels []string) []pairing.Request {
	var out []pairing.Request
	for _, ch := range channels {
		out = append(out, g.Pairing.List(ch)...)
	}
	return out
}

// ListApprovals returns every currently pending exec approval.
func (g *Gateway) ListApprovals() []*execpkg.Approval {
	return g.ExecPlane.Approvals.List()
}

// ResolveApproval resolves a pending approval, mirroring handleApprovalResolve.
func (g *Gateway) ResolveApproval(approvalID string, decision execpkg.Decision, resolvedBy string) error {
	return g.ExecPlane.Approvals.Resolve(approvalID, decision, resolvedBy)
}

// ApprovePairing promotes a pending request to the allowlist and notifies
// any operator connections subscribed to pairing events.
func (g *Gateway) ApprovePairing(channel, sender string) error {
	if err := g.Pairing.Approve(channel, sender); err != nil {
		return err
	}
	g.Registry.BroadcastScope(registry.ScopePairing, mustEvent(protocol.EventPairingChanged, map[string]any{
		"channel": channel, "sender": sender, "status": "approved",
	}))
	return nil
}

// DenyPairing removes a pending request without granting access.
func (g *Gateway) DenyPairing(channel, sender string) error {
	if err := g.Pairing.Deny(channel, sender); err != nil {
		return err
	}
	g.Registry.BroadcastScope(registry.ScopePairing, mustEvent(protocol.EventPairingChanged, map[string]any{
		"channel": channel, "sender": sender, "status": "denied",
	}))
	return nil
}
