package server

import (
	"testing"
	"time"

	"github.com/cloudbro-kube-ai/k13d/pkg/config"
	execpkg "github.com/cloudbro-kube-ai/k13d/pkg/exec"
	"github.com/cloudbro-kube-ai/k13d/pkg/pairing"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.StateDir = t.TempDir()
	gw, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return gw
}

func TestListConnectionsEmpty(t *testing.T) {
	gw := newTestGateway(t)
	if got := gw.ListConnections(); len(got) != 0 {
		t.Fatalf("expected no connections, got %d", len(got))
	}
}

func TestListPairingAggregatesAcrossChannels(t *testing.T) {
	gw := newTestGateway(t)
	gw.Pairing.Evaluate("slack", pairing.PolicyPairing, "alice")
	gw.Pairing.Evaluate("discord", pairing.PolicyPairing, "bob")

	got := gw.ListPairing([]string{"slack", "discord", "empty"})
	if len(got) != 2 {
		t.Fatalf("expected 2 pending requests, got %d: %+v", len(got), got)
	}
}

func TestApproveAndDenyPairing(t *testing.T) {
	gw := newTestGateway(t)
	gw.Pairing.Evaluate("slack", pairing.PolicyPairing, "alice")

	if err := gw.ApprovePairing("slack", "alice"); err != nil {
		t.Fatalf("ApprovePairing: %v", err)
	}
	if got := gw.ListPairing([]string{"slack"}); len(got) != 0 {
		t.Fatalf("expected pending list empty after approve, got %+v", got)
	}
	if d := gw.Pairing.Evaluate("slack", pairing.PolicyPairing, "alice"); d != pairing.DecisionAdmit {
		t.Fatalf("expected approved sender to be admitted, got %v", d)
	}

	gw.Pairing.Evaluate("slack", pairing.PolicyPairing, "carol")
	if err := gw.DenyPairing("slack", "carol"); err != nil {
		t.Fatalf("DenyPairing: %v", err)
	}
	if got := gw.ListPairing([]string{"slack"}); len(got) != 0 {
		t.Fatalf("expected pending list empty after deny, got %+v", got)
	}
}

func TestApprovePairingWithoutPendingRequestAdmits(t *testing.T) {
	gw := newTestGateway(t)
	if err := gw.ApprovePairing("slack", "nobody"); err != nil {
		t.Fatalf("ApprovePairing without a pending request: %v", err)
	}
	if d := gw.Pairing.Evaluate("slack", pairing.PolicyPairing, "nobody"); d != pairing.DecisionAdmit {
		t.Fatalf("expected directly approved sender to be admitted, got %v", d)
	}
}

func TestListAndResolveApprovals(t *testing.T) {
	gw := newTestGateway(t)
	a := gw.ExecPlane.Approvals.Create("req-1", "slack:acct:user:alice", "rm -rf /tmp/x",
		execpkg.HostSandbox, "destructive write", time.Minute)

	got := gw.ListApprovals()
	if len(got) != 1 || got[0].ApprovalID != a.ApprovalID {
		t.Fatalf("expected 1 pending approval matching %s, got %+v", a.ApprovalID, got)
	}

	if err := gw.ResolveApproval(a.ApprovalID, execpkg.DecisionAllowOnce, "operator-1"); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	if got := gw.ListApprovals(); len(got) != 0 {
		t.Fatalf("expected no pending approvals after resolve, got %+v", got)
	}
}

func TestResolveApprovalUnknownErrors(t *testing.T) {
	gw := newTestGateway(t)
	if err := gw.ResolveApproval("does-not-exist", execpkg.DecisionDeny, "operator-1"); err == nil {
		t.Fatal("expected error resolving an unknown approval id")
	}
}
