package registry

import (
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []any
}

func (f *fakeSender) Send(frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestRegisterAndListByRole(t *testing.T) {
	r := New()
	op := &Connection{Handle: "h1", DeviceID: "d1", Role: RoleOperator, Scopes: map[Scope]struct{}{ScopeRead: {}}}
	node := &Connection{Handle: "h2", DeviceID: "d1", Role: RoleNode}
	r.Register(op, &fakeSender{})
	r.Register(node, &fakeSender{})

	if got := len(r.ListByRole(RoleOperator)); got != 1 {
		t.Fatalf("expected 1 operator, got %d", got)
	}
	if got := len(r.ByDevice("d1")); got != 2 {
		t.Fatalf("expected device dedup to group 2 connections, got %d", got)
	}
}

func TestDeregisterRemovesAllIndexes(t *testing.T) {
	r := New()
	c := &Connection{Handle: "h1", DeviceID: "d1", Role: RoleOperator}
	r.Register(c, &fakeSender{})
	r.SubscribeTopic("h1", "session:k1")

	r.Deregister("h1")

	if _, ok := r.Get("h1"); ok {
		t.Fatal("expected connection removed")
	}
	if len(r.ByDevice("d1")) != 0 {
		t.Fatal("expected device index cleared")
	}
	if len(r.ListByRole(RoleOperator)) != 0 {
		t.Fatal("expected role index cleared")
	}
}

func TestBroadcastScope(t *testing.T) {
	r := New()
	sOK := &fakeSender{}
	sNo := &fakeSender{}
	r.Register(&Connection{Handle: "h1", Role: RoleOperator, Scopes: map[Scope]struct{}{ScopeApprovals: {}}}, sOK)
	r.Register(&Connection{Handle: "h2", Role: RoleOperator, Scopes: map[Scope]struct{}{ScopeRead: {}}}, sNo)

	r.BroadcastScope(ScopeApprovals, "event-payload")

	if sOK.count() != 1 {
		t.Fatalf("expected scoped connection to receive broadcast, got %d sends", sOK.count())
	}
	if sNo.count() != 0 {
		t.Fatalf("expected unscoped connection to receive nothing, got %d sends", sNo.count())
	}
}

func TestSweepStale(t *testing.T) {
	r := New()
	r.Register(&Connection{Handle: "h1", Role: RoleOperator}, &fakeSender{})
	c, _ := r.Get("h1")
	c.LastSeenAt = time.Now().Add(-time.Hour)

	stale := r.SweepStale(30 * time.Second)
	if len(stale) != 1 || stale[0] != "h1" {
		t.Fatalf("expected h1 swept as stale, got %v", stale)
	}
	if r.Count() != 0 {
		t.Fatal("expected stale connection deregistered")
	}
}
