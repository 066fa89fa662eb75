package outbound

import (
	"context"
	"testing"

	"github.com/cloudbro-kube-ai/k13d/pkg/channels"
	"github.com/cloudbro-kube-ai/k13d/pkg/session"
)

type fakeOpener struct {
	created []session.Key
}

func (f *fakeOpener) EnsureSession(key session.Key, agentID string) *session.Runtime {
	f.created = append(f.created, key)
	return nil
}

type fakeLifecycle struct {
	failures []string
}

func (f *fakeLifecycle) NotifyDeliveryFailed(source, target session.Key, reason string) {
	f.failures = append(f.failures, reason)
}

func TestDeliverCreatesTargetSession(t *testing.T) {
	reg := channels.NewRegistry()
	var delivered []channels.Target
	wc := channels.NewWebChat(func(ctx context.Context, target channels.Target, payload channels.Payload) error {
		delivered = append(delivered, target)
		return nil
	})
	reg.Register(wc, channels.Limits{MaxChars: 1000})

	opener := &fakeOpener{}
	r := &Router{Channels: reg, Sessions: opener}

	target := channels.Target{Channel: "web", Account: "a", Peer: struct{ Kind, ID string }{Kind: "dm", ID: "u2"}}
	out := Outbound{SourceKey: "web:a:dm:u1", Target: target, Payload: channels.Payload{Text: "hi"}, AgentID: "assistant"}

	if err := r.Deliver(context.Background(), out); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(delivered))
	}
	if len(opener.created) != 1 || opener.created[0] != "web:a:dm:u2" {
		t.Fatalf("expected target session created, got %v", opener.created)
	}
}

func TestDeliverUnknownChannelNotifiesFailure(t *testing.T) {
	reg := channels.NewRegistry()
	lifecycle := &fakeLifecycle{}
	r := &Router{Channels: reg, Lifecycle: lifecycle}

	target := channels.Target{Channel: "slack", Account: "a", Peer: struct{ Kind, ID string }{Kind: "dm", ID: "u2"}}
	err := r.Deliver(context.Background(), Outbound{SourceKey: "web:a:dm:u1", Target: target})
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
	if len(lifecycle.failures) != 1 {
		t.Fatalf("expected delivery-failed notification, got %v", lifecycle.failures)
	}
}
