package agentrun

import (
	"context"
	"testing"
)

func TestEchoCapabilityFinishes(t *testing.T) {
	ch, err := EchoCapability{}.Stream(context.Background(), Prompt{Inputs: []string{"hi"}}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var sawFinish bool
	for ev := range ch {
		if ev.Kind == ModelFinish {
			sawFinish = true
			if ev.FinishText != "echo: hi" {
				t.Fatalf("unexpected finish text %q", ev.FinishText)
			}
		}
	}
	if !sawFinish {
		t.Fatal("expected a finish event")
	}
}

func TestEchoCapabilityCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch, err := EchoCapability{}.Stream(ctx, Prompt{Inputs: []string{"hi"}}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var sawError bool
	for ev := range ch {
		if ev.Kind == ModelError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected a cancellation error event")
	}
}
