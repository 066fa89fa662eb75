package events

import "testing"

func TestDrainEmptyReturnsNil(t *testing.T) {
	b := New(4)
	if got := b.Drain(); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestDrainOrdersEvents(t *testing.T) {
	b := New(4)
	b.Push(SystemEvent{Kind: "a"})
	b.Push(SystemEvent{Kind: "b"})
	got := b.Drain()
	if len(got) != 2 || got[0].Kind != "a" || got[1].Kind != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if b.Len() != 0 {
		t.Fatal("expected bus empty after drain")
	}
}

func TestOverflowDropsOldestWithMarker(t *testing.T) {
	b := New(2)
	b.Push(SystemEvent{Kind: "1"})
	b.Push(SystemEvent{Kind: "2"})
	b.Push(SystemEvent{Kind: "3"}) // drops "1"

	got := b.Drain()
	if len(got) != 3 {
		t.Fatalf("expected marker + 2 events, got %d: %+v", len(got), got)
	}
	if got[0].Kind != "events.dropped" {
		t.Fatalf("expected drop marker first, got %+v", got[0])
	}
	if got[1].Kind != "2" || got[2].Kind != "3" {
		t.Fatalf("expected surviving events 2,3 in order, got %+v", got[1:])
	}
}
