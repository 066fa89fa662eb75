package session

import (
	"testing"
	"time"
)

func TestStoreGetOrCreate(t *testing.T) {
	s, err := NewStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewStoreWithDir: %v", err)
	}
	k := Key("web:default:dm:u1")
	r1 := s.GetOrCreate(k, "assistant")
	r2 := s.GetOrCreate(k, "assistant")
	if r1 != r2 {
		t.Fatal("expected same Runtime instance for repeated GetOrCreate")
	}
	if _, ok := s.Get(Key("nonexistent")); ok {
		t.Fatal("expected Get to report not-found for unknown key")
	}
}

func TestRuntimeSeqMonotonic(t *testing.T) {
	r := newRuntime("k", "a")
	if r.NextSeq() != 1 || r.NextSeq() != 2 || r.NextSeq() != 3 {
		t.Fatal("expected strictly increasing sequence with no gaps")
	}
}

func TestAppendAndHistory(t *testing.T) {
	s, err := NewStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewStoreWithDir: %v", err)
	}
	k := Key("web:default:dm:u1")
	r := s.GetOrCreate(k, "assistant")

	for i := 0; i < 3; i++ {
		if err := s.AppendEvent(r, "user-message", map[string]string{"text": "hi"}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := s.History("assistant", k, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, ev.Seq)
		}
	}
}

func TestIdleKeys(t *testing.T) {
	s, err := NewStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewStoreWithDir: %v", err)
	}
	k := Key("web:default:dm:u1")
	r := s.GetOrCreate(k, "a")
	r.mu.Lock()
	r.lastMessageAt = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	idle := s.IdleKeys(time.Minute)
	if len(idle) != 1 || idle[0] != k {
		t.Fatalf("expected %q idle, got %v", k, idle)
	}
	if len(s.IdleKeys(2*time.Hour)) != 0 {
		t.Fatal("expected no keys idle for a 2h ttl")
	}
}
