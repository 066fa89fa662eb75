package debounce

import (
	"sync"
	"testing"
	"time"
)

func TestPushCoalescesBurstIntoOneFlush(t *testing.T) {
	var mu sync.Mutex
	var flushes [][]Message
	d := New(func(key string, msgs []Message) {
		mu.Lock()
		flushes = append(flushes, msgs)
		mu.Unlock()
	})

	d.Push("k", Message{Text: "a"}, 80*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	d.Push("k", Message{Text: "b"}, 80*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	d.Push("k", Message{Text: "c"}, 80*time.Millisecond)

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushes) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(flushes))
	}
	if len(flushes[0]) != 3 {
		t.Fatalf("expected 3 coalesced messages, got %d", len(flushes[0]))
	}
	if flushes[0][0].Text != "a" || flushes[0][2].Text != "c" {
		t.Fatalf("expected arrival order preserved, got %+v", flushes[0])
	}
}

func TestZeroWindowFlushesImmediately(t *testing.T) {
	done := make(chan []Message, 1)
	d := New(func(key string, msgs []Message) { done <- msgs })
	d.Push("k", Message{Text: "a"}, 0)

	select {
	case msgs := <-done:
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate flush for zero window")
	}
}

func TestSecondBurstAfterFlushIsSeparateTurn(t *testing.T) {
	flushCh := make(chan []Message, 4)
	d := New(func(key string, msgs []Message) { flushCh <- msgs })

	d.Push("k", Message{Text: "a"}, 50*time.Millisecond)
	d.Push("k", Message{Text: "b"}, 50*time.Millisecond)
	<-flushCh // first composite

	d.Push("k", Message{Text: "c"}, 50*time.Millisecond)
	second := <-flushCh
	if len(second) != 1 || second[0].Text != "c" {
		t.Fatalf("expected separate single-message turn, got %+v", second)
	}
}
