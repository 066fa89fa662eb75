// Package debounce coalesces bursty inbound messages per session before a
// turn is scheduled. Grounded on the teacher's dedup-with-timestamps pattern
// in pkg/web/notification_manager.go (sentEvents map[string]time.Time,
// wasRecentlySent/markSent), generalized here from "suppress duplicate" to
// "coalesce burst": a time.Timer per session buffers inputs and flushes them
// as one composite once the window elapses with no further arrivals.
package debounce

import (
	"sync"
	"time"
)

// Message is one inbound unit to be coalesced; the FlushFunc receives the
// buffered Messages and joins their texts itself. RunID, if set, is the id its sender was already told
// would identify the resulting turn (e.g. chat.send's ackID) — when several
// Messages coalesce into one flush, the first arrival's RunID wins, since
// only one Turn comes out of the flush.
type Message struct {
	Text    string
	Arrived time.Time
	RunID   string
}

// FlushFunc receives the composite of every Message buffered since the last
// flush, in arrival order.
type FlushFunc func(sessionKey string, messages []Message)

type bucket struct {
	mu       sync.Mutex
	messages []Message
	timer    *time.Timer
}

// Debouncer owns one timer-backed bucket per session key.
type Debouncer struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	flush   FlushFunc
}

// New builds a Debouncer that invokes flush when a session's window expires
// or ForceFlush is called.
func New(flush FlushFunc) *Debouncer {
	return &Debouncer{buckets: make(map[string]*bucket), flush: flush}
}

// Push buffers msg for sessionKey, (re)starting its window timer. A window
// of 0 flushes immediately (no coalescing).
func (d *Debouncer) Push(sessionKey string, msg Message, window time.Duration) {
	if msg.Arrived.IsZero() {
		msg.Arrived = time.Now()
	}
	if window <= 0 {
		d.flush(sessionKey, []Message{msg})
		return
	}

	b := d.bucketFor(sessionKey)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = append(b.messages, msg)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(window, func() { d.flushBucket(sessionKey, b) })
}

// ForceFlush flushes sessionKey's buffer immediately regardless of the
// timer (e.g. on a "/stop" control command).
func (d *Debouncer) ForceFlush(sessionKey string) {
	d.mu.Lock()
	b, ok := d.buckets[sessionKey]
	d.mu.Unlock()
	if !ok {
		return
	}
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	d.flushBucket(sessionKey, b)
}

// Evict cancels and discards sessionKey's buffer without flushing, used when
// a session idles out.
func (d *Debouncer) Evict(sessionKey string) {
	d.mu.Lock()
	b, ok := d.buckets[sessionKey]
	delete(d.buckets, sessionKey)
	d.mu.Unlock()
	if !ok {
		return
	}
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
}

func (d *Debouncer) bucketFor(sessionKey string) *bucket {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buckets[sessionKey]
	if !ok {
		b = &bucket{}
		d.buckets[sessionKey] = b
	}
	return b
}

func (d *Debouncer) flushBucket(sessionKey string, b *bucket) {
	b.mu.Lock()
	msgs := b.messages
	b.messages = nil
	b.timer = nil
	b.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	d.flush(sessionKey, msgs)
}
