package session

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
)

const (
	// SessionFilePermission matches the teacher store's owner-only files.
	SessionFilePermission = 0600
	// SessionDirPermission matches the teacher store's owner-only directories.
	SessionDirPermission = 0700

	// DefaultEventBacklog bounds how many JSONL lines History replays without
	// a limit argument.
	DefaultEventBacklog = 500
)

// Event is one append-only entry in a session's JSONL transcript.
type Event struct {
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"` // "user-message", "assistant-message", "turn-event", ...
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Runtime is the live, in-memory state bound to a Key: current agent id,
// queued turn backlog (opaque to this package — owned by pkg/scheduler),
// subscriber set, last inbound timestamp, and sequence counter. Created
// lazily on first inbound message; never deleted, only idle-evicted.
type Runtime struct {
	mu sync.Mutex

	Key       Key
	AgentID   string
	CreatedAt time.Time

	lastMessageAt time.Time
	seq           uint64

	subscribers map[string]struct{} // connection handles interested in events
}

func newRuntime(key Key, agentID string) *Runtime {
	return &Runtime{
		Key:         key,
		AgentID:     agentID,
		CreatedAt:   time.Now(),
		subscribers: make(map[string]struct{}),
	}
}

// Touch records inbound activity for idle-eviction bookkeeping.
func (r *Runtime) Touch() {
	r.mu.Lock()
	r.lastMessageAt = time.Now()
	r.mu.Unlock()
}

// IdleSince reports how long it has been since the last recorded activity.
func (r *Runtime) IdleSince() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastMessageAt.IsZero() {
		return time.Since(r.CreatedAt)
	}
	return time.Since(r.lastMessageAt)
}

// NextSeq returns the next monotonically increasing TurnEvent sequence
// number for this session.
func (r *Runtime) NextSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

// Subscribe/Unsubscribe track connection handles that want this session's
// events fanned to them (operators watching a chat, channel plugins mirroring
// delivery).
func (r *Runtime) Subscribe(handle string) {
	r.mu.Lock()
	r.subscribers[handle] = struct{}{}
	r.mu.Unlock()
}

func (r *Runtime) Unsubscribe(handle string) {
	r.mu.Lock()
	delete(r.subscribers, handle)
	r.mu.Unlock()
}

// Subscribers returns a snapshot of subscriber handles, safe to range over
// after the lock is released.
func (r *Runtime) Subscribers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subscribers))
	for h := range r.subscribers {
		out = append(out, h)
	}
	return out
}

// Store owns every live Runtime plus the append-only JSONL transcript files
// under <stateDir>/sessions/<agent>/<sessionKey>.jsonl, adapted from the
// teacher's xdg-rooted session store (path-traversal guards, atomic JSON
// writes) but keyed by Key instead of a random id, and holding live Runtime
// objects rather than a single persisted struct.
type Store struct {
	mu       sync.RWMutex
	baseDir  string
	runtimes map[Key]*Runtime
}

// NewStore roots session transcripts under xdg.DataHome/k13d/sessions.
func NewStore() (*Store, error) {
	return NewStoreWithDir(filepath.Join(xdg.DataHome, "k13d", "sessions"))
}

// NewStoreWithDir roots session transcripts under dir (tests use t.TempDir()).
func NewStoreWithDir(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, SessionDirPermission); err != nil {
		return nil, fmt.Errorf("session: creating state dir: %w", err)
	}
	return &Store{baseDir: dir, runtimes: make(map[Key]*Runtime)}, nil
}

// GetOrCreate returns the live Runtime for key, minting one (with the given
// default agent id) on first reference. Mints satisfy invariant 1: every
// inbound message attaches to exactly one Session.
func (s *Store) GetOrCreate(key Key, defaultAgentID string) *Runtime {
	s.mu.RLock()
	r, ok := s.runtimes[key]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runtimes[key]; ok {
		return r
	}
	r = newRuntime(key, defaultAgentID)
	s.runtimes[key] = r
	return r
}

// Get returns the live Runtime for key if one exists, without creating it.
func (s *Store) Get(key Key) (*Runtime, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runtimes[key]
	return r, ok
}

// Evict drops the in-memory Runtime for key; transcript files are untouched.
// Callers flush any collaborator-owned state (e.g. scheduler queue, debounce
// buffer) before calling this.
func (s *Store) Evict(key Key) {
	s.mu.Lock()
	delete(s.runtimes, key)
	s.mu.Unlock()
}

// IdleKeys returns every live session key whose Runtime has been idle longer
// than ttl, for a cron sweep to evict.
func (s *Store) IdleKeys(ttl time.Duration) []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Key
	for k, r := range s.runtimes {
		if r.IdleSince() >= ttl {
			out = append(out, k)
		}
	}
	return out
}

// AppendEvent appends one JSONL line to the session transcript under the
// Runtime's current agent id.
func (s *Store) AppendEvent(r *Runtime, kind string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("session: marshaling event data: %w", err)
	}
	ev := Event{Seq: r.NextSeq(), Kind: kind, Data: raw, Timestamp: time.Now()}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("session: marshaling event: %w", err)
	}

	path, err := s.transcriptPath(r.AgentID, r.Key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), SessionDirPermission); err != nil {
		return fmt.Errorf("session: creating agent dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, SessionFilePermission)
	if err != nil {
		return fmt.Errorf("session: opening transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("session: writing transcript: %w", err)
	}
	return nil
}

// History replays up to limit most-recent events from a session's
// transcript (0 = DefaultEventBacklog).
func (s *Store) History(agentID string, key Key, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultEventBacklog
	}
	path, err := s.transcriptPath(agentID, key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: reading transcript: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue // tolerate a torn trailing line from a crash mid-write
		}
		events = append(events, ev)
	}
	return events, nil
}

// transcriptPath applies the persisted-state layout rule: the session key is
// lowercased (already guaranteed by Resolve) and slashes in peer ids are
// percent-encoded so the key can serve as a filename.
func (s *Store) transcriptPath(agentID string, key Key) (string, error) {
	if agentID == "" {
		agentID = "default"
	}
	if strings.Contains(agentID, "..") || strings.ContainsAny(agentID, `/\`) {
		return "", fmt.Errorf("session: invalid agent id %q", agentID)
	}
	encoded := url.PathEscape(string(key))
	return filepath.Join(s.baseDir, agentID, encoded+".jsonl"), nil
}
