// Package scheduler implements the per-session Turn scheduler: one FIFO
// queue and one worker goroutine per session, enforcing at-most-one active
// turn per session. Grounded on the teacher's pkg/ai/agent.Agent — a single-
// goroutine state machine guarded against concurrent invocation via a
// running/runningMu pair — generalized here from one process-wide agent to
// one worker per SessionKey, with an added bounded FIFO queue (overflow-
// merge) the teacher's single-shot Run loop didn't need.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnState is the lifecycle state of one Turn.
type TurnState string

const (
	TurnQueued           TurnState = "queued"
	TurnRunning          TurnState = "running"
	TurnAwaitingApproval TurnState = "awaiting-approval"
	TurnCancelled        TurnState = "cancelled"
	TurnDone             TurnState = "done"
	TurnFailed           TurnState = "failed"
)

// Input is one submitted unit of work for a turn; multiple Inputs appear
// when back-pressure merges an overflowing queue entry.
type Input struct {
	Text     string
	Arrived  time.Time
}

// Turn is one agent invocation owned by the scheduler.
type Turn struct {
	SessionKey string
	RunID      string
	Inputs     []Input
	StartedAt  time.Time

	mu    sync.Mutex
	state TurnState
}

func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Turn) setState(s TurnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// TurnEvent is one entry in a turn's ordered event stream. Seq is
// per-RunID: it starts at 1 for each new turn and never carries over from a
// session's prior turns.
type TurnEvent struct {
	Seq    uint64
	RunID  string
	Stream string // "assistant", "tool", "lifecycle"
	Data   any
}

// Driver runs one Turn to completion, emitting TurnEvents via emit as it
// goes. ctx is cancelled on Cancel() or session shutdown. Driver
// implementations (pkg/agentrun) are model-agnostic: they orchestrate
// tool calls and retries, they do not generate text themselves.
type Driver interface {
	Run(ctx context.Context, turn *Turn, emit func(TurnEvent)) error
}

// EventSink receives every TurnEvent a session's turns produce, in strict
// per-session order.
type EventSink func(sessionKey string, ev TurnEvent)

// DefaultQueueDepth is the spec's default bounded per-session queue size.
const DefaultQueueDepth = 8

// MergeSeparator joins overflow-merged composite inputs.
const MergeSeparator = "\n---\n"

type sessionQueue struct {
	mu      sync.Mutex
	pending []*Turn
	cancel  map[string]context.CancelFunc
	working bool
}

// Scheduler owns one sessionQueue + worker per SessionKey.
type Scheduler struct {
	mu       sync.Mutex
	sessions map[string]*sessionQueue
	driver   Driver
	sink     EventSink
	depth    int
}

// New builds a Scheduler. depth<=0 uses DefaultQueueDepth.
func New(driver Driver, sink EventSink, depth int) *Scheduler {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if sink == nil {
		sink = func(string, TurnEvent) {}
	}
	return &Scheduler{
		sessions: make(map[string]*sessionQueue),
		driver:   driver,
		sink:     sink,
		depth:    depth,
	}
}

// Submit enqueues input for sessionKey under runID and returns the RunID
// actually backing it, without waiting for execution. runID is normally the
// id the caller already handed back to its client (e.g. chat.send's ackID),
// so the turn that eventually runs carries exactly that id. If the queue is
// already at capacity, input instead merges into the last queued (not yet
// running) Turn, whose RunID is returned in place of the requested one —
// the caller's runID is dropped on that path, the same way an overflow
// merge already drops the new message's own identity into the existing
// turn it joins.
func (s *Scheduler) Submit(sessionKey, runID, text string) (actualRunID string, err error) {
	q := s.queueFor(sessionKey)

	q.mu.Lock()
	defer q.mu.Unlock()

	in := Input{Text: text, Arrived: time.Now()}

	if len(q.pending) >= s.depth {
		last := q.pending[len(q.pending)-1]
		last.mu.Lock()
		last.Inputs = append(last.Inputs, in)
		last.mu.Unlock()
		return last.RunID, nil
	}

	if runID == "" {
		runID = uuid.NewString()
	}
	turn := &Turn{
		SessionKey: sessionKey,
		RunID:      runID,
		Inputs:     []Input{in},
		state:      TurnQueued,
	}
	q.pending = append(q.pending, turn)

	if !q.working {
		q.working = true
		go s.drainQueue(sessionKey, q)
	}
	return turn.RunID, nil
}

// Cancel cooperatively aborts the active or queued run with the given
// RunID. The driver is expected to observe ctx.Done() at its next
// suspension point; a terminal {lifecycle: cancelled} event still follows.
func (s *Scheduler) Cancel(sessionKey, runID string, reason string) error {
	q := s.queueFor(sessionKey)
	q.mu.Lock()
	defer q.mu.Unlock()
	if cancel, ok := q.cancel[runID]; ok {
		cancel()
		return nil
	}
	for _, t := range q.pending {
		if t.RunID == runID {
			t.setState(TurnCancelled)
			return nil
		}
	}
	return fmt.Errorf("scheduler: run %q not found for session %q", runID, sessionKey)
}

func (s *Scheduler) queueFor(sessionKey string) *sessionQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.sessions[sessionKey]
	if !ok {
		q = &sessionQueue{cancel: make(map[string]context.CancelFunc)}
		s.sessions[sessionKey] = q
	}
	return q
}

// drainQueue runs as the single worker goroutine for one session: dequeue,
// run, persist ordering (events for turn k+1 never precede turn k's
// terminal event, enforced simply by running one turn fully before popping
// the next), repeat until empty.
func (s *Scheduler) drainQueue(sessionKey string, q *sessionQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.working = false
			q.mu.Unlock()
			return
		}
		turn := q.pending[0]
		q.pending = q.pending[1:]
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel[turn.RunID] = cancel
		q.mu.Unlock()

		// seq resets per turn: each Turn gets its own 1, 2, ... sequence,
		// never a session-wide running count.
		var turnSeq uint64
		emit := func(ev TurnEvent) {
			turnSeq++
			ev.Seq = turnSeq
			ev.RunID = turn.RunID
			s.sink(sessionKey, ev)
		}

		if turn.State() == TurnCancelled {
			emit(TurnEvent{Stream: "lifecycle", Data: map[string]string{"kind": "cancelled"}})
			cancel()
			q.mu.Lock()
			delete(q.cancel, turn.RunID)
			q.mu.Unlock()
			continue
		}

		turn.setState(TurnRunning)
		turn.StartedAt = time.Now()
		err := s.driver.Run(ctx, turn, emit)

		q.mu.Lock()
		delete(q.cancel, turn.RunID)
		q.mu.Unlock()
		cancel()

		if err != nil {
			turn.setState(TurnFailed)
			continue
		}
		if turn.State() != TurnCancelled {
			turn.setState(TurnDone)
		}
	}
}

// QueueDepth reports the current pending-but-not-running count for a
// session, for dashboard display and tests.
func (s *Scheduler) QueueDepth(sessionKey string) int {
	q := s.queueFor(sessionKey)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
