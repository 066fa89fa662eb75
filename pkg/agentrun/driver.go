package agentrun

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloudbro-kube-ai/k13d/pkg/events"
	"github.com/cloudbro-kube-ai/k13d/pkg/scheduler"
	"github.com/cloudbro-kube-ai/k13d/pkg/session"
)

// ToolCall is one model-requested tool invocation, as dispatched to a
// ToolExecutor.
type ToolCall struct {
	ID       string
	Name     string
	ArgsJSON string
	TurnID   string
}

// ToolExecutor runs one tool call to completion. Implementations wrap
// pkg/exec.Plane (exec.* tools), pkg/outbound.Router (send.* tools), or
// memory/read/write collaborators. IsExecTool reports whether this call may
// suspend on human approval, so the driver can surface PhaseWaitingForApproval
// before invoking it.
type ToolExecutor interface {
	Execute(ctx context.Context, sessionKey session.Key, call ToolCall) (resultJSON string, isError bool)
	IsExecTool(name string) bool
}

// HistoryProvider supplies the prior-turn transcript window for prompt
// assembly.
type HistoryProvider interface {
	RecentHistory(sessionKey session.Key, limit int) []HistoryTurn
}

// Persister records the final assistant message into the session transcript.
type Persister interface {
	PersistAssistantMessage(sessionKey session.Key, text string)
}

// BusProvider resolves the per-session system-event bus a turn should drain
// its prelude from. One Driver serves every session routed to its agent, so
// the bus itself must be looked up per session rather than held as a single
// field.
type BusProvider interface {
	BusFor(sessionKey session.Key) *events.Bus
}

// Driver implements scheduler.Driver: it runs one Turn through a model
// Capability's event stream, dispatching tool calls and retrying transient
// failures, until the model emits a finish event or a non-retryable error.
// Grounded on the teacher's pkg/ai/agent.Agent.Run loop (state transitions,
// listener fan-out, tool-call dispatch) generalized from a single fixed
// provider+tool-set to the model-agnostic Capability/ToolExecutor interfaces
// this repository's multi-channel, multi-agent scope requires.
type Driver struct {
	Capability Capability
	Policy     AgentPolicy
	FullTools  []ToolSpec
	Tools      map[string]ToolExecutor // keyed by exact tool name

	Bus      BusProvider
	History  HistoryProvider
	Persist  Persister
	Listener Listener

	// MaxAttempts bounds retries of a failed Stream call or a mid-stream
	// retryable error. Defaults to 5 (spec default) when zero.
	MaxAttempts int
	// BaseDelay/MaxDelay configure the exponential backoff between
	// attempts. Default 250ms/30s (spec default) when zero.
	BaseDelay, MaxDelay time.Duration
}

const maxRounds = 8 // hard ceiling on tool-call/continuation rounds within one turn, guards against a runaway loop

// Run implements scheduler.Driver.
func (d *Driver) Run(ctx context.Context, turn *scheduler.Turn, emit func(scheduler.TurnEvent)) error {
	sessionKey := session.Key(turn.SessionKey)
	phase := PhaseRunning

	tools := FilterTools(d.FullTools, d.Policy.Tools)
	history := d.recentHistory(sessionKey)
	prelude := d.drainPrelude(sessionKey)

	inputs := make([]string, 0, len(turn.Inputs))
	for _, in := range turn.Inputs {
		inputs = append(inputs, in.Text)
	}

	prompt := Prompt{SystemPrelude: prelude, Inputs: inputs, History: history}

	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	b := d.newBackoff()

	var finalText string
	retries := 0
	for round := 0; round < maxRounds; round++ {
		streamEvents, err := d.streamWithRetry(ctx, prompt, tools, b, maxAttempts)
		if err != nil {
			return d.fail(turn, emit, &phase, "stream-error", err.Error())
		}

		toolResults, text, done, cerr := d.consume(ctx, turn, emit, sessionKey, &phase, streamEvents)
		if cerr != nil {
			if _, retryable := cerr.(retryableStreamErr); retryable {
				retries++
				if retries > maxAttempts {
					return d.fail(turn, emit, &phase, "retry-exhausted", cerr.Error())
				}
				wait := b.NextBackOff()
				select {
				case <-ctx.Done():
					return d.fail(turn, emit, &phase, "cancelled", ctx.Err().Error())
				case <-time.After(wait):
				}
				round--
				continue
			}
			return d.fail(turn, emit, &phase, "consume-error", cerr.Error())
		}
		if done {
			finalText = text
			break
		}

		// A tool round: fold results into history and continue with an
		// empty Inputs so the model sees only the tool outcome next.
		for _, tr := range toolResults {
			prompt.History = append(prompt.History, HistoryTurn{Role: "tool", Content: tr})
		}
		prompt.Inputs = nil
		prompt.SystemPrelude = nil
	}

	if finalText == "" {
		return d.fail(turn, emit, &phase, "max-rounds", "exceeded maximum tool-call rounds without a finish event")
	}

	d.setPhase(turn, emit, &phase, PhaseDone)
	if d.Persist != nil {
		d.Persist.PersistAssistantMessage(sessionKey, finalText)
	}
	emit(scheduler.TurnEvent{Stream: "lifecycle", Data: map[string]string{"kind": "done"}})
	if d.Listener != nil {
		d.Listener.OnDone(turn.RunID, finalText)
	}
	return nil
}

// consume drains one Stream call's events, dispatching tool calls as they
// arrive. It returns collected tool result summaries, the finish text (if
// any), and whether the stream reached a terminal finish event.
func (d *Driver) consume(ctx context.Context, turn *scheduler.Turn, emit func(scheduler.TurnEvent), sessionKey session.Key, phase *Phase, ch <-chan ModelEvent) (toolResults []string, finalText string, done bool, err error) {
	for ev := range ch {
		switch ev.Kind {
		case ModelTextDelta:
			emit(scheduler.TurnEvent{Stream: "assistant", Data: map[string]string{"delta": ev.TextDelta}})
			if d.Listener != nil {
				d.Listener.OnTextDelta(turn.RunID, ev.TextDelta)
			}

		case ModelToolCall:
			d.setPhase(turn, emit, phase, PhaseToolAnalysis)
			executor, ok := d.Tools[ev.ToolName]
			if !ok {
				toolResults = append(toolResults, fmt.Sprintf("%s: error: unknown tool", ev.ToolName))
				continue
			}
			if executor.IsExecTool(ev.ToolName) {
				d.setPhase(turn, emit, phase, PhaseWaitingForApproval)
			}
			if d.Listener != nil {
				d.Listener.OnToolCallStart(turn.RunID, ev.ToolCallID, ev.ToolName, ev.ToolArgs)
			}
			call := ToolCall{ID: ev.ToolCallID, Name: ev.ToolName, ArgsJSON: ev.ToolArgs, TurnID: turn.RunID}
			result, isError := executor.Execute(ctx, sessionKey, call)
			if d.Listener != nil {
				d.Listener.OnToolCallEnd(turn.RunID, ev.ToolCallID, result, isError)
			}
			emit(scheduler.TurnEvent{Stream: "tool", Data: map[string]any{
				"id": ev.ToolCallID, "name": ev.ToolName, "result": result, "error": isError,
			}})
			toolResults = append(toolResults, fmt.Sprintf("%s(%s) -> %s", ev.ToolName, truncateArgs(ev.ToolArgs), result))
			d.setPhase(turn, emit, phase, PhaseRunning)

		case ModelFinish:
			return toolResults, ev.FinishText, true, nil

		case ModelError:
			if ev.Retryable {
				return toolResults, "", false, retryableStreamErr{ev.Err}
			}
			return toolResults, "", false, ev.Err
		}
	}
	return toolResults, "", false, nil
}

// newBackoff builds the capped exponential backoff shared by the initial
// Stream call retry and mid-stream retryable-error retry, per the spec's
// default transient-failure policy (250ms base, 30s max).
func (d *Driver) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if d.BaseDelay > 0 {
		b.InitialInterval = d.BaseDelay
	} else {
		b.InitialInterval = 250 * time.Millisecond
	}
	if d.MaxDelay > 0 {
		b.MaxInterval = d.MaxDelay
	} else {
		b.MaxInterval = 30 * time.Second
	}
	b.MaxElapsedTime = 0
	return b
}

// streamWithRetry calls Capability.Stream, retrying on error with capped
// exponential backoff up to maxAttempts.
func (d *Driver) streamWithRetry(ctx context.Context, prompt Prompt, tools []ToolSpec, b *backoff.ExponentialBackOff, maxAttempts int) (<-chan ModelEvent, error) {
	var ch <-chan ModelEvent
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var err error
		ch, err = d.Capability.Stream(ctx, prompt, tools)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (d *Driver) recentHistory(sessionKey session.Key) []HistoryTurn {
	if d.History == nil {
		return nil
	}
	limit := d.Policy.ContextWindow
	if limit <= 0 {
		limit = 20
	}
	return d.History.RecentHistory(sessionKey, limit)
}

func (d *Driver) drainPrelude(sessionKey session.Key) []string {
	if d.Bus == nil {
		return nil
	}
	bus := d.Bus.BusFor(sessionKey)
	if bus == nil {
		return nil
	}
	drained := bus.Drain()
	out := make([]string, 0, len(drained))
	for _, ev := range drained {
		out = append(out, ev.Kind+": "+ev.Message)
	}
	return out
}

func (d *Driver) setPhase(turn *scheduler.Turn, emit func(scheduler.TurnEvent), phase *Phase, to Phase) {
	from := *phase
	if from == to || !from.CanTransitionTo(to) {
		return
	}
	*phase = to
	if d.Listener != nil {
		d.Listener.OnPhaseChanged(turn.RunID, from, to)
	}
}

func (d *Driver) fail(turn *scheduler.Turn, emit func(scheduler.TurnEvent), phase *Phase, kind, message string) error {
	d.setPhase(turn, emit, phase, PhaseError)
	emit(scheduler.TurnEvent{Stream: "lifecycle", Data: map[string]string{"kind": "failed", "reason": kind + ": " + message}})
	if d.Listener != nil {
		d.Listener.OnFailed(turn.RunID, kind, message)
	}
	return fmt.Errorf("agentrun: %s: %s", kind, message)
}

type retryableStreamErr struct{ err error }

func (e retryableStreamErr) Error() string {
	if e.err == nil {
		return "agentrun: retryable stream error"
	}
	return e.err.Error()
}

func truncateArgs(args string) string {
	const max = 120
	if len(args) <= max {
		return args
	}
	return args[:max] + "..."
}

// MarshalToolArgs is a convenience for ToolExecutor implementations that
// need to re-marshal a subset of a tool call's arguments.
func MarshalToolArgs(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
