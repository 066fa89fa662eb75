package agentrun

import (
	"context"
	"strings"
)

// EchoCapability is a minimal, deterministic Capability used when no
// external model-provider adapter is configured. It never calls out to a
// provider — concrete provider adapters are an explicit non-goal of this
// repository (spec §1) — but it lets the turn pipeline, tool dispatch, and
// event fan-out run end to end without one, the way the teacher's
// --embedded-llm flag let the dashboard run without a configured cloud
// provider.
type EchoCapability struct{}

// Stream replies with a canned acknowledgement of the turn's inputs (joined
// with " / ") and immediately finishes; it never requests a tool call.
func (EchoCapability) Stream(ctx context.Context, prompt Prompt, tools []ToolSpec) (<-chan ModelEvent, error) {
	ch := make(chan ModelEvent, 4)
	go func() {
		defer close(ch)
		text := "echo: " + strings.Join(prompt.Inputs, " / ")
		for _, r := range text {
			if ctx.Err() != nil {
				ch <- ModelEvent{Kind: ModelError, Err: ctx.Err(), Retryable: false}
				return
			}
			select {
			case <-ctx.Done():
				ch <- ModelEvent{Kind: ModelError, Err: ctx.Err(), Retryable: false}
				return
			case ch <- ModelEvent{Kind: ModelTextDelta, TextDelta: string(r)}:
			}
		}
		ch <- ModelEvent{Kind: ModelFinish, FinishText: text}
	}()
	return ch, nil
}
