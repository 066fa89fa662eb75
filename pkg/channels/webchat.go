package channels

import (
	"context"
	"sync"
)

// WebChat is the gateway's own built-in chat transport: outbound sends are
// delivered to whichever operator connection is subscribed to the target
// session, rather than over an external transport SDK. Concretely this
// means Send hands the formatted payload to a Deliver callback the server
// wires to the connection registry's per-session broadcast.
type WebChat struct {
	mu      sync.RWMutex
	running bool
	Deliver func(ctx context.Context, target Target, payload Payload) error
}

// NewWebChat builds the built-in web-chat plugin. deliver is called for
// every outbound send; the gateway wires it to the session's subscriber
// broadcast.
func NewWebChat(deliver func(ctx context.Context, target Target, payload Payload) error) *WebChat {
	return &WebChat{Deliver: deliver}
}

func (w *WebChat) Name() string { return "web" }

func (w *WebChat) Start(ctx context.Context) error {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	return nil
}

func (w *WebChat) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *WebChat) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *WebChat) Send(ctx context.Context, target Target, payload Payload) (DeliveryResult, error) {
	if w.Deliver == nil {
		return DeliveryResult{OK: false, Error: "no delivery sink configured"}, nil
	}
	if err := w.Deliver(ctx, target, payload); err != nil {
		return DeliveryResult{OK: false, Error: err.Error()}, err
	}
	return DeliveryResult{OK: true}, nil
}

// Format applies generic chunking; the built-in web chat has no markdown
// dialect restrictions, so it only enforces MaxChars.
func (w *WebChat) Format(payload Payload, limits Limits) []Payload {
	if limits.MaxChars <= 0 {
		return []Payload{payload}
	}
	chunks := Chunk(payload.Text, limits.MaxChars)
	out := make([]Payload, len(chunks))
	for i, c := range chunks {
		out[i] = Payload{Text: c, Media: nil, ReplyTo: payload.ReplyTo}
		if i == len(chunks)-1 {
			out[i].Media = payload.Media
		}
	}
	return out
}
