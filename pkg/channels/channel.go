// Package channels defines the transport-plugin capability interface and a
// boot-time registry. Grounded on other_examples' goclaw internal/channels
// (Channel/StreamingChannel/ReactionChannel interfaces, InternalChannels
// exclusion set, DMPolicy/GroupPolicy enums) — the core depends only on this
// interface, never on concrete transport names (spec §9 "dynamic dispatch
// on channels").
package channels

import (
	"context"
	"fmt"
	"sync"
)

// Target names the destination of an outbound send: a channel/account/peer
// triple, the same shape chat.send's target param uses.
type Target struct {
	Channel string
	Account string
	Peer    struct {
		Kind string
		ID   string
	}
}

// Payload is one outbound unit before channel-specific formatting.
type Payload struct {
	Text    string
	Media   []MediaRef
	ReplyTo string
}

// MediaRef is an opaque reference to an attachment; the core never inspects
// media content, only forwards references to the plugin.
type MediaRef struct {
	URL         string
	ContentType string
}

// Limits carries a channel's formatting constraints.
type Limits struct {
	MaxChars      int
	MarkdownStyle string // "slack", "telegram", "plain", ...
}

// DeliveryResult reports the outcome of one Send call.
type DeliveryResult struct {
	OK    bool
	Error string
}

// Channel is the capability interface every transport plugin implements.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, target Target, payload Payload) (DeliveryResult, error)
	Format(payload Payload, limits Limits) []Payload
	IsRunning() bool
}

// ReceiveHook is an optional capability a plugin implements if it needs to
// intercept inbound messages before session routing (e.g. stripping a
// channel-specific command prefix).
type ReceiveHook interface {
	OnReceive(ctx context.Context, raw []byte) (text string, ok bool)
}

// StreamingChannel is an optional capability for transports that can render
// incremental assistant deltas rather than only whole messages.
type StreamingChannel interface {
	Channel
	StreamEnabled() bool
	OnStreamStart(ctx context.Context, target Target) error
	OnStreamChunk(ctx context.Context, target Target, delta string) error
	OnStreamEnd(ctx context.Context, target Target) error
}

// ReactionChannel is an optional capability for transports that support
// emoji-style acknowledgements independent of a text reply.
type ReactionChannel interface {
	Channel
	React(ctx context.Context, target Target, emoji string) error
}

// internal names the built-in pseudo-channels excluded from outbound
// plugin dispatch (they never have a registered Channel implementation).
var internal = map[string]bool{"cli": true, "system": true, "subagent": true}

// IsInternal reports whether name is a built-in channel that bypasses the
// plugin registry entirely.
func IsInternal(name string) bool { return internal[name] }

// Registry holds every booted channel plugin, keyed by name.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	limits   map[string]Limits
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel), limits: make(map[string]Limits)}
}

// Register adds a booted plugin with its formatting limits.
func (r *Registry) Register(c Channel, limits Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[c.Name()] = c
	r.limits[c.Name()] = limits
}

// Get returns the plugin for name, if registered and not an internal
// pseudo-channel.
func (r *Registry) Get(name string) (Channel, bool) {
	if IsInternal(name) {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[name]
	return c, ok
}

// Limits returns the registered formatting limits for name, or a permissive
// default if unregistered.
func (r *Registry) Limits(name string) Limits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.limits[name]; ok {
		return l
	}
	return Limits{MaxChars: 4096, MarkdownStyle: "plain"}
}

// StartAll starts every registered plugin, returning the first error while
// still attempting to start the rest.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	plugins := make([]Channel, 0, len(r.channels))
	for _, c := range r.channels {
		plugins = append(plugins, c)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, c := range plugins {
		if err := c.Start(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("channels: starting %s: %w", c.Name(), err)
		}
	}
	return firstErr
}

// StopAll stops every registered plugin.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	plugins := make([]Channel, 0, len(r.channels))
	for _, c := range r.channels {
		plugins = append(plugins, c)
	}
	r.mu.RUnlock()

	for _, c := range plugins {
		_ = c.Stop(ctx)
	}
}
