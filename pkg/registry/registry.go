// Package registry tracks every live control-plane connection: operators,
// nodes, and channel plugins. It is adapted from the teacher's
// sync.RWMutex-guarded AuthManager maps, generalized to multiple secondary
// indexes with a single-writer discipline.
package registry

import (
	"sync"
	"time"
)

// Role is the kind of client a Connection represents.
type Role string

const (
	RoleOperator      Role = "operator"
	RoleNode          Role = "node"
	RoleChannelPlugin Role = "channel-plugin"
)

// Scope is a capability granted to a Connection after auth.
type Scope string

const (
	ScopeRead      Scope = "read"
	ScopeWrite     Scope = "write"
	ScopeAdmin     Scope = "admin"
	ScopeApprovals Scope = "approvals"
	ScopePairing   Scope = "pairing"
)

// Sender delivers one frame to a connection's outbound queue. Implemented by
// the transport layer (pkg/server); the registry never writes to a socket
// directly, so a slow Send never blocks the registry lock.
type Sender interface {
	Send(frame any) error
}

// Connection is one accepted, possibly-authenticated duplex client.
type Connection struct {
	Handle   string // unique per accepted connection, stable for its lifetime
	DeviceID string
	Role     Role
	Scopes   map[Scope]struct{}
	Protocol int

	ConnectedAt time.Time
	LastSeenAt  time.Time

	sender Sender
}

// HasScope reports whether the connection was granted scope.
func (c *Connection) HasScope(s Scope) bool {
	_, ok := c.Scopes[s]
	return ok
}

// Send forwards to the connection's transport-layer sender.
func (c *Connection) Send(frame any) error {
	return c.sender.Send(frame)
}

// Registry is the process-wide concurrent map of live connections. All
// mutation goes through a single RWMutex (single-writer discipline);
// broadcast takes a read-snapshot before fan-out so a slow Sender never
// holds the lock.
type Registry struct {
	mu sync.RWMutex

	byHandle map[string]*Connection
	byDevice map[string]map[string]*Connection // deviceId -> handle -> conn
	byRole   map[Role]map[string]*Connection
	byTopic  map[string]map[string]*Connection // subscription topic -> handle -> conn
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byHandle: make(map[string]*Connection),
		byDevice: make(map[string]map[string]*Connection),
		byRole:   make(map[Role]map[string]*Connection),
		byTopic:  make(map[string]map[string]*Connection),
	}
}

// Register adds a newly accepted, authenticated connection.
func (r *Registry) Register(c *Connection, sender Sender) {
	c.sender = sender
	c.ConnectedAt = time.Now()
	c.LastSeenAt = c.ConnectedAt

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byHandle[c.Handle] = c

	if c.DeviceID != "" {
		byHandle, ok := r.byDevice[c.DeviceID]
		if !ok {
			byHandle = make(map[string]*Connection)
			r.byDevice[c.DeviceID] = byHandle
		}
		byHandle[c.Handle] = c
	}

	byHandle, ok := r.byRole[c.Role]
	if !ok {
		byHandle = make(map[string]*Connection)
		r.byRole[c.Role] = byHandle
	}
	byHandle[c.Handle] = c
}

// Deregister removes a connection on disconnect, within one heartbeat
// interval of the transport noticing the drop.
func (r *Registry) Deregister(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byHandle[handle]
	if !ok {
		return
	}
	delete(r.byHandle, handle)

	if c.DeviceID != "" {
		if byHandle, ok := r.byDevice[c.DeviceID]; ok {
			delete(byHandle, handle)
			if len(byHandle) == 0 {
				delete(r.byDevice, c.DeviceID)
			}
		}
	}
	if byHandle, ok := r.byRole[c.Role]; ok {
		delete(byHandle, handle)
	}
	for topic, byHandle := range r.byTopic {
		delete(byHandle, handle)
		if len(byHandle) == 0 {
			delete(r.byTopic, topic)
		}
	}
}

// Touch refreshes LastSeenAt, used by the heartbeat sweep.
func (r *Registry) Touch(handle string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byHandle[handle]; ok {
		c.LastSeenAt = time.Now()
	}
}

// SubscribeTopic attaches a connection to a topic (per-session event stream,
// global lifecycle, or per-channel presence).
func (r *Registry) SubscribeTopic(handle, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byHandle[handle]
	if !ok {
		return
	}
	byHandle, ok := r.byTopic[topic]
	if !ok {
		byHandle = make(map[string]*Connection)
		r.byTopic[topic] = byHandle
	}
	byHandle[handle] = c
}

func (r *Registry) UnsubscribeTopic(handle, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byHandle, ok := r.byTopic[topic]; ok {
		delete(byHandle, handle)
	}
}

// ListByRole returns a snapshot of every connection with the given role.
func (r *Registry) ListByRole(role Role) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byHandle := r.byRole[role]
	out := make([]*Connection, 0, len(byHandle))
	for _, c := range byHandle {
		out = append(out, c)
	}
	return out
}

// ByDevice groups a device's concurrent connections (e.g. operator + node
// duals of the same physical device) for presence-dedup UI.
func (r *Registry) ByDevice(deviceID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byHandle := r.byDevice[deviceID]
	out := make([]*Connection, 0, len(byHandle))
	for _, c := range byHandle {
		out = append(out, c)
	}
	return out
}

// Get returns the connection for handle, if live.
func (r *Registry) Get(handle string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byHandle[handle]
	return c, ok
}

// SendTo delivers one frame to a single connection by handle.
func (r *Registry) SendTo(handle string, frame any) error {
	c, ok := r.Get(handle)
	if !ok {
		return ErrNotConnected
	}
	return c.Send(frame)
}

// Broadcast fans a frame out to every connection for which predicate
// returns true. The connection list is snapshotted under the lock; the
// actual Send calls happen after the lock is released.
func (r *Registry) Broadcast(predicate func(*Connection) bool, frame any) {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.byHandle))
	for _, c := range r.byHandle {
		if predicate(c) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		_ = c.Send(frame)
	}
}

// BroadcastTopic fans a frame to every connection subscribed to topic.
func (r *Registry) BroadcastTopic(topic string, frame any) {
	r.mu.RLock()
	byHandle := r.byTopic[topic]
	targets := make([]*Connection, 0, len(byHandle))
	for _, c := range byHandle {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		_ = c.Send(frame)
	}
}

// BroadcastScope fans a frame to every connection holding scope (e.g. an
// approval-requested event to every operator with the "approvals" scope).
func (r *Registry) BroadcastScope(scope Scope, frame any) {
	r.Broadcast(func(c *Connection) bool { return c.HasScope(scope) }, frame)
}

// SweepStale deregisters connections whose LastSeenAt predates the given
// heartbeat interval, returning their handles.
func (r *Registry) SweepStale(interval time.Duration) []string {
	cutoff := time.Now().Add(-interval)
	r.mu.RLock()
	var stale []string
	for h, c := range r.byHandle {
		if c.LastSeenAt.Before(cutoff) {
			stale = append(stale, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range stale {
		r.Deregister(h)
	}
	return stale
}

// Count returns the total number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
