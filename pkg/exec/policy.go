package exec

import "path/filepath"

// HostKind names the exec host kind. Node hosts carry an id suffix at the call
// site (e.g. "node:n1"); HostKind captures only the coarse kind.
type HostKind string

const (
	HostSandbox HostKind = "sandbox"
	HostGateway HostKind = "gateway"
	HostNode    HostKind = "node"
)

// Security is the allow/deny posture for a host.
type Security string

const (
	SecurityDeny      Security = "deny"
	SecurityAllowlist Security = "allowlist"
	SecurityFull      Security = "full"
)

// Ask controls when a human approval is required.
type Ask string

const (
	AskOff     Ask = "off"
	AskOnMiss  Ask = "on-miss"
	AskAlways  Ask = "always"
)

// Policy is the resolved {host, security, ask} triple for one exec call.
type Policy struct {
	Host     HostKind
	NodeID   string // populated when Host == HostNode
	Security Security
	Ask      Ask
}

// Override is a partial policy; nil fields fall through to the next
// precedence level. Used for both per-agent config and a tool-call's own
// params.
type Override struct {
	Host     *HostKind
	NodeID   *string
	Security *Security
	Ask      *Ask
}

// Resolve applies strict precedence — call param, then per-agent override,
// then global default — to produce a fully populated Policy.
func Resolve(global Policy, agent, call *Override) Policy {
	p := global
	applyOverride(&p, agent)
	applyOverride(&p, call)
	return p
}

func applyOverride(p *Policy, o *Override) {
	if o == nil {
		return
	}
	if o.Host != nil {
		p.Host = *o.Host
	}
	if o.NodeID != nil {
		p.NodeID = *o.NodeID
	}
	if o.Security != nil {
		p.Security = *o.Security
	}
	if o.Ask != nil {
		p.Ask = *o.Ask
	}
}

// AllowlistEntry is a durable permission for a command on a host, promoted
// from an approved "allow-and-add" decision or set administratively.
type AllowlistEntry struct {
	Host       HostKind
	NodeID     string
	Pattern    string // glob over the resolved binary path/name
	LastUsedAt int64  // unix seconds, 0 if never matched
}

// Matches reports whether binary matches the entry's glob pattern.
func (e AllowlistEntry) Matches(binary string) bool {
	ok, err := filepath.Match(e.Pattern, binary)
	return err == nil && ok
}

// Allowlist holds the per-host allowlist entries for one agent.
type Allowlist struct {
	entries []AllowlistEntry
}

// NewAllowlist builds an Allowlist from persisted entries.
func NewAllowlist(entries []AllowlistEntry) *Allowlist {
	return &Allowlist{entries: append([]AllowlistEntry(nil), entries...)}
}

// Match reports whether binary is permitted on (host, nodeID) by any
// existing glob entry.
func (a *Allowlist) Match(host HostKind, nodeID, binary string) (AllowlistEntry, bool) {
	for _, e := range a.entries {
		if e.Host != host || (host == HostNode && e.NodeID != nodeID) {
			continue
		}
		if e.Matches(binary) {
			return e, true
		}
	}
	return AllowlistEntry{}, false
}

// Add appends a new entry, used by "allow-and-add" resolutions. The pattern
// is the exact resolved binary name unless a caller supplies a narrower
// explicit glob.
func (a *Allowlist) Add(host HostKind, nodeID, pattern string) {
	a.entries = append(a.entries, AllowlistEntry{Host: host, NodeID: nodeID, Pattern: pattern})
}

// Entries returns a snapshot of every entry, for persistence.
func (a *Allowlist) Entries() []AllowlistEntry {
	return append([]AllowlistEntry(nil), a.entries...)
}

// Authorize implements the §4.J authorization table for security/ask given
// whether an allowlist match exists. It does not perform the match itself
// (callers supply matched) so it stays a pure decision table.
func Authorize(security Security, ask Ask, matched bool) (authorized bool, mustAsk bool) {
	switch security {
	case SecurityDeny:
		return false, false
	case SecurityFull:
		return ask != AskAlways, ask == AskAlways
	case SecurityAllowlist:
		if !matched {
			return false, ask != AskOff
		}
		return ask != AskAlways, ask == AskAlways
	default:
		return false, false
	}
}
