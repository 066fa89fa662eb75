package agentrun

import "path"

// ToolPolicy filters the tool surface offered to a model call. Deny is
// checked before Allow; an empty Allow list means "everything not denied",
// matching the teacher's safety.Classifier default-allow posture but
// generalized from shell commands to arbitrary tool names.
type ToolPolicy struct {
	Allow []string // glob patterns, e.g. "exec.*", "memory.read"
	Deny  []string
}

// Permits reports whether name passes the policy.
func (p ToolPolicy) Permits(name string) bool {
	for _, pattern := range p.Deny {
		if globMatch(pattern, name) {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, pattern := range p.Allow {
		if globMatch(pattern, name) {
			return true
		}
	}
	return false
}

func globMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// FilterTools returns the subset of full whose name is permitted by policy.
func FilterTools(full []ToolSpec, policy ToolPolicy) []ToolSpec {
	out := make([]ToolSpec, 0, len(full))
	for _, t := range full {
		if policy.Permits(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

// AgentPolicy bundles one agent's configuration surface for the driver: its
// own tool policy plus a separate, usually stricter policy applied when this
// agent is invoked as a sub-agent tool of another agent.
type AgentPolicy struct {
	AgentID       string
	Tools         ToolPolicy
	SubAgentTools ToolPolicy
	ContextWindow int // number of prior HistoryTurn entries carried into Prompt
}
