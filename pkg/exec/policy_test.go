package exec

import "testing"

func TestAuthorizeDenyAlwaysRejects(t *testing.T) {
	authorized, mustAsk := Authorize(SecurityDeny, AskOff, true)
	if authorized || mustAsk {
		t.Fatalf("deny must never authorize or ask, got (%v,%v)", authorized, mustAsk)
	}
}

func TestAuthorizeFullAsksOnlyWhenAlways(t *testing.T) {
	if authorized, mustAsk := Authorize(SecurityFull, AskOff, false); !authorized || mustAsk {
		t.Fatalf("full+off should authorize without asking, got (%v,%v)", authorized, mustAsk)
	}
	if authorized, mustAsk := Authorize(SecurityFull, AskAlways, false); authorized || !mustAsk {
		t.Fatalf("full+always should ask, not authorize directly, got (%v,%v)", authorized, mustAsk)
	}
}

func TestAuthorizeAllowlistNonMatch(t *testing.T) {
	if authorized, mustAsk := Authorize(SecurityAllowlist, AskOff, false); authorized || mustAsk {
		t.Fatalf("non-match + ask=off must be EXEC_DENIED, got (%v,%v)", authorized, mustAsk)
	}
	if authorized, mustAsk := Authorize(SecurityAllowlist, AskOnMiss, false); authorized || !mustAsk {
		t.Fatalf("non-match + ask=on-miss must ask, got (%v,%v)", authorized, mustAsk)
	}
}

func TestAuthorizeAllowlistMatch(t *testing.T) {
	if authorized, mustAsk := Authorize(SecurityAllowlist, AskOnMiss, true); !authorized || mustAsk {
		t.Fatalf("match + ask=on-miss should authorize without asking, got (%v,%v)", authorized, mustAsk)
	}
}

func TestResolvePrecedence(t *testing.T) {
	deny := SecurityDeny
	full := SecurityFull
	allow := SecurityAllowlist
	global := Policy{Host: HostGateway, Security: deny, Ask: AskAlways}
	agentOverride := &Override{Security: &full}
	callOverride := &Override{Security: &allow}

	resolved := Resolve(global, agentOverride, callOverride)
	if resolved.Security != allow {
		t.Fatalf("expected call override to win, got %s", resolved.Security)
	}

	resolvedAgentOnly := Resolve(global, agentOverride, nil)
	if resolvedAgentOnly.Security != full {
		t.Fatalf("expected agent override over global, got %s", resolvedAgentOnly.Security)
	}
}

func TestAllowlistMatchGlob(t *testing.T) {
	al := NewAllowlist(nil)
	al.Add(HostGateway, "", "uname")
	if _, ok := al.Match(HostGateway, "", "uname"); !ok {
		t.Fatal("expected exact match")
	}
	if _, ok := al.Match(HostGateway, "", "rm"); ok {
		t.Fatal("expected no match for unrelated binary")
	}
}
