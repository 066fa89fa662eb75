// Package session implements SessionKey resolution and the per-session
// runtime store: agent identifier, turn backlog, subscriber set, debounce
// buffer, and idle eviction with JSONL persistence.
package session

import (
	"strings"
)

// Key is the canonical lowercase session identifier:
//
//	channel:accountId:peerKind:peerId[:thread:topicId]
//
// It is a primary key for all per-session state and must be stable across
// restarts given identical inputs and config (spec invariant: deterministic
// routing).
type Key string

// Peer identifies the other end of a conversation.
type Peer struct {
	Kind string // "dm", "group", "channel", ...
	ID   string
}

// ResolveInput is everything the resolver needs to derive a Key. It never
// touches global state — Resolve is a pure function of its inputs plus the
// supplied DMScope/IdentityLinks config.
type ResolveInput struct {
	Channel   string
	AccountID string
	Peer      Peer
	Thread    string // optional
	TopicID   string // optional, paired with Thread
}

// DMScope controls whether all DMs from an account fold to one key.
type DMScope string

const (
	DMScopePeer   DMScope = "peer"   // default: one key per peer
	DMScopeShared DMScope = "shared" // all DMs from the account fold to one key
)

// IdentityLink declares that peerA on channelA and peerB on channelB are the
// same logical identity, for resolving to a shared key. Links are one-way
// (A resolves to B's key) and never fold unrelated peers.
type IdentityLink struct {
	ChannelA, PeerA string
	ChannelB, PeerB string
}

// Canonicalizer normalizes a raw peer id for one channel (e.g. stripping a
// "@" prefix on Mattermost DMs, or a "chat_" prefix on BlueBubbles groups).
type Canonicalizer func(peerID string) string

// Config is the resolver's configuration surface; it is read-only at
// resolve time, so config reload never changes the Key of an already-
// resolved session (see the gateway's hot-reload contract).
type Config struct {
	// DMScopeByChannel overrides DMScopeGlobal for a specific channel.
	DMScopeByChannel map[string]DMScope
	DMScopeGlobal    DMScope

	Canonicalizers map[string]Canonicalizer // keyed by channel name

	IdentityLinks []IdentityLink
}

func (c *Config) dmScopeFor(channel string) DMScope {
	if c.DMScopeByChannel != nil {
		if s, ok := c.DMScopeByChannel[channel]; ok {
			return s
		}
	}
	if c.DMScopeGlobal == "" {
		return DMScopePeer
	}
	return c.DMScopeGlobal
}

func (c *Config) canonicalize(channel, peerID string) string {
	if c.Canonicalizers != nil {
		if fn, ok := c.Canonicalizers[channel]; ok && fn != nil {
			return fn(peerID)
		}
	}
	return peerID
}

// link returns the linked (channel, peerID) iff in.Channel/in.Peer.ID appears
// on the left side of an explicit IdentityLink, else ok=false.
func (c *Config) link(channel, peerID string) (linkedChannel, linkedPeer string, ok bool) {
	for _, l := range c.IdentityLinks {
		if l.ChannelA == channel && l.PeerA == peerID {
			return l.ChannelB, l.PeerB, true
		}
	}
	return "", "", false
}

// Resolve canonicalizes (channel, account, peer, thread) to a Key. It is
// side-effect-free: identical inputs and config always yield identical
// output, across processes and restarts.
func Resolve(in ResolveInput, cfg *Config) Key {
	channel := strings.ToLower(in.Channel)
	account := in.AccountID
	peerKind := in.Peer.Kind
	peerID := in.Peer.ID

	if cfg != nil {
		if lc, lp, ok := cfg.link(channel, peerID); ok {
			channel, peerID = lc, lp
		}
		peerID = cfg.canonicalize(channel, peerID)
	}

	var peerTag string
	if peerKind == "dm" && cfg != nil && cfg.dmScopeFor(channel) == DMScopeShared {
		peerTag = "dm:_"
	} else {
		peerTag = peerKind + ":" + peerID
	}

	parts := []string{channel, account, peerTag}
	if in.Thread != "" {
		parts = append(parts, "thread", in.TopicID)
	}
	return Key(strings.ToLower(strings.Join(parts, ":")))
}

// String satisfies fmt.Stringer.
func (k Key) String() string { return string(k) }

// VoiceKey builds the non-standard voice-call session key, kept as a
// documented exception to the general scheme rather than unified with it:
// voice sessions are not addressed by (channel, account, peer) triples, only
// by the originating phone number.
func VoiceKey(phone string) Key {
	return Key("voice:" + strings.ToLower(phone))
}
