// Package outbound implements the Outbound router (§4.I): resolving an
// agent's outbound payload to its target SessionKey (never the current
// turn's), creating target sessions on first contact, formatting per
// channel limits, and delivering via the bound channel plugin. Adapted
// from the teacher's pkg/web/notification_manager.go multi-destination
// dispatch (sendSlack/sendDiscord/sendTeams/...), generalized into a
// ChannelPlugin-registry-driven send instead of a fixed event-classification
// switch.
package outbound

import (
	"context"
	"fmt"

	"github.com/cloudbro-kube-ai/k13d/pkg/channels"
	"github.com/cloudbro-kube-ai/k13d/pkg/session"
)

// LifecycleNotifier is called when delivery fails, to surface
// {lifecycle:delivery-failed} on both the source and target sessions.
type LifecycleNotifier interface {
	NotifyDeliveryFailed(sourceKey, targetKey session.Key, reason string)
}

// SessionOpener creates a target session's minimal context entry on first
// contact so future inbound on that key attaches correctly.
type SessionOpener interface {
	EnsureSession(key session.Key, agentID string) *session.Runtime
}

// Router dispatches outbound agent output to its destination channel.
type Router struct {
	Channels *channels.Registry
	Sessions SessionOpener
	Lifecycle LifecycleNotifier
	ResolveConfig *session.Config
}

// Outbound is one outbound send request from the agent driver.
type Outbound struct {
	SourceKey session.Key
	Target    channels.Target
	Payload   channels.Payload
	AgentID   string
}

// Deliver resolves the target SessionKey via (D), ensures its session
// exists, formats per channel limits, and sends via the bound plugin. The
// router never chooses the channel itself — Target.Channel is authoritative,
// preventing cross-channel exfiltration.
func (r *Router) Deliver(ctx context.Context, out Outbound) error {
	targetKey := session.Resolve(session.ResolveInput{
		Channel:   out.Target.Channel,
		AccountID: out.Target.Account,
		Peer:      session.Peer{Kind: out.Target.Peer.Kind, ID: out.Target.Peer.ID},
	}, r.ResolveConfig)

	if r.Sessions != nil {
		r.Sessions.EnsureSession(targetKey, out.AgentID)
	}

	if channels.IsInternal(out.Target.Channel) {
		return fmt.Errorf("outbound: channel %q is internal and has no delivery plugin", out.Target.Channel)
	}

	plugin, ok := r.Channels.Get(out.Target.Channel)
	if !ok {
		r.fail(out.SourceKey, targetKey, "unknown channel: "+out.Target.Channel)
		return fmt.Errorf("outbound: unknown channel %q", out.Target.Channel)
	}

	limits := r.Channels.Limits(out.Target.Channel)
	frames := plugin.Format(out.Payload, limits)

	for _, frame := range frames {
		result, err := plugin.Send(ctx, out.Target, frame)
		if err != nil || !result.OK {
			reason := result.Error
			if reason == "" && err != nil {
				reason = err.Error()
			}
			r.fail(out.SourceKey, targetKey, reason)
			return fmt.Errorf("outbound: delivery failed: %s", reason)
		}
	}
	return nil
}

func (r *Router) fail(source, target session.Key, reason string) {
	if r.Lifecycle != nil {
		r.Lifecycle.NotifyDeliveryFailed(source, target, reason)
	}
}
