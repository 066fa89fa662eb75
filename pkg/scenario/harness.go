// Package scenario drives a fully wired *server.Gateway over its real
// websocket control protocol, the way an operator or channel plugin would,
// to exercise the concrete request/response/event sequences the gateway
// promises end to end. Grounded on pkg/cliclient/client_test.go's echoServer
// pattern (httptest.Server + a real websocket round trip) generalized from a
// hand-rolled echo handler to a live Gateway.
package scenario

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudbro-kube-ai/k13d/pkg/cliclient"
	"github.com/cloudbro-kube-ai/k13d/pkg/config"
	"github.com/cloudbro-kube-ai/k13d/pkg/protocol"
	"github.com/cloudbro-kube-ai/k13d/pkg/registry"
	"github.com/cloudbro-kube-ai/k13d/pkg/server"
)

const testToken = "scenario-shared-token"

// harness wires an in-process Gateway behind an httptest.Server so a test
// can dial it with the same cliclient a real operator CLI uses, instead of
// calling Gateway methods directly.
type harness struct {
	t  *testing.T
	gw *server.Gateway
	ts *httptest.Server
}

// newHarness builds a Gateway from config.NewDefaultConfig, letting
// configure adjust it (debounce window, exec policy, pairing caps, ...)
// before the listener starts.
func newHarness(t *testing.T, configure func(cfg *config.Config)) *harness {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.Auth.SharedToken = testToken
	if configure != nil {
		configure(cfg)
	}

	gw, err := server.New(cfg)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		ts.Close()
		gw.Close()
	})
	return &harness{t: t, gw: gw, ts: ts}
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/control"
}

// dial opens an authenticated connection as role, returning a client ready
// for Call/Events.
func (h *harness) dial(role registry.Role, deviceID string) *cliclient.Client {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := cliclient.Dial(ctx, h.wsURL(), cliclient.ConnectParams{
		ClientID: deviceID,
		Version:  "scenario-test",
		Token:    testToken,
		Role:     string(role),
	})
	if err != nil {
		h.t.Fatalf("dial %s: %v", role, err)
	}
	h.t.Cleanup(func() { c.Close() })
	return c
}

func (h *harness) call(c *cliclient.Client, method string, params any) map[string]any {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		h.t.Fatalf("%s: %v", method, err)
	}
	return decodeObject(h.t, raw)
}

// callErr is call's counterpart for the negative path: it expects the
// request to fail and returns the protocol error code.
func (h *harness) callErr(c *cliclient.Client, method string, params any) protocol.ErrorCode {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Call(ctx, method, params)
	if err == nil {
		h.t.Fatalf("%s: expected an error response", method)
	}
	pe, ok := err.(*protocol.Error)
	if !ok {
		h.t.Fatalf("%s: expected a *protocol.Error, got %T (%v)", method, err, err)
	}
	return pe.Code
}

// waitForEvent reads c.Events() until pred matches the decoded payload, or
// timeout elapses.
func waitForEvent(t *testing.T, c *cliclient.Client, name string, timeout time.Duration, pred func(payload map[string]any) bool) *protocol.Frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-c.Events():
			if !ok {
				t.Fatalf("waiting for event %q: connection closed", name)
			}
			if f.Event != name {
				continue
			}
			payload := decodeObject(t, f.Payload)
			if pred == nil || pred(payload) {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", name)
		}
	}
}

func decodeObject(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	if len(raw) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decoding frame payload: %v", err)
	}
	return out
}
