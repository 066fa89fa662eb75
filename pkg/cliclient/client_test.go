package cliclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudbro-kube-ai/k13d/pkg/protocol"
)

// echoServer accepts one websocket connection, answers the connect
// handshake with a result frame, then answers every subsequent request by
// echoing its method name back as the "echoed" field, and pushes one event
// frame after the handshake succeeds.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		connectSent := false
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			f, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			if f.Kind != protocol.KindReq {
				continue
			}

			var reply *protocol.Frame
			if f.Method == protocol.MethodConnect {
				reply, _ = protocol.NewResult(f.ID, map[string]any{"protocol": protocol.Version})
			} else {
				reply, _ = protocol.NewResult(f.ID, map[string]any{"echoed": f.Method})
			}
			out, _ := protocol.Encode(reply)
			if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}

			if f.Method == protocol.MethodConnect && !connectSent {
				connectSent = true
				ev, _ := protocol.NewEvent("pairing.changed", map[string]any{"channel": "slack"}, nil)
				evData, _ := protocol.Encode(ev)
				ws.WriteMessage(websocket.TextMessage, evData)
			}
		}
	}))
	return srv
}

func dialURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialAndCall(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, dialURL(srv), ConnectParams{ClientID: "test-cli", Version: "0.0.0", Token: "secret", Role: "operator"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	payload, err := c.Call(ctx, "pairing.list", map[string]any{"channel": "slack"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(string(payload), "pairing.list") {
		t.Fatalf("expected echoed method in payload, got %s", payload)
	}
}

func TestDialReceivesEvents(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, dialURL(srv), ConnectParams{ClientID: "test-cli", Version: "0.0.0", Role: "operator"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	select {
	case ev := <-c.Events():
		if ev.Event != "pairing.changed" {
			t.Fatalf("expected pairing.changed event, got %s", ev.Event)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event frame")
	}
}

func TestCallContextCancelled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// Answer connect, then go silent on every later request.
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, _ := protocol.Decode(data)
		reply, _ := protocol.NewResult(f.ID, map[string]any{})
		out, _ := protocol.Encode(reply)
		ws.WriteMessage(websocket.TextMessage, out)
		// Block forever on subsequent reads without replying.
		ws.ReadMessage()
	}))
	defer srv.Close()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	c, err := Dial(dialCtx, dialURL(srv), ConnectParams{ClientID: "test-cli", Version: "0.0.0"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer callCancel()
	if _, err := c.Call(callCtx, "approval.list", nil); err == nil {
		t.Fatal("expected context-deadline error, got nil")
	}
}
