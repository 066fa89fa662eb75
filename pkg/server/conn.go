// Transport: one goroutine pair (read, write) per accepted websocket
// connection, the write loop owning the socket exclusively so concurrent
// Send calls from the registry's broadcast fan-out never race with it.
// Grounded on the teacher's pkg/web/terminal.go TerminalSession (buffered
// outbound channel, separate reader/writer goroutines, ctx-cancel-on-close),
// generalized from a PTY byte stream to protocol frames, one JSON frame per
// websocket text message.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/cloudbro-kube-ai/k13d/pkg/log"
	"github.com/cloudbro-kube-ai/k13d/pkg/registry"
)

const outboundQueueDepth = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn implements registry.Sender over a gorilla/websocket connection. All
// writes go through outbox so the write loop is the socket's sole writer.
type wsConn struct {
	handle string
	ws     *websocket.Conn
	outbox chan []byte
	closed chan struct{}
}

func newWSConn(handle string, ws *websocket.Conn) *wsConn {
	return &wsConn{handle: handle, ws: ws, outbox: make(chan []byte, outboundQueueDepth), closed: make(chan struct{})}
}

// Send implements registry.Sender. It never blocks: when the outbox is full
// the frame is not delivered and Send returns an error, so one slow reader
// cannot back-pressure every broadcast. The connection itself stays open.
func (c *wsConn) Send(frame any) error {
	data, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	select {
	case c.outbox <- data:
		return nil
	case <-c.closed:
		return fmt.Errorf("server: connection %s closed", c.handle)
	default:
		return fmt.Errorf("server: connection %s outbox full", c.handle)
	}
}

func (c *wsConn) writeLoop() {
	defer c.ws.Close()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.outbox:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *wsConn) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
		close(c.outbox)
	}
}

// Handler returns the control-plane's http.Handler (just the websocket
// upgrade endpoint) without binding a listener, so tests can drive a
// Gateway through httptest.NewServer instead of a real TCP port.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/control", g.handleUpgrade)
	return mux
}

// Start binds the control-plane listener and begins accepting connections,
// plus the cron-scheduled idle-session and pairing-expiry sweeps.
func (g *Gateway) Start(ctx context.Context) error {
	g.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.cfg.Listen.Bind, g.cfg.Listen.Port),
		Handler: g.Handler(),
	}

	if err := g.Channels.StartAll(ctx); err != nil {
		log.Warnf("server: starting channel plugins: %v", err)
	}

	g.cron = cron.New()
	if _, err := g.cron.AddFunc(g.cfg.Cron.SweepSchedule, g.sweepIdleSessions); err != nil {
		return fmt.Errorf("server: scheduling idle sweep: %w", err)
	}
	if _, err := g.cron.AddFunc(g.cfg.Cron.SweepSchedule, g.sweepExpiredPairings); err != nil {
		return fmt.Errorf("server: scheduling pairing sweep: %w", err)
	}
	g.cron.Start()

	log.Infof("gateway listening on %s", g.httpServer.Addr)
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

func (g *Gateway) sweepIdleSessions() {
	ttl := time.Duration(g.cfg.Session.IdleTTLMinutes) * time.Minute
	if ttl <= 0 {
		return
	}
	for _, key := range g.Sessions.IdleKeys(ttl) {
		g.Debouncer.Evict(string(key))
		g.Sessions.Evict(key)
		g.mu.Lock()
		delete(g.buses, key)
		g.mu.Unlock()
	}
}

func (g *Gateway) sweepExpiredPairings() {
	for _, pair := range g.Pairing.SweepExpired() {
		log.Infof("pairing request expired: channel=%s sender=%s", pair[0], pair[1])
	}
}

func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	tunnelHeader := ""
	if g.cfg.Auth.TunnelEnabled {
		tunnelHeader = r.Header.Get(g.cfg.Auth.TunnelHeader)
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("server: websocket upgrade failed: %v", err)
		return
	}

	handle := newHandle()
	conn := newWSConn(handle, ws)
	go conn.writeLoop()
	go g.readLoop(conn, tunnelHeader)
}

func (g *Gateway) readLoop(conn *wsConn, tunnelHeader string) {
	defer func() {
		conn.close()
		g.Registry.Deregister(conn.handle)
	}()

	conn.ws.SetReadDeadline(time.Now().Add(registryUnauthDeadline()))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(2 * time.Minute))
		return nil
	})

	authenticated := false
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		if g.Registry != nil {
			g.Registry.Touch(conn.handle)
		}
		f, err := decodeFrame(data)
		if err != nil {
			_ = conn.Send(errorFrame("", "malformed frame"))
			continue
		}
		if !authenticated {
			if !g.handleConnect(conn, f, tunnelHeader) {
				return
			}
			authenticated = true
			conn.ws.SetReadDeadline(time.Now().Add(2 * time.Minute))
			continue
		}
		g.dispatch(conn, f)
	}
}

func registryUnauthDeadline() time.Duration { return 10 * time.Second }

func newHandle() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}
	return "conn-" + hex.EncodeToString(b)
}

// invokeNode sends a correlated node.invoke request to conn and blocks for
// its reply, used by the exec plane's node-host dispatch.
func (g *Gateway) invokeNode(ctx context.Context, conn *registry.Connection, command, cwd string, env map[string]string) (int, []byte, error) {
	reqID := newHandle()
	replyCh := g.registerPendingNodeCall(reqID)
	defer g.cancelPendingNodeCall(reqID)

	if err := conn.Send(nodeInvokeFrame(reqID, command, cwd, env)); err != nil {
		return -1, nil, err
	}

	select {
	case res := <-replyCh:
		return res.exitCode, res.output, res.err
	case <-ctx.Done():
		return -1, nil, ctx.Err()
	}
}
