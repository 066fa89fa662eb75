// Package cliclient is a minimal operator-role client for the gateway's
// control protocol, used by cmd/gateway's pairing/approvals subcommands
// (and by pkg/scenario's end-to-end tests) to talk to a running gateway
// over the same
// websocket wire pkg/server/conn.go speaks. Grounded on conn.go's wsConn:
// a dedicated read goroutine and a correlation map keyed by request id,
// mirrored here from the server side to the client side.
package cliclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudbro-kube-ai/k13d/pkg/protocol"
)

// ConnectParams configures the initial connect handshake.
type ConnectParams struct {
	ClientID string
	Version  string
	Token    string
	Password string
	Role     string
}

// Client is a single operator connection with request/response correlation
// and a side channel for unsolicited event frames.
type Client struct {
	ws *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan *protocol.Frame
	nextID  uint64

	events chan *protocol.Frame
	done   chan struct{}
}

// Dial opens a websocket to addr (e.g. "ws://127.0.0.1:8843/control"),
// performs the connect handshake, and starts the background read loop.
func Dial(ctx context.Context, addr string, p ConnectParams) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("cliclient: dial %s: %w", addr, err)
	}

	c := &Client{
		ws:      ws,
		pending: make(map[string]chan *protocol.Frame),
		events:  make(chan *protocol.Frame, 32),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	connectParams := map[string]any{
		"client": map[string]any{
			"id":      p.ClientID,
			"version": p.Version,
			"mode":    "cli",
		},
		"minProtocol": protocol.Version,
		"maxProtocol": protocol.Version,
		"role":        p.Role,
	}
	if p.Token != "" || p.Password != "" {
		connectParams["auth"] = map[string]any{"token": p.Token, "password": p.Password}
	}

	if _, err := c.Call(ctx, protocol.MethodConnect, connectParams); err != nil {
		ws.Close()
		return nil, fmt.Errorf("cliclient: connect handshake: %w", err)
	}
	return c, nil
}

// Events returns the channel unsolicited event frames (EventPairingChanged,
// EventApprovalRequest, ...) are delivered on; a frame that arrives while the
// channel's buffer is full is dropped.
func (c *Client) Events() <-chan *protocol.Frame { return c.events }

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.failPending(err)
			return
		}
		f, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		switch f.Kind {
		case protocol.KindRes:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case protocol.KindEvent:
			select {
			case c.events <- f:
			default:
			}
		}
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- protocol.NewError(id, protocol.ErrInternal, err.Error())
		delete(c.pending, id)
	}
}

// Call sends a req frame and blocks for its matching res frame.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := fmt.Sprintf("cli-%d", atomic.AddUint64(&c.nextID, 1))
	frame, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	replyCh := make(chan *protocol.Frame, 1)
	c.mu.Lock()
	c.pending[id] = replyCh
	c.mu.Unlock()

	data, err := protocol.Encode(frame)
	if err != nil {
		return nil, err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		if reply.Error != nil {
			return nil, protocol.NewErr(reply.Error.Code, reply.Error.Message)
		}
		return reply.Payload, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.ws.Close()
}
