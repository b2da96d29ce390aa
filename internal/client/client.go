// Package client implements the operator-side WebSocket client used by
// the reclaw CLI to talk to a running gateway.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/reclaw/reclaw/internal/protocol"
)

// Options configures a gateway client connection.
type Options struct {
	URL      string // ws://127.0.0.1:18789
	Token    string
	Password string

	ClientID      string
	DisplayName   string
	ClientVersion string
	Mode          string
	Role          string
	Scopes        []string

	OnEvent func(event string, payload json.RawMessage)
	OnClose func(err error)
}

type pendingCall struct {
	ch chan *protocol.ResponseFrame
}

// Client holds one live connection and its in-flight requests.
type Client struct {
	opts Options

	mu      sync.RWMutex
	ws      *websocket.Conn
	pending map[string]*pendingCall
	hello   *protocol.HelloOk
	closed  bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

func New(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = "ws://127.0.0.1:18789"
	}
	if opts.ClientID == "" {
		opts.ClientID = "reclaw-cli"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "dev"
	}
	if opts.Mode == "" {
		opts.Mode = "cli"
	}
	if opts.Role == "" {
		opts.Role = "operator"
	}

	return &Client{
		opts:    opts,
		pending: make(map[string]*pendingCall),
		closeCh: make(chan struct{}),
	}
}

// Connect dials the gateway and performs the connect handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop()

	params := protocol.ConnectParams{
		MinProtocol: protocol.Version,
		MaxProtocol: protocol.Version,
		Client: protocol.ClientInfo{
			ID:          c.opts.ClientID,
			DisplayName: c.opts.DisplayName,
			Version:     c.opts.ClientVersion,
			Platform:    runtime.GOOS,
			Mode:        c.opts.Mode,
		},
		Role:   c.opts.Role,
		Scopes: c.opts.Scopes,
	}
	if c.opts.Token != "" || c.opts.Password != "" {
		params.Auth = &protocol.AuthInfo{
			Token:    c.opts.Token,
			Password: c.opts.Password,
		}
	}

	payload, err := c.Call(ctx, "connect", params)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("connect failed: %w", err)
	}

	var hello protocol.HelloOk
	if err := json.Unmarshal(payload, &hello); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to parse hello-ok: %w", err)
	}

	c.mu.Lock()
	c.hello = &hello
	c.mu.Unlock()
	return nil
}

// Close tears down the connection and fails all in-flight requests.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	for id, call := range c.pending {
		close(call.ch)
		delete(c.pending, id)
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	c.wg.Wait()
	return nil
}

// RPCError is a gateway error surfaced to CLI callers.
type RPCError struct {
	Shape *protocol.ErrorShape
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Shape.Code, e.Shape.Message)
}

// Call sends one request and waits for its response payload.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return nil, fmt.Errorf("not connected")
	}

	id := uuid.NewString()
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		rawParams = encoded
	}
	frame := protocol.RequestFrame{
		Type:   "req",
		ID:     id,
		Method: method,
		Params: rawParams,
	}

	ch := make(chan *protocol.ResponseFrame, 1)
	c.mu.Lock()
	c.pending[id] = &pendingCall{ch: ch}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, fmt.Errorf("connection closed")
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, fmt.Errorf("connection closed before response")
		}
		if !resp.OK {
			if resp.Error != nil {
				return nil, &RPCError{Shape: resp.Error}
			}
			return nil, fmt.Errorf("request failed")
		}
		payload, err := json.Marshal(resp.Payload)
		if err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// Hello returns the handshake payload once connected.
func (c *Client) Hello() *protocol.HelloOk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ws != nil && !c.closed
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		ws := c.ws
		closed := c.closed
		c.mu.RUnlock()
		if closed || ws == nil {
			return
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed && c.opts.OnClose != nil {
				c.opts.OnClose(err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var base struct {
		Type    string          `json:"type"`
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return
	}

	switch base.Type {
	case "res":
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		c.mu.RLock()
		call, ok := c.pending[resp.ID]
		c.mu.RUnlock()
		if ok {
			select {
			case call.ch <- &resp:
			default:
			}
		}
	case "event":
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(base.Event, base.Payload)
		}
	}
}
