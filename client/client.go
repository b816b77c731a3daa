// Package client implements the framed JSON-RPC client the CLI uses to
// talk to the daemon over its unix socket.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/evmacro/evmacro/server"
	"github.com/evmacro/evmacro/types"
	"github.com/evmacro/evmacro/utils"
)

// Notification is an unsolicited message pushed by the daemon.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Client is a connection to the daemon. Calls are correlated by id;
// notifications are surfaced on a channel so commands like `record` can
// follow session progress.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan server.JSONRPCResponse
	nextID  uint64
	readErr error

	notifications chan Notification
	done          chan struct{}
}

// Dial connects to the daemon socket and starts the read loop.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, types.NewError(types.KindIOError, "connecting to %s: %v (is the daemon running?)", socketPath, err)
	}
	c := &Client{
		conn:          conn,
		pending:       make(map[uint64]chan server.JSONRPCResponse),
		notifications: make(chan Notification, 64),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Notifications returns the unsolicited message stream. The channel closes
// when the connection ends.
func (c *Client) Notifications() <-chan Notification {
	return c.notifications
}

// Close tears the connection down and fails all in-flight calls.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		if c.readErr == nil {
			c.readErr = types.NewError(types.KindDisconnected, "connection closed")
		}
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.notifications)
		close(c.done)
	}()

	for {
		payload, err := server.ReadFrame(c.conn)
		if err != nil {
			c.mu.Lock()
			c.readErr = types.NewError(types.KindDisconnected, "daemon connection lost: %v", err)
			c.mu.Unlock()
			return
		}

		var head struct {
			ID     interface{}     `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(payload, &head); err != nil {
			utils.Warn("Discarding unparseable frame: %v", err)
			continue
		}

		if head.ID == nil && head.Method != "" {
			select {
			case c.notifications <- Notification{Method: head.Method, Params: head.Params}:
			default:
				// a client not draining notifications loses the oldest ones
			}
			continue
		}

		var resp server.JSONRPCResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			utils.Warn("Discarding unparseable response: %v", err)
			continue
		}
		id, ok := responseID(resp.ID)
		if !ok {
			continue
		}

		c.mu.Lock()
		ch, exists := c.pending[id]
		if exists {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if exists {
			ch <- resp
		}
	}
}

func responseID(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		return uint64(n), true
	case json.Number:
		i, err := n.Int64()
		return uint64(i), err == nil
	default:
		return 0, false
	}
}

// Call performs one request/response exchange. The result, when non-nil,
// is filled from the response result; error kinds survive the wire.
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan server.JSONRPCResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := server.JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      id,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding params: %w", err)
		}
		req.Params = data
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	c.writeMu.Lock()
	err = server.WriteFrame(c.conn, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return types.NewError(types.KindDisconnected, "sending request: %v", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			return err
		}
		return decodeResponse(resp, result)
	case <-ctx.Done():
		c.dropPending(id)
		if ctx.Err() == context.DeadlineExceeded {
			return types.NewError(types.KindTimeout, "%s timed out", method)
		}
		return ctx.Err()
	}
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func decodeResponse(resp server.JSONRPCResponse, result interface{}) error {
	if resp.Error != nil {
		kind := types.KindInternal
		if data, ok := resp.Error.Data.(map[string]interface{}); ok {
			if k, ok := data["kind"].(string); ok && k != "" {
				kind = types.ErrorKind(k)
			}
		}
		return types.NewError(kind, "%s", resp.Error.Message)
	}
	if result == nil {
		return nil
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("re-encoding result: %w", err)
	}
	return json.Unmarshal(data, result)
}

// Authenticate presents a session token. It is a no-op failure-wise when
// the daemon runs without authentication.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	return c.Call(ctx, "authenticate", map[string]string{"token": token}, nil)
}
