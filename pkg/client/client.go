// Package client is the daemon's control-protocol client: it dials the
// Unix domain socket, frames requests, and dispatches responses and
// streaming notifications back to callers.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/somersstack/clier/internal/ipc"
)

// Config configures a Client.
type Config struct {
	SocketPath string
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration
}

// Client is a single connection to the daemon's IPC socket. Safe for
// concurrent use.
type Client struct {
	conn   net.Conn
	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan wireMsg
	notifies map[int64]chan wireMsg
	closed   bool
}

type wireMsg struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ipc.ErrorObj   `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (m wireMsg) isNotification() bool { return m.Event != "" }

// ErrDaemonUnavailable indicates the socket could not be reached.
type ErrDaemonUnavailable struct{ Err error }

func (e *ErrDaemonUnavailable) Error() string {
	return fmt.Sprintf("daemon unavailable: %v", e.Err)
}
func (e *ErrDaemonUnavailable) Unwrap() error { return e.Err }

// Dial connects to the daemon's socket and starts its read loop.
func Dial(cfg Config) (*Client, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("unix", cfg.SocketPath, timeout)
	if err != nil {
		return nil, &ErrDaemonUnavailable{Err: err}
	}
	c := &Client{
		conn:     conn,
		pending:  make(map[int64]chan wireMsg),
		notifies: make(map[int64]chan wireMsg),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		frame, err := ipc.ReadFrame(c.conn)
		if err != nil {
			c.closeWithError()
			return
		}
		var msg wireMsg
		if err := json.Unmarshal(frame, &msg); err != nil {
			continue
		}
		c.mu.Lock()
		if msg.isNotification() {
			if ch, ok := c.notifies[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
				}
			}
		} else if ch, ok := c.pending[msg.ID]; ok {
			ch <- msg
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
	}
}

func (c *Client) closeWithError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.pending {
		close(ch)
	}
	for _, ch := range c.notifies {
		close(ch)
	}
}

// Call performs a single request/response exchange and decodes result
// into out (which may be nil to discard it).
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)
	replyCh := make(chan wireMsg, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ErrDaemonUnavailable{Err: fmt.Errorf("connection closed")}
	}
	c.pending[id] = replyCh
	c.mu.Unlock()

	if err := c.send(id, method, params); err != nil {
		return err
	}

	select {
	case msg, ok := <-replyCh:
		if !ok {
			return &ErrDaemonUnavailable{Err: fmt.Errorf("connection closed while waiting for reply")}
		}
		if msg.Error != nil {
			return &ipc.Error{Code: msg.Error.Code, Message: msg.Error.Message, Data: msg.Error.Data}
		}
		if out != nil && len(msg.Result) > 0 {
			return json.Unmarshal(msg.Result, out)
		}
		return nil
	case <-ctx.Done():
		c.cancelRequest(id)
		return ctx.Err()
	}
}

// Stream performs a streaming request, invoking onNotify for each
// notification until ctx is canceled or the server ends the stream.
func (c *Client) Stream(ctx context.Context, method string, params any, onNotify func(event string, data json.RawMessage)) error {
	id := c.nextID.Add(1)
	replyCh := make(chan wireMsg, 1)
	notifyCh := make(chan wireMsg, 64)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ErrDaemonUnavailable{Err: fmt.Errorf("connection closed")}
	}
	c.pending[id] = replyCh
	c.notifies[id] = notifyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.notifies, id)
		c.mu.Unlock()
	}()

	if err := c.send(id, method, params); err != nil {
		return err
	}

	for {
		select {
		case msg, ok := <-notifyCh:
			if !ok {
				return nil
			}
			onNotify(msg.Event, msg.Data)
		case msg, ok := <-replyCh:
			if !ok {
				return &ErrDaemonUnavailable{Err: fmt.Errorf("connection closed mid-stream")}
			}
			// the read loop queues notifications before the final response,
			// so hand over any still buffered before returning
			for drained := false; !drained; {
				select {
				case n, ok := <-notifyCh:
					if !ok {
						drained = true
					} else {
						onNotify(n.Event, n.Data)
					}
				default:
					drained = true
				}
			}
			if msg.Error != nil {
				return &ipc.Error{Code: msg.Error.Code, Message: msg.Error.Message, Data: msg.Error.Data}
			}
			return nil
		case <-ctx.Done():
			c.cancelRequest(id)
			return ctx.Err()
		}
	}
}

func (c *Client) cancelRequest(id int64) {
	_ = c.send(0, "_cancel", map[string]int64{"id": id})
}

func (c *Client) send(id int64, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return ipc.WriteFrame(c.conn, ipc.Request{ID: id, Method: method, Params: raw})
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
