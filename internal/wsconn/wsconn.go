// Package wsconn is a single-dial WebSocket connection wrapper used by
// the Node session layer. It owns exactly one underlying
// *websocket.Conn for its lifetime; reconnection is the caller's
// responsibility (Node redials with a fresh Conn on backoff). Grounded
// on the teacher's socket.go (gorilla/websocket, a buffered send
// goroutine, a read goroutine), with the read loop's message/error
// dispatch corrected — the teacher's `readListener` returned on every
// normal text frame (`msgType != CloseMessage`) instead of on an error,
// which would have dropped every inbound frame after the first.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send once the connection has been closed.
var ErrClosed = errors.New("wsconn: connection closed")

type sendReq struct {
	data    []byte
	errChan chan error
}

// Conn is one live WebSocket connection.
type Conn struct {
	conn *websocket.Conn

	sendChan chan sendReq
	closeMu  sync.Mutex
	closed   bool
	doneChan chan struct{}
}

// DialOptions configures the handshake.
type DialOptions struct {
	Headers          http.Header
	BufferSize       int
	HandshakeTimeout time.Duration
}

// Dial opens one WebSocket connection. The caller owns the returned
// Conn's lifetime and must call Run to start reading, then Close/
// Terminate to release it.
func Dial(ctx context.Context, url string, opts DialOptions) (*Conn, *http.Response, error) {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 45 * time.Second
	}
	dialer := &websocket.Dialer{
		ReadBufferSize:   opts.BufferSize,
		WriteBufferSize:  opts.BufferSize,
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, opts.Headers)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{
		conn:     conn,
		sendChan: make(chan sendReq),
		doneChan: make(chan struct{}),
	}, resp, nil
}

// Run starts the send and read loops. onMessage is invoked for every
// text/binary frame; onClose is invoked exactly once, with the close
// code/reason, when the read loop ends for any reason (remote close,
// local Close/Terminate, or a read error — surfaced as code -1).
func (c *Conn) Run(onMessage func([]byte), onClose func(code int, reason string)) {
	go c.sendLoop()
	go c.readLoop(onMessage, onClose)
}

func (c *Conn) sendLoop() {
	for req := range c.sendChan {
		req.errChan <- c.conn.WriteMessage(websocket.TextMessage, req.data)
	}
}

func (c *Conn) readLoop(onMessage func([]byte), onClose func(code int, reason string)) {
	defer close(c.doneChan)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			code, reason := -1, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			onClose(code, reason)
			return
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			onMessage(data)
		}
	}
}

// Send writes a pre-encoded frame.
func (c *Conn) Send(data []byte) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return ErrClosed
	}
	c.closeMu.Unlock()

	errChan := make(chan error, 1)
	select {
	case c.sendChan <- sendReq{data: data, errChan: errChan}:
	case <-c.doneChan:
		return ErrClosed
	}
	return <-errChan
}

// SendJSON marshals and writes value.
func (c *Conn) SendJSON(value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("wsconn: marshal: %w", err)
	}
	return c.Send(data)
}

// Close sends a graceful close frame and releases resources. Safe to
// call multiple times.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.sendChan)
	c.closeMu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

// Terminate closes the underlying TCP connection immediately, for use
// while still mid-dial or on a caller-initiated abort.
func (c *Conn) Terminate() error {
	c.closeMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.sendChan)
	}
	c.closeMu.Unlock()
	return c.conn.Close()
}
