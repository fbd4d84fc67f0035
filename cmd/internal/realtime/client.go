package realtime

import (
	"sync"

	"github.com/coder/websocket"
)

// Client represents one websocket connection.
//
// The send queue is never closed by the server so concurrent broadcasters cannot panic;
// done signals the writer to stop. Close is idempotent.
type Client struct {
	ID     string
	Origin string

	// DID and Handle are set once the connection authenticates and never change afterwards.
	DID    string
	Handle string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	closeFn     func(code websocket.StatusCode, reason string)
	closeCode   websocket.StatusCode
	closeReason string
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, origin string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = wsDefaultSendQueueSize
	}
	return &Client{
		ID:     id,
		Origin: origin,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Enqueue hands a frame to the writer without blocking. A full queue drops the frame
// for this connection only.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		framesDropped.Inc()
		return false
	}
}

// Outbound is drained by the connection writer.
func (c *Client) Outbound() <-chan []byte { return c.send }

// Done is closed when the connection is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Authenticated reports whether the connection has bound an identity.
func (c *Client) Authenticated() bool { return c.DID != "" }

// setCloser installs the socket close func. A Close that happened earlier is applied
// to the socket immediately with its original code.
func (c *Client) setCloser(fn func(code websocket.StatusCode, reason string)) {
	c.mu.Lock()
	c.closeFn = fn
	pending := c.Closed()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()

	if pending {
		fn(code, reason)
	}
}

// Close stops the writer and closes the socket with code.
func (c *Client) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		c.closeCode, c.closeReason = code, reason
		fn := c.closeFn
		c.mu.Unlock()
		if fn != nil {
			fn(code, reason)
		}
	})
}
