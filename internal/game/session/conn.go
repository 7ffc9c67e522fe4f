package session

import (
	"fmt"
	"sync"

	"github.com/piratewind/worldcore/internal/game/wire"
)

// ChanConn routes outbound envelopes to a buffered channel, bridging the
// game core to the websocket write goroutine.
type ChanConn struct {
	out    chan wire.Message
	mu     sync.Mutex
	closed bool
}

// NewChanConn creates a ChanConn with the given buffer size.
//
// Precondition: bufferSize should be > 0; values <= 0 fall back to 64.
func NewChanConn(bufferSize int) *ChanConn {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &ChanConn{out: make(chan wire.Message, bufferSize)}
}

// Send enqueues msg without blocking.
//
// Postcondition: msg is enqueued, or an error when closed or full.
func (c *ChanConn) Send(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Out returns the read-only outbound channel. The write goroutine drains it.
func (c *ChanConn) Out() <-chan wire.Message {
	return c.out
}

// Close marks the connection closed and closes the outbound channel.
// Idempotent.
func (c *ChanConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *ChanConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
