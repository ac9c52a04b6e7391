package core

import "sync/atomic"

// Conn is a live connection handle that the relay can push frames to.
type Conn interface {
	Send(payload []byte) error
}

// Client is the in-process end of a socket: the relay enqueues frames and the
// transport's write loop drains Outbound.
type Client struct {
	ID       string
	Outbound chan []byte

	closed atomic.Bool
}

// NewClient constructs a client with a buffered outbound queue.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	return &Client{
		ID:       id,
		Outbound: make(chan []byte, buffer),
	}
}

// Send enqueues a frame without blocking the relay.
func (c *Client) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.Outbound <- payload:
		return nil
	default:
		// Drop if slow consumer.
		return ErrSlowConsumer
	}
}

// Close stops accepting frames. Outbound is left open so a late Send never panics.
func (c *Client) Close() {
	c.closed.Store(true)
}
