package sfifo

import (
	"sync/atomic"

	"go.uber.org/multierr"
)

// Channel - authenticated duplex pipe pair produced by a successful
// handshake. Authentication is a connection-level property: reads and writes
// are plain pass-throughs with the endpoint timeout semantics.
type Channel struct {
	rd     *Endpoint
	wr     *Endpoint
	peer   PeerInfo
	server bool

	events chan Event
	done   chan struct{}
	closed atomic.Bool
}

func newChannel(rd, wr *Endpoint, peer PeerInfo, server bool) *Channel {
	c := &Channel{
		rd:     rd,
		wr:     wr,
		peer:   peer,
		server: server,
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}
	go c.forward()
	return c
}

// forward fans the first event from either endpoint into the channel's own
// notification stream.
func (c *Channel) forward() {
	select {
	case ev := <-c.rd.Notify():
		c.events <- ev
	case ev := <-c.wr.Notify():
		c.events <- ev
	case <-c.done:
	}
}

// PeerInfo returns the verified identity of the peer process.
func (c *Channel) PeerInfo() PeerInfo { return c.peer }

// IsServer reports whether this side accepted the handshake.
func (c *Channel) IsServer() bool { return c.server }

// Notify yields at most one event when either FIFO is deleted or the peer
// closes an end.
func (c *Channel) Notify() <-chan Event { return c.events }

// Read reads from the inbound FIFO.
func (c *Channel) Read(p []byte) (int, error) { return c.rd.Read(p) }

// Write writes to the outbound FIFO.
func (c *Channel) Write(p []byte) (int, error) { return c.wr.Write(p) }

// WriteString writes the whole string.
func (c *Channel) WriteString(s string) error {
	_, err := c.wr.WriteFull([]byte(s))
	return err
}

// WriteLine writes the string followed by a newline.
func (c *Channel) WriteLine(s string) error {
	return c.WriteString(s + "\n")
}

// Close releases both endpoints. The two closes are independent and
// idempotent, so ordering does not matter and a second Close is a no-op.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	return multierr.Append(c.rd.Close(), c.wr.Close())
}
