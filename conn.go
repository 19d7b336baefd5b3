package coro

import (
	"net"
	"sync"
	"sync/atomic"
)

const (
	connReadChunk    = 4096
	connMailboxSlots = 256
)

// Conn pairs one accepted socket with the coroutine driving it. Inbound
// bytes flow through the mailbox ring; the pump raises the data-ready edge
// with Signal and the handler yields between drains.
type Conn struct {
	srv  *Server
	co   *Coroutine
	sock net.Conn
	rx   *Ring[[]byte]

	readErr   error
	readDone  atomic.Bool
	closeOnce sync.Once
}

func newConn(srv *Server) (*Conn, error) {
	co, err := New(srv.thread)
	if err != nil {
		return nil, err
	}
	return &Conn{srv: srv, co: co, rx: NewRing[[]byte](connMailboxSlots)}, nil
}

// start arms the connection coroutine and the read pump. The pump owns its
// own reference on the coroutine, so a late chunk can never signal a
// destroyed one.
func (c *Conn) start(sock net.Conn) {
	c.sock = sock
	c.co.Ref()
	c.co.Start(c.srv.connMain, c)
	go c.pump()
}

// pump moves inbound bytes into the mailbox and signals the coroutine; it
// stands in for the socket's data-ready callback. A read error (io.EOF on
// orderly shutdown) is published, signaled, and ends the pump.
func (c *Conn) pump() {
	defer c.co.Deref()
	for {
		buf := make([]byte, connReadChunk)
		n, err := c.sock.Read(buf)
		if n > 0 {
			c.rx.Write(buf[:n])
			c.co.Signal()
		}
		if err != nil {
			c.readErr = err
			c.readDone.Store(true)
			c.co.Signal()
			return
		}
	}
}

// Recv pops the next inbound chunk without blocking.
func (c *Conn) Recv() ([]byte, bool) {
	return c.rx.TryRead()
}

// ReadClosed reports whether the inbound side is finished and, if so, the
// terminal error (io.EOF for an orderly shutdown).
func (c *Conn) ReadClosed() (error, bool) {
	if !c.readDone.Load() {
		return nil, false
	}
	return c.readErr, true
}

// Send writes outbound bytes on the socket.
func (c *Conn) Send(b []byte) error {
	_, err := c.sock.Write(b)
	return err
}

// Coroutine returns the coroutine driving this connection.
func (c *Conn) Coroutine() *Coroutine {
	return c.co
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// Close shuts the socket down, quiescing the pump.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		if c.sock != nil {
			_ = c.sock.Close()
		}
	})
}

// delete releases the connection: the socket first, so the pump quiesces,
// then the coroutine's creation reference.
func (c *Conn) delete() {
	c.Close()
	c.co.Deref()
}
