package coro

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	listenAttempts  = 5
	listenRetryWait = 100 * time.Millisecond
)

// Handler is the per-connection state machine. It runs as the body of the
// connection's coroutine: drain the mailbox, write responses, yield until
// the next data-ready edge. The connection is released when it returns.
type Handler func(co *Coroutine, c *Conn) any

// Server accepts TCP connections and hands each one to a coroutine on a
// dedicated connection thread.
type Server struct {
	host string
	port int

	handler Handler
	cpu     int
	log     *logiface.Logger[logiface.Event]

	thread   *Thread
	ln       net.Listener
	stopping atomic.Bool
	eg       errgroup.Group
}

// NewServer returns an idle server for the given listen address.
func NewServer(host string, port int, opts ...ServerOption) *Server {
	s := &Server{host: host, port: port, handler: Echo}
	for _, o := range opts {
		o(s)
	}
	s.thread = NewThread(WithThreadLogger(s.log))
	return s
}

// Start listens and launches the connection thread and the accept loop.
// An address still held by a lingering socket is retried a few times
// before giving up; any other listen error is returned as is.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	var (
		ln  net.Listener
		err error
	)
	for i := 0; i < listenAttempts; i++ {
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EADDRINUSE) {
			return err
		}
		time.Sleep(listenRetryWait)
	}
	if err != nil {
		return err
	}

	if err := s.thread.Start("co-conn", s.cpu); err != nil {
		_ = ln.Close()
		return err
	}
	s.ln = ln
	s.eg.Go(s.acceptLoop)
	s.log.Info().Str("addr", ln.Addr().String()).Log("listening")
	return nil
}

// Addr returns the bound listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// acceptLoop creates the connection object ahead of each accept, so a
// failed accept costs one delete and a burst cannot outrun allocation.
func (s *Server) acceptLoop() error {
	for !s.stopping.Load() {
		con, err := newConn(s)
		if err != nil {
			return err
		}
		sock, err := s.ln.Accept()
		if err != nil {
			con.delete()
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Err().Err(err).Log("accept failed")
			continue
		}
		con.start(sock)
	}
	return nil
}

// connMain wraps the handler so the connection is always released when the
// state machine returns.
func (s *Server) connMain(co *Coroutine, arg any) any {
	c := arg.(*Conn)
	ret := s.handler(co, c)
	c.delete()
	return ret
}

// Stop aborts the accept loop, joins it, then stops the connection thread.
// In-flight connections are the caller's responsibility, like any other
// still-referenced coroutine at thread stop.
func (s *Server) Stop() {
	s.stopping.Store(true)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	_ = s.eg.Wait()
	s.thread.Stop()
}

// Echo is the default connection handler: every inbound chunk is staged
// through the coroutine's arena scratch and written back.
func Echo(co *Coroutine, c *Conn) any {
	scratch := co.Scratch()
	for {
		for {
			chunk, ok := c.Recv()
			if !ok {
				break
			}
			n := copy(scratch, chunk)
			if err := c.Send(scratch[:n]); err != nil {
				return err
			}
		}
		if err, done := c.ReadClosed(); done {
			if err != nil && err != io.EOF {
				return err
			}
			return nil
		}
		co.Yield()
	}
}
