package coro

import (
	"github.com/joeycumines/logiface"
)

// ThreadOption configures a Thread.
type ThreadOption func(*Thread)

// WithThreadLogger attaches a structured logger to the thread; nil leaves
// logging disabled.
func WithThreadLogger(log *logiface.Logger[logiface.Event]) ThreadOption {
	return func(t *Thread) { t.log = log }
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHandler replaces the default echo handler.
func WithHandler(h Handler) ServerOption {
	return func(s *Server) {
		if h != nil {
			s.handler = h
		}
	}
}

// WithServerLogger attaches a structured logger to the server and its
// connection thread; nil leaves logging disabled.
func WithServerLogger(log *logiface.Logger[logiface.Event]) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithConnCPU pins the connection worker to the given cpu. Defaults to 0.
func WithConnCPU(cpu int) ServerOption {
	return func(s *Server) { s.cpu = cpu }
}
