package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"

	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
)

// Server accepts connections on one endpoint and serves each with a Mux.
type Server struct {
	endpoint Endpoint
	listener net.Listener
	mux      *Mux
	logger   *slog.Logger
	onConn   func(*Conn)

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// OnConnect registers fn to run for every accepted connection before it
// serves its first call.
func OnConnect(fn func(*Conn)) ServerOption {
	return func(s *Server) { s.onConn = fn }
}

// Listen starts accepting connections on the server endpoint desc.
func Listen(desc string, mux *Mux, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	ep, err := ParseEndpoint(desc, RoleServer)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ep.Network == "unix" {
		if err := os.Remove(ep.Address); err != nil && !os.IsNotExist(err) {
			return nil, ferrors.FileSystemError("removing stale socket").
				WithCause(err).WithContext("path", ep.Address).Build()
		}
	}

	l, err := net.Listen(ep.Network, ep.Address)
	if err != nil {
		return nil, ferrors.NetworkError("listen failed").
			WithCause(err).WithContext("endpoint", desc).Build()
	}

	s := &Server{
		endpoint: ep,
		listener: l,
		mux:      mux,
		logger:   logger.With(logfields.Endpoint(desc)),
		conns:    make(map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Info("Listening", slog.String("addr", l.Addr().String()))
	return s, nil
}

// Endpoint returns the parsed endpoint the server was started with.
func (s *Server) Endpoint() Endpoint { return s.endpoint }

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Conns returns the currently open accepted connections.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Close stops listening. Connections already accepted stay open.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	if s.endpoint.Network == "unix" {
		_ = os.Remove(s.endpoint.Address)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Shutdown stops listening and closes every accepted connection.
func (s *Server) Shutdown(context.Context) error {
	err := s.Close()
	for _, c := range s.Conns() {
		_ = c.Close()
	}
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Accept failed", logfields.Error(err))
			return
		}

		c := NewConn(nc, s.mux, s.logger)
		s.track(c)
		if s.onConn != nil {
			s.onConn(c)
		}
	}
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	c.NotifyOnClose(func(error) {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	})
}

// Dial connects to the client endpoint desc. The returned Conn serves calls
// from the peer with mux, which may be nil.
func Dial(ctx context.Context, desc string, mux *Mux, logger *slog.Logger) (*Conn, error) {
	ep, err := ParseEndpoint(desc, RoleClient)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, ep.Network, ep.Address)
	if err != nil {
		return nil, ferrors.NetworkError("dial failed").
			WithCause(err).WithContext("endpoint", desc).Build()
	}
	return NewConn(nc, mux, logger), nil
}
