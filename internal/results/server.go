package results

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"git.home.luguber.info/inful/buildmesh/internal/builder"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/note"
	"git.home.luguber.info/inful/buildmesh/internal/rpc"
	"git.home.luguber.info/inful/buildmesh/internal/wire"
)

// Result is one build outcome reported by an agent.
type Result struct {
	Builder     string
	ProjectName string
	Revision    string
	Specs       string
	ReturnCode  int
}

type peer struct {
	kind string
	name string
}

// Server collects results from agents and fans suggestions out to them.
type Server struct {
	logger   *slog.Logger
	mux      *rpc.Mux
	forward  builder.Builder
	onResult func(Result)

	mu    sync.Mutex
	peers map[*rpc.Conn]peer
	srv   *rpc.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption { return func(s *Server) { s.logger = l } }

// WithForward submits every suggestion to b as a build request too, which
// lets a hub serve legacy post-receive hooks.
func WithForward(b builder.Builder) ServerOption { return func(s *Server) { s.forward = b } }

// WithResultHandler calls fn for every reported result.
func WithResultHandler(fn func(Result)) ServerOption { return func(s *Server) { s.onResult = fn } }

// NewServer returns a Server that is not listening yet.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		logger: slog.Default(),
		peers:  make(map[*rpc.Conn]peer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = rpc.NewMux()
	s.mux.Handle(wire.MethodIdentify, rpc.Typed(s.identify))
	s.mux.Handle(wire.MethodSendResult, rpc.Typed(s.sendResult))
	s.mux.Handle(wire.MethodSuggestBuild, rpc.Typed(s.suggestBuild))
	return s
}

// Mux returns the methods the server answers.
func (s *Server) Mux() *rpc.Mux { return s.mux }

// Listen starts accepting agents on the server endpoint desc.
func (s *Server) Listen(desc string) error {
	srv, err := rpc.Listen(desc, s.mux, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	return nil
}

// Server returns the listener, or nil before Listen.
func (s *Server) Server() *rpc.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv
}

// Close stops listening and drops every agent.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Builders returns the names of identified builders, sorted.
func (s *Server) Builders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, p := range s.peers {
		if p.kind == wire.KindBuilder {
			names = append(names, p.name)
		}
	}
	slices.Sort(names)
	return names
}

func (s *Server) identify(_ context.Context, conn *rpc.Conn, args wire.IdentifyArgs) (any, error) {
	s.mu.Lock()
	_, known := s.peers[conn]
	s.peers[conn] = peer{kind: args.Kind, name: args.Name}
	s.mu.Unlock()

	if !known {
		conn.NotifyOnClose(func(error) {
			s.mu.Lock()
			delete(s.peers, conn)
			s.mu.Unlock()
			s.logger.Info("Agent left", logfields.Builder(args.Name))
		})
	}
	s.logger.Info("Agent identified", logfields.Builder(args.Name), slog.String("kind", args.Kind))
	return nil, nil
}

func (s *Server) sendResult(_ context.Context, conn *rpc.Conn, args wire.SendResultArgs) (any, error) {
	from := s.nameOf(conn)
	s.logger.Info("Build result",
		logfields.Builder(from), logfields.Project(args.ProjectName),
		logfields.Version(args.Revision), logfields.Status(args.ReturnCode))

	if s.onResult != nil {
		s.onResult(Result{
			Builder:     from,
			ProjectName: args.ProjectName,
			Revision:    args.Revision,
			Specs:       args.Specs,
			ReturnCode:  args.ReturnCode,
		})
	}

	status := wire.SendStatusArgs{
		ProjectName: args.ProjectName,
		Revision:    args.Revision,
		BuilderName: from,
		ReturnCode:  args.ReturnCode,
	}
	for _, c := range s.builderConns() {
		s.notify(c, wire.MethodSendStatus, status)
	}
	return nil, nil
}

func (s *Server) suggestBuild(ctx context.Context, _ *rpc.Conn, args wire.SuggestBuildArgs) (any, error) {
	s.logger.Info("Build suggested", logfields.Project(args.ProjectName), logfields.Version(args.Revision))
	for _, c := range s.builderConns() {
		s.notify(c, wire.MethodSuggestBuild, args)
	}
	if s.forward != nil {
		s.forward.Build(ctx, note.BuildRequest{Project: args.ProjectName, Version: args.Revision})
	}
	return nil, nil
}

// notify calls method on c without waiting. Older agents that do not know
// the method are tolerated.
func (s *Server) notify(c *rpc.Conn, method string, args any) {
	call := c.Go(method, args, nil)
	go func() {
		<-call.Done
		if call.Error != nil && !rpc.IsUnknownMethod(call.Error) && !rpc.IsTransport(call.Error) {
			s.logger.Warn("Agent rejected call", logfields.Method(method), logfields.Error(call.Error))
		}
	}()
}

func (s *Server) nameOf(c *rpc.Conn) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[c]; ok {
		return p.name
	}
	return c.RemoteAddr()
}

func (s *Server) builderConns() []*rpc.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*rpc.Conn
	for c, p := range s.peers {
		if p.kind == wire.KindBuilder {
			out = append(out, c)
		}
	}
	return out
}
