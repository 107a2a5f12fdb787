// Package hub implements the mesh node: it fans build requests out to local
// and remote builders, relays notes to local and remote observers, and joins
// other hubs over rpc connections.
package hub

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"git.home.luguber.info/inful/buildmesh/internal/builder"
	"git.home.luguber.info/inful/buildmesh/internal/emitter"
	"git.home.luguber.info/inful/buildmesh/internal/ident"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/metrics"
	"git.home.luguber.info/inful/buildmesh/internal/note"
	"git.home.luguber.info/inful/buildmesh/internal/rpc"
)

// Hub is a mesh node. It is both a Builder (requests are forwarded to every
// registered builder) and an Observer (notes are forwarded to every
// registered observer), and it dedups both.
type Hub struct {
	base     *builder.Base
	emitter  *emitter.Emitter
	gen      *ident.Generator
	recorder metrics.Recorder
	logger   *slog.Logger
	name     string
	mux      *rpc.Mux

	mu       sync.Mutex
	builders []builder.Builder
	proxies  map[*rpc.Conn]*RemoteHub
	servers  map[string]*rpc.Server
	conns    map[string]*rpc.Conn
}

// Option configures a Hub.
type Option func(*Hub)

// WithName sets the hub name reported to peers.
func WithName(name string) Option { return func(h *Hub) { h.name = name } }

// WithGenerator shares an id generator.
func WithGenerator(g *ident.Generator) Option { return func(h *Hub) { h.gen = g } }

// WithEmitter replaces the note emitter, for example to choose its ledger.
func WithEmitter(e *emitter.Emitter) Option { return func(h *Hub) { h.emitter = e } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(h *Hub) { h.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Hub) { h.logger = l } }

// New returns a Hub with no builders, observers or connections.
func New(opts ...Option) *Hub {
	h := &Hub{
		name:     "hub",
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		proxies:  make(map[*rpc.Conn]*RemoteHub),
		servers:  make(map[string]*rpc.Server),
		conns:    make(map[string]*rpc.Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.gen == nil {
		h.gen = ident.NewGenerator()
	}
	if h.emitter == nil {
		h.emitter = emitter.New(emitter.WithRecorder(h.recorder))
	}
	h.base = builder.NewBase(h.name, h.gen, nil)
	h.logger = h.logger.With(slog.String("hub", h.name))
	h.mux = h.newMux()
	return h
}

// UID returns the id generated for this hub at construction.
func (h *Hub) UID() string { return h.base.UID() }

// Name returns the hub name.
func (h *Hub) Name() string { return h.name }

// Generator returns the hub's id generator.
func (h *Hub) Generator() *ident.Generator { return h.gen }

// Build assigns an id to req if needed and, the first time that id is seen,
// forwards it to every registered builder in registration order.
func (h *Hub) Build(ctx context.Context, req note.BuildRequest) note.BuildRequest {
	req, first := h.base.Accept(req)
	h.recorder.IncRequestReceived(!first)
	if !first {
		return req
	}

	h.logger.Info("Dispatching build request",
		logfields.RequestID(req.ID), logfields.Project(req.Project), logfields.Version(req.Version))
	for _, b := range h.Builders() {
		b.Build(ctx, req)
	}
	return req
}

// ReceiveNote relays n to every observer unless it was relayed before.
func (h *Hub) ReceiveNote(ctx context.Context, n note.Note) error {
	return h.emitter.Emit(ctx, n)
}

// AddBuilder registers b. Registering the same builder twice has no effect.
func (h *Hub) AddBuilder(b builder.Builder) {
	h.mu.Lock()
	if !slices.ContainsFunc(h.builders, func(have builder.Builder) bool { return emitter.Same(have, b) }) {
		h.builders = append(h.builders, b)
	}
	h.mu.Unlock()
	h.reportMembers()
}

// RemoveBuilder unregisters b if present.
func (h *Hub) RemoveBuilder(b builder.Builder) {
	h.dropBuilder(b)
	h.reportMembers()
}

// Builders returns a snapshot of the registered builders.
func (h *Hub) Builders() []builder.Builder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.builders)
}

// AddObserver subscribes o to relayed notes.
func (h *Hub) AddObserver(o emitter.Observer) {
	h.emitter.AddObserver(o)
	h.reportMembers()
}

// RemoveObserver unsubscribes o.
func (h *Hub) RemoveObserver(o emitter.Observer) {
	h.emitter.RemoveObserver(o)
	h.reportMembers()
}

// Observers returns a snapshot of the registered observers.
func (h *Hub) Observers() []emitter.Observer { return h.emitter.Observers() }

// Peers returns the remote hubs currently known on any connection.
func (h *Hub) Peers() []*RemoteHub {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*RemoteHub, 0, len(h.proxies))
	for _, p := range h.proxies {
		out = append(out, p)
	}
	return out
}

func (h *Hub) dropBuilder(b builder.Builder) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := slices.IndexFunc(h.builders, func(have builder.Builder) bool { return emitter.Same(have, b) })
	if i < 0 {
		return false
	}
	h.builders = slices.Delete(h.builders, i, i+1)
	return true
}

func (h *Hub) reportMembers() {
	h.mu.Lock()
	builders := len(h.builders)
	h.mu.Unlock()
	h.recorder.SetMeshMembers(builders, len(h.emitter.Observers()))
}

var (
	_ builder.Builder  = (*Hub)(nil)
	_ emitter.Observer = (*Hub)(nil)
	_ emitter.Source   = (*Hub)(nil)
)
