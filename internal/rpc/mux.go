package rpc

import (
	"context"
	"fmt"
	"sync"

	"git.home.luguber.info/inful/buildmesh/internal/codec"
)

// Handler serves one method. peer is the connection the call arrived on, so
// a handler can call back into the caller. The result, if not nil, is
// encoded as the reply data.
type Handler func(ctx context.Context, peer *Conn, args codec.RawMessage) (any, error)

type route struct {
	handler Handler
	ordered bool
}

// Mux routes incoming calls to handlers by method name.
type Mux struct {
	mu     sync.RWMutex
	routes map[string]route
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{routes: make(map[string]route)}
}

// Handle registers h for method. Each call is served on its own goroutine.
// Registering a method twice panics.
func (m *Mux) Handle(method string, h Handler) {
	m.register(method, route{handler: h})
}

// HandleOrdered registers h for method. Calls to ordered methods arriving
// on one connection are served one at a time in arrival order. h must not
// wait for a reply on the connection it is serving.
func (m *Mux) HandleOrdered(method string, h Handler) {
	m.register(method, route{handler: h, ordered: true})
}

func (m *Mux) register(method string, r route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.routes[method]; exists {
		panic(fmt.Sprintf("rpc.Mux: duplicate handler for method %q", method))
	}
	m.routes[method] = r
}

func (m *Mux) lookup(method string) (route, bool) {
	if m == nil {
		return route{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[method]
	return r, ok
}

// Decode unmarshals call arguments, tagging failures so the caller sees a
// bad_args reply.
func Decode(args codec.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := codec.Unmarshal(args, v); err != nil {
		return WithCode(CodeBadArgs, fmt.Errorf("decoding arguments: %w", err))
	}
	return nil
}

// Typed adapts a function taking decoded arguments to a Handler.
func Typed[A any, R any](fn func(ctx context.Context, peer *Conn, args A) (R, error)) Handler {
	return func(ctx context.Context, peer *Conn, raw codec.RawMessage) (any, error) {
		var args A
		if err := Decode(raw, &args); err != nil {
			return nil, err
		}
		return fn(ctx, peer, args)
	}
}
