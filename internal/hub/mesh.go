package hub

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"git.home.luguber.info/inful/buildmesh/internal/codec"
	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/note"
	"git.home.luguber.info/inful/buildmesh/internal/rpc"
	"git.home.luguber.info/inful/buildmesh/internal/wire"
)

func (h *Hub) newMux() *rpc.Mux {
	mux := rpc.NewMux()
	mux.Handle(wire.MethodBuild, rpc.Typed(func(ctx context.Context, _ *rpc.Conn, req note.BuildRequest) (note.BuildRequest, error) {
		return h.Build(ctx, req), nil
	}))
	mux.HandleOrdered(wire.MethodNoteReceived, rpc.Typed(func(ctx context.Context, peer *rpc.Conn, n note.Note) (any, error) {
		if err := h.ReceiveNote(ctx, n); err != nil {
			h.logger.Warn("Relaying note failed", logfields.NoteID(n.ID), logfields.Peer(peer.RemoteAddr()), logfields.Error(err))
		}
		return nil, nil
	}))
	mux.Handle(wire.MethodAddBuilder, func(_ context.Context, peer *rpc.Conn, _ codec.RawMessage) (any, error) {
		h.RemoteAddBuilder(peer)
		return nil, nil
	})
	mux.Handle(wire.MethodRemoveBuilder, func(_ context.Context, peer *rpc.Conn, _ codec.RawMessage) (any, error) {
		h.RemoteRemoveBuilder(peer)
		return nil, nil
	})
	mux.Handle(wire.MethodAddObserver, func(_ context.Context, peer *rpc.Conn, _ codec.RawMessage) (any, error) {
		h.RemoteAddObserver(peer)
		return nil, nil
	})
	mux.Handle(wire.MethodRemoveObserver, func(_ context.Context, peer *rpc.Conn, _ codec.RawMessage) (any, error) {
		h.RemoteRemoveObserver(peer)
		return nil, nil
	})
	mux.Handle(wire.MethodGetUID, func(context.Context, *rpc.Conn, codec.RawMessage) (any, error) {
		return h.UID(), nil
	})
	mux.Handle(wire.MethodGetName, func(context.Context, *rpc.Conn, codec.RawMessage) (any, error) {
		return h.Name(), nil
	})
	return mux
}

// Mux returns the method table hubs serve to peers.
func (h *Hub) Mux() *rpc.Mux { return h.mux }

// RemoteAddBuilder registers the hub at the other end of peer as a builder.
func (h *Hub) RemoteAddBuilder(peer *rpc.Conn) { h.AddBuilder(h.proxyFor(peer)) }

// RemoteRemoveBuilder unregisters the hub at the other end of peer as a builder.
func (h *Hub) RemoteRemoveBuilder(peer *rpc.Conn) { h.RemoveBuilder(h.proxyFor(peer)) }

// RemoteAddObserver subscribes the hub at the other end of peer to notes.
func (h *Hub) RemoteAddObserver(peer *rpc.Conn) { h.AddObserver(h.proxyFor(peer)) }

// RemoteRemoveObserver unsubscribes the hub at the other end of peer.
func (h *Hub) RemoteRemoveObserver(peer *rpc.Conn) { h.RemoveObserver(h.proxyFor(peer)) }

// proxyFor returns the proxy for conn, creating it on first use. Closing the
// connection detaches the proxy.
func (h *Hub) proxyFor(conn *rpc.Conn) *RemoteHub {
	h.mu.Lock()
	if p, ok := h.proxies[conn]; ok {
		h.mu.Unlock()
		return p
	}
	p := newRemoteHub(h, conn)
	h.proxies[conn] = p
	h.mu.Unlock()

	conn.NotifyOnClose(func(error) { p.disconnectMe() })
	return p
}

// detach removes r from both member sets and reports whether it was a
// member of either. An outbound connection carrying r is forgotten so the
// peer can be connected again.
func (h *Hub) detach(r *RemoteHub) bool {
	h.mu.Lock()
	if h.proxies[r.conn] == r {
		delete(h.proxies, r.conn)
	}
	for desc, conn := range h.conns {
		if conn == r.conn {
			delete(h.conns, desc)
		}
	}
	h.mu.Unlock()

	removedBuilder := h.dropBuilder(r)
	removedObserver := h.emitter.DropObserver(r)
	h.reportMembers()
	return removedBuilder || removedObserver
}

// StartServer listens for peers on the server endpoint desc.
func (h *Hub) StartServer(desc string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.servers[desc]; exists {
		return ferrors.MeshError("already listening").WithContext("endpoint", desc).Build()
	}
	srv, err := rpc.Listen(desc, h.mux, h.logger)
	if err != nil {
		return err
	}
	h.servers[desc] = srv
	return nil
}

// StopServer stops listening on desc. Connections already accepted stay up.
// desc must have been started with StartServer.
func (h *Hub) StopServer(desc string) error {
	h.mu.Lock()
	srv, ok := h.servers[desc]
	delete(h.servers, desc)
	h.mu.Unlock()
	if !ok {
		return unknownEndpoint("server", desc)
	}
	return srv.Close()
}

// Servers returns the descriptions of active listeners, sorted.
func (h *Hub) Servers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedKeys(h.servers)
}

// Server returns the listener started for desc.
func (h *Hub) Server(desc string) (*rpc.Server, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	srv, ok := h.servers[desc]
	return srv, ok
}

// Connect joins the hub at the client endpoint desc. Both hubs end up with
// each other registered as builder and observer, and the peer's uid and
// name are fetched. Connecting to a description that is already connected
// returns the existing proxy.
func (h *Hub) Connect(ctx context.Context, desc string) (*RemoteHub, error) {
	h.mu.Lock()
	if conn, ok := h.conns[desc]; ok {
		h.mu.Unlock()
		return h.proxyFor(conn), nil
	}
	h.mu.Unlock()

	conn, err := rpc.Dial(ctx, desc, h.mux, h.logger)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if existing, ok := h.conns[desc]; ok {
		// Lost a race with a concurrent Connect for the same peer.
		h.mu.Unlock()
		_ = conn.Close()
		return h.proxyFor(existing), nil
	}
	h.conns[desc] = conn
	h.mu.Unlock()

	remote := h.proxyFor(conn)
	h.AddBuilder(remote)
	h.AddObserver(remote)

	if err := h.handshake(ctx, remote); err != nil {
		h.forgetConn(desc, conn)
		_ = conn.Close()
		return nil, err
	}

	h.logger.Info("Joined peer", logfields.Endpoint(desc),
		logfields.Peer(remote.Name()), slog.String("peer_uid", remote.UID()))
	return remote, nil
}

func (h *Hub) handshake(ctx context.Context, remote *RemoteHub) error {
	steps := []func(context.Context) error{remote.AddBuilder, remote.AddObserver}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryMesh, "mesh join rejected").Build()
		}
	}
	if _, _, err := remote.StaticInfo(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryMesh, "fetching peer identity").Build()
	}
	if remote.Detached() {
		return ferrors.MeshError("peer went away during mesh join").
			WithCause(rpc.ErrConnectionLost).Retryable().Build()
	}
	return nil
}

// Disconnect closes the outbound connection opened for desc and forgets it.
// The peer's proxy is detached as the connection closes. desc must have
// been connected with Connect.
func (h *Hub) Disconnect(desc string) error {
	h.mu.Lock()
	conn, ok := h.conns[desc]
	delete(h.conns, desc)
	h.mu.Unlock()
	if !ok {
		return unknownEndpoint("connection", desc)
	}
	_ = conn.Close()
	h.logger.Info("Disconnected peer", logfields.Endpoint(desc))
	return nil
}

// Connections returns the descriptions of outbound connections, sorted.
func (h *Hub) Connections() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedKeys(h.conns)
}

// Close stops every listener, closes every accepted and outbound connection
// and forgets them.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	servers := h.servers
	conns := h.conns
	h.servers = make(map[string]*rpc.Server)
	h.conns = make(map[string]*rpc.Conn)
	h.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	return firstErr
}

func (h *Hub) forgetConn(desc string, conn *rpc.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[desc] == conn {
		delete(h.conns, desc)
	}
}

func unknownEndpoint(kind, desc string) error {
	return ferrors.InternalError("unknown "+kind+" description").
		WithContext("endpoint", desc).
		Build()
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
