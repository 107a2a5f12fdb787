package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/note"
	"git.home.luguber.info/inful/buildmesh/internal/rpc"
	"git.home.luguber.info/inful/buildmesh/internal/wire"
)

// RemoteHub stands in for a peer hub reachable over an rpc connection. It
// satisfies Builder and Observer by forwarding calls to the peer without
// waiting for them. Transport failures never reach the caller: the proxy
// detaches itself from its owning Hub instead.
type RemoteHub struct {
	conn   *rpc.Conn
	owner  *Hub
	logger *slog.Logger

	detached atomic.Bool

	infoMu sync.Mutex
	uid    string
	name   string
}

func newRemoteHub(owner *Hub, conn *rpc.Conn) *RemoteHub {
	return &RemoteHub{
		conn:   conn,
		owner:  owner,
		logger: owner.logger.With(logfields.Peer(conn.RemoteAddr())),
	}
}

// Original returns the wrapped connection.
func (r *RemoteHub) Original() *rpc.Conn { return r.conn }

// Same reports whether other wraps the same connection. Any number of
// proxies for one peer count as one mesh member.
func (r *RemoteHub) Same(other any) bool {
	o, ok := other.(*RemoteHub)
	return ok && o != nil && o.conn == r.conn
}

// Detached reports whether the proxy has removed itself after a failure.
func (r *RemoteHub) Detached() bool { return r.detached.Load() }

// Build forwards req to the peer. The peer's own dedup keeps a request that
// reaches it over several paths from running twice.
func (r *RemoteHub) Build(_ context.Context, req note.BuildRequest) note.BuildRequest {
	r.wrappedCallRemote(wire.MethodBuild, req)
	return req
}

// ReceiveNote forwards n to the peer.
func (r *RemoteHub) ReceiveNote(_ context.Context, n note.Note) error {
	r.wrappedCallRemote(wire.MethodNoteReceived, n)
	return nil
}

// AddBuilder asks the peer to register the calling hub as one of its builders.
func (r *RemoteHub) AddBuilder(ctx context.Context) error {
	return r.callRemote(ctx, wire.MethodAddBuilder, nil)
}

// RemoveBuilder asks the peer to unregister the calling hub as a builder.
func (r *RemoteHub) RemoveBuilder(ctx context.Context) error {
	return r.callRemote(ctx, wire.MethodRemoveBuilder, nil)
}

// AddObserver asks the peer to send its notes to the calling hub.
func (r *RemoteHub) AddObserver(ctx context.Context) error {
	return r.callRemote(ctx, wire.MethodAddObserver, nil)
}

// RemoveObserver asks the peer to stop sending notes to the calling hub.
func (r *RemoteHub) RemoveObserver(ctx context.Context) error {
	return r.callRemote(ctx, wire.MethodRemoveObserver, nil)
}

// StaticInfo returns the peer's uid and name, fetching them once. If the
// peer is gone the proxy detaches and empty values are returned.
func (r *RemoteHub) StaticInfo(ctx context.Context) (uid, name string, err error) {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	if r.uid != "" {
		return r.uid, r.name, nil
	}

	uidCall := r.conn.Go(wire.MethodGetUID, nil, &uid)
	nameCall := r.conn.Go(wire.MethodGetName, nil, &name)
	for _, call := range []*rpc.Call{uidCall, nameCall} {
		select {
		case <-call.Done:
			if call.Error != nil {
				return "", "", r.failed(call.Method, call.Error)
			}
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
	r.uid, r.name = uid, name
	return uid, name, nil
}

// UID returns the cached peer uid, or "" before StaticInfo succeeded.
func (r *RemoteHub) UID() string {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	return r.uid
}

// Name returns the cached peer name, or "" before StaticInfo succeeded.
func (r *RemoteHub) Name() string {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	return r.name
}

func (r *RemoteHub) String() string {
	if name := r.Name(); name != "" {
		return name + "@" + r.conn.RemoteAddr()
	}
	return r.conn.RemoteAddr()
}

// wrappedCallRemote issues method without waiting. A transport failure,
// whenever it happens, detaches the proxy.
func (r *RemoteHub) wrappedCallRemote(method string, args any) {
	call := r.conn.Go(method, args, nil)
	select {
	case <-call.Done:
		r.settle(call)
		return
	default:
	}
	go func() {
		<-call.Done
		r.settle(call)
	}()
}

func (r *RemoteHub) settle(call *rpc.Call) {
	switch {
	case call.Error == nil:
	case rpc.IsTransport(call.Error):
		r.owner.recorder.IncTransportFailure(call.Method)
		r.disconnectMe()
	default:
		r.logger.Debug("Remote call failed", logfields.Method(call.Method), logfields.Error(call.Error))
	}
}

// callRemote waits for method to complete. Transport failures detach the
// proxy and are swallowed; failures reported by the peer and ctx errors are
// returned.
func (r *RemoteHub) callRemote(ctx context.Context, method string, args any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.conn.Call(ctx, method, args, nil)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return r.failed(method, err)
}

// failed detaches on transport errors and returns nil for them; any other
// error is returned unchanged.
func (r *RemoteHub) failed(method string, err error) error {
	if !rpc.IsTransport(err) {
		return err
	}
	r.owner.recorder.IncTransportFailure(method)
	r.disconnectMe()
	return nil
}

// disconnectMe removes the proxy from its owner's builder and observer sets.
// Only the first call has any effect.
func (r *RemoteHub) disconnectMe() {
	if !r.detached.CompareAndSwap(false, true) {
		return
	}
	if r.owner.detach(r) {
		r.owner.recorder.IncPeerDetached()
		r.logger.Warn("Peer detached", slog.String("conn_id", r.conn.ID()))
	}
}
