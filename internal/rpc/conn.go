package rpc

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/buildmesh/internal/codec"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
)

// writeTimeout bounds how long a single frame write may block on a peer
// that stopped reading.
const writeTimeout = 30 * time.Second

const (
	kindCall  = "call"
	kindReply = "reply"
)

type frame struct {
	Kind   string           `cbor:"k"`
	Seq    uint64           `cbor:"s"`
	Method string           `cbor:"m,omitempty"`
	Args   codec.RawMessage `cbor:"a,omitempty"`
	OK     bool             `cbor:"ok,omitempty"`
	Error  string           `cbor:"e,omitempty"`
	Code   string           `cbor:"c,omitempty"`
	Data   codec.RawMessage `cbor:"d,omitempty"`
}

// Call is an outstanding remote call. Done receives the Call once Error and
// Reply are final.
type Call struct {
	Method string
	Reply  any
	Error  error
	Done   chan *Call
}

func (c *Call) finish(err error) {
	c.Error = err
	c.Done <- c
}

// Conn is one end of a bidirectional RPC connection. Calls issued with Go
// are written in order. Incoming calls are served concurrently unless their
// method was registered with Mux.HandleOrdered.
type Conn struct {
	id     string
	nc     net.Conn
	mux    *Mux
	logger *slog.Logger

	wmu sync.Mutex
	enc *codec.Encoder

	mu       sync.Mutex
	seq      uint64
	pending  map[uint64]*Call
	closed   bool
	closeErr error
	onClose  []func(error)

	omu      sync.Mutex
	ordered  []frame
	draining bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConn starts serving nc: calls arriving on it are dispatched to mux,
// which may be nil for a connection that only makes calls.
func NewConn(nc net.Conn, mux *Mux, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:      uuid.NewString(),
		nc:      nc,
		mux:     mux,
		enc:     codec.NewEncoder(nc),
		pending: make(map[uint64]*Call),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.logger = logger.With(logfields.Peer(c.RemoteAddr()), slog.String("conn_id", c.id))
	go c.readLoop()
	return c
}

// ID returns a unique id for log correlation.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string {
	if addr := c.nc.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return c.nc.LocalAddr().String()
}

// Closed is closed once the connection has shut down.
func (c *Conn) Closed() <-chan struct{} { return c.done }

// Err returns the reason the connection closed, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// NotifyOnClose registers fn to run once the connection closes. If it is
// already closed fn runs immediately on a new goroutine.
func (c *Conn) NotifyOnClose(fn func(err error)) {
	c.mu.Lock()
	if !c.closed {
		c.onClose = append(c.onClose, fn)
		c.mu.Unlock()
		return
	}
	err := c.closeErr
	c.mu.Unlock()
	go fn(err)
}

// Close shuts the connection down. Pending calls fail with ErrConnectionLost.
func (c *Conn) Close() error {
	c.shutdown(ErrConnectionLost)
	return nil
}

// Go issues an asynchronous call. The request frame is written before Go
// returns, so calls issued from one goroutine reach the peer in order.
// reply, if not nil, receives the decoded result.
func (c *Conn) Go(method string, args any, reply any) *Call {
	call := &Call{Method: method, Reply: reply, Done: make(chan *Call, 1)}

	var raw codec.RawMessage
	if args != nil {
		data, err := codec.Marshal(args)
		if err != nil {
			call.finish(fmt.Errorf("rpc: encoding %s arguments: %w", method, err))
			return call
		}
		raw = data
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		call.finish(ErrConnectionLost)
		return call
	}
	c.seq++
	seq := c.seq
	c.pending[seq] = call
	c.mu.Unlock()

	if err := c.write(frame{Kind: kindCall, Seq: seq, Method: method, Args: raw}); err != nil {
		// shutdown fails the pending call.
		c.shutdown(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	}
	return call
}

// Call issues a call and waits for its reply or for ctx to end.
func (c *Conn) Call(ctx context.Context, method string, args any, reply any) error {
	call := c.Go(method, args, reply)
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		c.forget(call)
		return ctx.Err()
	}
}

func (c *Conn) forget(call *Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for seq, p := range c.pending {
		if p == call {
			delete(c.pending, seq)
			return
		}
	}
}

func (c *Conn) write(f frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.enc.Encode(f)
}

func (c *Conn) readLoop() {
	dec := codec.NewDecoder(bufio.NewReader(c.nc))
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			c.shutdown(fmt.Errorf("%w: %w", ErrConnectionLost, err))
			return
		}
		switch f.Kind {
		case kindCall:
			if r, ok := c.mux.lookup(f.Method); ok && r.ordered {
				c.enqueueOrdered(f)
			} else {
				go c.serve(f)
			}
		case kindReply:
			c.complete(f)
		default:
			c.logger.Warn("Dropping frame of unknown kind", slog.String("kind", f.Kind))
		}
	}
}

func (c *Conn) enqueueOrdered(f frame) {
	c.omu.Lock()
	c.ordered = append(c.ordered, f)
	if c.draining {
		c.omu.Unlock()
		return
	}
	c.draining = true
	c.omu.Unlock()
	go c.drainOrdered()
}

func (c *Conn) drainOrdered() {
	for {
		c.omu.Lock()
		if len(c.ordered) == 0 {
			c.draining = false
			c.omu.Unlock()
			return
		}
		f := c.ordered[0]
		c.ordered[0] = frame{}
		c.ordered = c.ordered[1:]
		c.omu.Unlock()
		c.serve(f)
	}
}

func (c *Conn) complete(f frame) {
	c.mu.Lock()
	call, ok := c.pending[f.Seq]
	delete(c.pending, f.Seq)
	c.mu.Unlock()
	if !ok {
		return
	}

	if !f.OK {
		call.finish(&RemoteError{Method: call.Method, Code: f.Code, Message: f.Error})
		return
	}
	if call.Reply != nil && len(f.Data) > 0 {
		if err := codec.Unmarshal(f.Data, call.Reply); err != nil {
			call.finish(fmt.Errorf("rpc: decoding %s reply: %w", call.Method, err))
			return
		}
	}
	call.finish(nil)
}

func (c *Conn) serve(f frame) {
	reply := frame{Kind: kindReply, Seq: f.Seq}

	result, err := c.dispatch(f)
	if err == nil && result != nil {
		data, merr := codec.Marshal(result)
		if merr != nil {
			err = WithCode(CodeInternal, fmt.Errorf("encoding reply: %w", merr))
		} else {
			reply.Data = data
		}
	}
	if err != nil {
		reply.Error = err.Error()
		reply.Code = codeOf(err)
		c.logger.Debug("Call failed", logfields.Method(f.Method), logfields.Error(err))
	} else {
		reply.OK = true
	}

	if werr := c.write(reply); werr != nil {
		c.shutdown(fmt.Errorf("%w: %w", ErrConnectionLost, werr))
	}
}

func (c *Conn) dispatch(f frame) (result any, err error) {
	r, ok := c.mux.lookup(f.Method)
	if !ok {
		return nil, WithCode(CodeUnknownMethod, fmt.Errorf("unknown method %q", f.Method))
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panicked", logfields.Method(f.Method), slog.Any("panic", r))
			err = WithCode(CodeInternal, fmt.Errorf("handler panic: %v", r))
		}
	}()
	return r.handler(c.ctx, c, f.Args)
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	pending := c.pending
	c.pending = make(map[uint64]*Call)
	hooks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	c.cancel()
	_ = c.nc.Close()
	close(c.done)
	c.logger.Debug("Connection closed", logfields.Error(cause))

	for _, call := range pending {
		call.finish(ErrConnectionLost)
	}
	for _, fn := range hooks {
		fn(cause)
	}
}
