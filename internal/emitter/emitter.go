// Package emitter delivers Notes to observers, suppressing replays of notes
// that were already delivered.
package emitter

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/buildmesh/internal/metrics"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

// DefaultForgetInterval is how long the default ledger remembers a note id.
const DefaultForgetInterval = 10 * time.Minute

// Observer receives Notes.
type Observer interface {
	ReceiveNote(ctx context.Context, n note.Note) error
}

// Source is anything observers can subscribe to.
type Source interface {
	AddObserver(o Observer)
	RemoveObserver(o Observer)
}

// Identity lets a value define its own set membership. Remote proxies use
// it so that two proxies for the same peer count as one member.
type Identity interface {
	Same(other any) bool
}

// Same reports whether a and b denote the same set member.
func Same(a, b any) bool {
	if s, ok := a.(Identity); ok {
		return s.Same(b)
	}
	if s, ok := b.(Identity); ok {
		return s.Same(a)
	}
	return a == b
}

// Emitter fans Notes out to its observers, each distinct note id at most once
// per ledger lifetime.
type Emitter struct {
	mu        sync.Mutex
	observers []Observer
	ledger    Ledger
	recorder  metrics.Recorder
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLedger replaces the default NoteTaker ledger.
func WithLedger(l Ledger) Option {
	return func(e *Emitter) { e.ledger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Emitter) { e.recorder = r }
}

// New returns an Emitter backed by a NoteTaker forgetting ids after
// DefaultForgetInterval unless WithLedger says otherwise.
func New(opts ...Option) *Emitter {
	e := &Emitter{recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(e)
	}
	if e.ledger == nil {
		e.ledger = NewNoteTaker(DefaultForgetInterval, clockwork.NewRealClock())
	}
	return e
}

// AddObserver registers o. Adding an observer twice has no effect.
func (e *Emitter) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexOf(o) < 0 {
		e.observers = append(e.observers, o)
	}
}

// RemoveObserver unregisters o. Removing an absent observer has no effect.
func (e *Emitter) RemoveObserver(o Observer) {
	e.DropObserver(o)
}

// DropObserver is RemoveObserver reporting whether anything was removed.
func (e *Emitter) DropObserver(o Observer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(o)
	if i < 0 {
		return false
	}
	e.observers = slices.Delete(e.observers, i, i+1)
	return true
}

// Observers returns a snapshot of the registered observers in registration order.
func (e *Emitter) Observers() []Observer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.observers)
}

// Emit delivers n to every observer in registration order unless its id has
// been seen before. The first observer error stops delivery and is returned;
// the id stays recorded either way.
func (e *Emitter) Emit(ctx context.Context, n note.Note) error {
	if !e.ledger.Record(n.ID) {
		e.recorder.IncNoteSuppressed()
		return nil
	}
	e.recorder.IncNoteEmitted()

	for _, o := range e.Observers() {
		if err := o.ReceiveNote(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) indexOf(o Observer) int {
	return slices.IndexFunc(e.observers, func(have Observer) bool { return Same(have, o) })
}
