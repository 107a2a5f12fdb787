package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildmesh/internal/note"
)

type collector struct {
	name  string
	mu    sync.Mutex
	notes []note.Note
	err   error
	log   *[]string
}

func (c *collector) ReceiveNote(_ context.Context, n note.Note) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
	if c.log != nil {
		*c.log = append(*c.log, c.name)
	}
	return c.err
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notes)
}

// alias compares equal to any alias sharing the same key.
type alias struct {
	key string
	collector
}

func (a *alias) Same(other any) bool {
	o, ok := other.(*alias)
	return ok && o.key == a.key
}

func TestEmitDeliversOncePerID(t *testing.T) {
	e := New(WithLedger(NewSetLedger()))
	a, b := &collector{}, &collector{}
	e.AddObserver(a)
	e.AddObserver(b)

	n := note.Note{ID: "n1", Project: "foo"}
	require.NoError(t, e.Emit(context.Background(), n))
	require.NoError(t, e.Emit(context.Background(), n))

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	require.NoError(t, e.Emit(context.Background(), note.Note{ID: "n2"}))
	assert.Equal(t, 2, a.count())
}

func TestEmitRegistrationOrder(t *testing.T) {
	var order []string
	e := New(WithLedger(NewSetLedger()))
	for _, name := range []string{"first", "second", "third"} {
		e.AddObserver(&collector{name: name, log: &order})
	}

	require.NoError(t, e.Emit(context.Background(), note.Note{ID: "x"}))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestAddRemoveObserverIdempotent(t *testing.T) {
	e := New()
	a := &collector{}

	e.AddObserver(a)
	e.AddObserver(a)
	assert.Len(t, e.Observers(), 1)

	e.RemoveObserver(a)
	e.RemoveObserver(a)
	assert.Empty(t, e.Observers())
	assert.False(t, e.DropObserver(a))
}

func TestObserverIdentityUsesSame(t *testing.T) {
	e := New()
	first := &alias{key: "peer"}
	second := &alias{key: "peer"}

	e.AddObserver(first)
	e.AddObserver(second)
	require.Len(t, e.Observers(), 1)

	assert.True(t, e.DropObserver(second))
	assert.Empty(t, e.Observers())
}

func TestObserverErrorStopsFanOut(t *testing.T) {
	e := New(WithLedger(NewSetLedger()))
	boom := errors.New("boom")
	failing := &collector{err: boom}
	after := &collector{}
	e.AddObserver(failing)
	e.AddObserver(after)

	err := e.Emit(context.Background(), note.Note{ID: "n"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, after.count())

	// The id was recorded before delivery, so a retry is suppressed.
	require.NoError(t, e.Emit(context.Background(), note.Note{ID: "n"}))
	assert.Equal(t, 1, failing.count())
}

func TestObserverMayMutateDuringEmit(t *testing.T) {
	e := New(WithLedger(NewSetLedger()))
	late := &collector{}
	e.AddObserver(observerFunc(func(context.Context, note.Note) error {
		e.AddObserver(late)
		return nil
	}))

	require.NoError(t, e.Emit(context.Background(), note.Note{ID: "a"}))
	assert.Equal(t, 0, late.count())

	require.NoError(t, e.Emit(context.Background(), note.Note{ID: "b"}))
	assert.Equal(t, 1, late.count())
}

type observerFunc func(context.Context, note.Note) error

func (f observerFunc) ReceiveNote(ctx context.Context, n note.Note) error { return f(ctx, n) }

func TestSetLedger(t *testing.T) {
	l := NewSetLedger()
	assert.True(t, l.Record("a"))
	assert.False(t, l.Record("a"))
	assert.True(t, l.Record("b"))
	assert.Equal(t, 2, l.Len())
}

func TestNoteTakerForgets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewNoteTaker(time.Minute, clock)

	require.True(t, l.Record("a"))
	require.False(t, l.Record("a"))

	clock.Advance(30 * time.Second)
	require.True(t, l.Record("b"))
	assert.False(t, l.Record("a"))

	clock.Advance(31 * time.Second)
	require.Eventually(t, func() bool { return l.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, l.Record("a"), "forgotten id is accepted again")
	assert.False(t, l.Record("b"))
}

func TestEmitterRedeliversAfterForget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(WithLedger(NewNoteTaker(time.Minute, clock)))
	c := &collector{}
	e.AddObserver(c)

	n := note.Note{ID: "old"}
	require.NoError(t, e.Emit(context.Background(), n))
	require.NoError(t, e.Emit(context.Background(), n))
	require.Equal(t, 1, c.count())

	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool {
		_ = e.Emit(context.Background(), n)
		return c.count() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSameFallsBackToEquality(t *testing.T) {
	a, b := &collector{}, &collector{}
	assert.True(t, Same(a, a))
	assert.False(t, Same(a, b))
	assert.True(t, Same(&alias{key: "k"}, &alias{key: "k"}))
	assert.False(t, Same(&alias{key: "k"}, a))
}
