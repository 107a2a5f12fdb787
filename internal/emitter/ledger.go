package emitter

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ledger remembers which note ids have been delivered.
type Ledger interface {
	// Record marks id as seen and reports whether this was the first time.
	Record(id string) bool
}

// SetLedger remembers every id forever. Memory grows with the number of
// distinct notes; it exists for short-lived processes and tests.
type SetLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSetLedger returns an empty unbounded ledger.
func NewSetLedger() *SetLedger {
	return &SetLedger{seen: make(map[string]struct{})}
}

func (l *SetLedger) Record(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return false
	}
	l.seen[id] = struct{}{}
	return true
}

// Len reports how many ids are remembered.
func (l *SetLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// NoteTaker forgets each id a fixed interval after it was first recorded,
// bounding memory at the cost of letting a very old duplicate through again.
type NoteTaker struct {
	mu     sync.Mutex
	seen   map[string]clockwork.Timer
	forget time.Duration
	clock  clockwork.Clock
}

// NewNoteTaker returns a ledger forgetting ids after forget on clock.
func NewNoteTaker(forget time.Duration, clock clockwork.Clock) *NoteTaker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &NoteTaker{
		seen:   make(map[string]clockwork.Timer),
		forget: forget,
		clock:  clock,
	}
}

func (n *NoteTaker) Record(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.seen[id]; ok {
		return false
	}
	n.seen[id] = n.clock.AfterFunc(n.forget, func() { n.drop(id) })
	return true
}

// Len reports how many ids are currently remembered.
func (n *NoteTaker) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

// Stop cancels every pending forget timer. The ledger keeps its contents.
func (n *NoteTaker) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.seen {
		t.Stop()
	}
}

func (n *NoteTaker) drop(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.seen, id)
}
