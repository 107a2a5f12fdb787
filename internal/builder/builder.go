// Package builder defines the Builder contract and the request
// deduplication shared by every concrete builder.
package builder

import (
	"context"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildmesh/internal/ident"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

// Builder accepts build requests. The returned request carries the id and
// creation time the builder assigned, if the caller left them empty.
type Builder interface {
	Build(ctx context.Context, req note.BuildRequest) note.BuildRequest
}

// RunFunc is the hook a concrete builder supplies; Base calls it at most once
// per request id.
type RunFunc func(ctx context.Context, req note.BuildRequest)

// Base implements Builder's fill-and-dedup contract around a RunFunc.
// Dedup is per instance and does not survive a restart.
type Base struct {
	uid  string
	name string
	gen  *ident.Generator
	run  RunFunc
	now  func() time.Time

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewBase returns a Base with a fresh uid drawn from gen.
func NewBase(name string, gen *ident.Generator, run RunFunc) *Base {
	if gen == nil {
		gen = ident.NewGenerator()
	}
	return &Base{
		uid:  gen.Next(),
		name: name,
		gen:  gen,
		run:  run,
		now:  time.Now,
		seen: make(map[string]struct{}),
	}
}

// UID returns the id assigned at construction.
func (b *Base) UID() string { return b.uid }

// Name returns the operator-assigned name.
func (b *Base) Name() string { return b.name }

// Generator returns the id generator shared with the owner.
func (b *Base) Generator() *ident.Generator { return b.gen }

// Build fills in the request id and creation time where absent and, the first
// time an id is seen, invokes the run hook.
func (b *Base) Build(ctx context.Context, req note.BuildRequest) note.BuildRequest {
	req, first := b.Accept(req)
	if first && b.run != nil {
		b.run(ctx, req)
	}
	return req
}

// Accept fills req and records its id, reporting whether the id is new.
// Builders that need to act between dedup and dispatch use it directly.
func (b *Base) Accept(req note.BuildRequest) (note.BuildRequest, bool) {
	req = req.Fill(b.gen.Next, b.now().UTC())

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[req.ID]; ok {
		return req, false
	}
	b.seen[req.ID] = struct{}{}
	return req, true
}

// Seen reports whether id has already been accepted.
func (b *Base) Seen(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.seen[id]
	return ok
}
