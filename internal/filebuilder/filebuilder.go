// Package filebuilder implements a Builder that runs executable scripts found
// under a root directory, one project per file or directory.
package filebuilder

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/buildmesh/internal/build"
	"git.home.luguber.info/inful/buildmesh/internal/builder"
	"git.home.luguber.info/inful/buildmesh/internal/emitter"
	"git.home.luguber.info/inful/buildmesh/internal/ident"
	"git.home.luguber.info/inful/buildmesh/internal/logfields"
	"git.home.luguber.info/inful/buildmesh/internal/metrics"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

// Builder resolves build requests to scripts under Root and executes them,
// emitting a start and an end Note per script.
type Builder struct {
	*builder.Base

	root     string
	gen      *ident.Generator
	runner   build.Runner
	recorder metrics.Recorder
	logger   *slog.Logger
	emitter  *emitter.Emitter
	notary   *note.Notary
	name     string

	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*build.Build
}

// Option configures a Builder.
type Option func(*Builder)

// WithName sets the builder name reported in notes.
func WithName(name string) Option { return func(b *Builder) { b.name = name } }

// WithGenerator shares an id generator with the rest of the process.
func WithGenerator(g *ident.Generator) Option { return func(b *Builder) { b.gen = g } }

// WithRunner replaces the subprocess runner.
func WithRunner(r build.Runner) Option { return func(b *Builder) { b.runner = r } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(b *Builder) { b.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(b *Builder) { b.logger = l } }

// WithEmitter replaces the emitter notes are published through.
func WithEmitter(e *emitter.Emitter) Option { return func(b *Builder) { b.emitter = e } }

// New returns a Builder rooted at root.
func New(root string, opts ...Option) *Builder {
	b := &Builder{
		root:     root,
		name:     "local",
		runner:   build.ExecRunner{},
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		active:   make(map[string]*build.Build),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.gen == nil {
		b.gen = ident.NewGenerator()
	}
	if b.emitter == nil {
		b.emitter = emitter.New(emitter.WithRecorder(b.recorder))
	}
	b.notary = note.NewNotary(b.gen.Next)
	b.Base = builder.NewBase(b.name, b.gen, b.run)
	b.logger = b.logger.With(logfields.Builder(b.name))
	return b
}

// Root returns the directory projects are resolved against.
func (b *Builder) Root() string { return b.root }

// AddObserver subscribes o to this builder's notes.
func (b *Builder) AddObserver(o emitter.Observer) { b.emitter.AddObserver(o) }

// RemoveObserver unsubscribes o.
func (b *Builder) RemoveObserver(o emitter.Observer) { b.emitter.RemoveObserver(o) }

// Wait blocks until every build started so far has finished and its end
// note has been emitted.
func (b *Builder) Wait() { b.wg.Wait() }

// Active returns snapshots of builds that have not finished yet.
func (b *Builder) Active() []build.Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]build.Info, 0, len(b.active))
	for _, bl := range b.active {
		out = append(out, bl.Info())
	}
	return out
}

func (b *Builder) run(ctx context.Context, req note.BuildRequest) {
	ctx = context.WithoutCancel(ctx)
	log := b.logger.With(logfields.RequestID(req.ID), logfields.Project(req.Project), logfields.Version(req.Version))

	targets := 0
	for target := range b.FindBuilds(req.Project, req.TestPath) {
		targets++
		bl := build.New(b.gen.Next(), req.ID, b.name, req.Project, req.Version, target.TestPath)
		b.track(bl)
		b.emit(ctx, b.notary.Start(subject(bl)))

		b.wg.Add(1)
		go b.execute(ctx, bl, target.Path, log)
	}
	if targets == 0 {
		log.Debug("No build scripts matched", logfields.TestPath(req.TestPath))
	}
}

func (b *Builder) execute(ctx context.Context, bl *build.Build, path string, log *slog.Logger) {
	defer b.wg.Done()
	defer b.untrack(bl)

	log = log.With(logfields.BuildID(bl.ID), logfields.TestPath(bl.TestPath))
	log.Info("Build started")

	status := build.FileBuild(bl, path, b.runner)
	runtime := bl.Runtime()

	b.recorder.ObserveBuildDuration(bl.Project, runtime)
	b.recorder.IncBuildResult(bl.Project, resultLabel(status))
	log.Info("Build finished", logfields.Status(status), logfields.Duration(runtime))

	b.emit(ctx, b.notary.End(subject(bl), status, runtime))
}

func (b *Builder) emit(ctx context.Context, n note.Note) {
	if err := b.emitter.Emit(ctx, n); err != nil {
		b.logger.Warn("Observer rejected note", logfields.NoteID(n.ID), logfields.Error(err))
	}
}

func (b *Builder) track(bl *build.Build) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[bl.ID] = bl
}

func (b *Builder) untrack(bl *build.Build) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, bl.ID)
}

func subject(bl *build.Build) note.Subject {
	return note.Subject{
		RequestID: bl.RequestID,
		Builder:   bl.Builder,
		Project:   bl.Project,
		Version:   bl.Version,
		BuildID:   bl.ID,
		TestPath:  bl.TestPath,
	}
}

func resultLabel(status int) metrics.ResultLabel {
	return metrics.ResultFor(status, build.StatusMissingVersion, build.StatusFileNotFound, build.StatusExecFailed)
}
