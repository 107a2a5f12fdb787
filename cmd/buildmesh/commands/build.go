package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"git.home.luguber.info/inful/buildmesh/internal/emitter"
	"git.home.luguber.info/inful/buildmesh/internal/filebuilder"
	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

// BuildCmd implements the 'build' command: a one-shot local build without
// any mesh.
type BuildCmd struct {
	Project  string `arg:"" help:"Project to build"`
	Version  string `arg:"" help:"Version passed to each build script"`
	TestPath string `arg:"" optional:"" help:"Restrict the build to scripts under this path"`
	Root     string `help:"Directory holding the project build scripts" default:"./projects" type:"path"`
	JSON     bool   `help:"Print notes as JSON lines"`
}

func (b *BuildCmd) Run(g *Global) error {
	status, err := RunBuild(context.Background(), b.Root, note.BuildRequest{
		Project:  b.Project,
		Version:  b.Version,
		TestPath: b.TestPath,
	}, b.JSON, os.Stdout, g)
	if err != nil {
		return err
	}
	if status != 0 {
		return &statusError{code: status}
	}
	return nil
}

// RunBuild runs every matching script under root, printing notes to w, and
// returns the highest exit code among the finished builds.
func RunBuild(ctx context.Context, root string, req note.BuildRequest, asJSON bool, w io.Writer, g *Global) (int, error) {
	printer := &notePrinter{w: w, json: asJSON}
	fsb := filebuilder.New(root,
		filebuilder.WithName("cli"),
		filebuilder.WithLogger(g.Logger),
		filebuilder.WithEmitter(emitter.New(emitter.WithLedger(emitter.NewSetLedger()))),
	)
	fsb.AddObserver(printer)

	fsb.Build(ctx, req)
	fsb.Wait()

	if printer.builds == 0 {
		return 0, ferrors.NotFoundError("no build scripts found").
			WithContext("project", req.Project).
			WithContext("root", root).Build()
	}
	return printer.worst, printer.err
}

// exitCodeFor clamps a build status into the range a process can exit with.
func exitCodeFor(status int) int {
	switch {
	case status < 0, status > 255:
		return 255
	default:
		return status
	}
}

type notePrinter struct {
	w    io.Writer
	json bool

	mu     sync.Mutex
	builds int
	worst  int
	err    error
}

func (p *notePrinter) ReceiveNote(_ context.Context, n note.Note) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n.Body.Event == note.EventStart {
		p.builds++
	}
	if status, ok := n.Final(); ok {
		p.worst = max(p.worst, exitCodeFor(status))
	}

	var err error
	if p.json {
		err = json.NewEncoder(p.w).Encode(n)
	} else {
		err = p.printText(n)
	}
	if err != nil && p.err == nil {
		p.err = err
	}
	return nil
}

func (p *notePrinter) printText(n note.Note) error {
	path := n.Body.TestPath
	if path == "" {
		path = "."
	}
	if status, ok := n.Final(); ok {
		_, err := fmt.Fprintf(p.w, "%s %s@%s [%s] finished status=%d runtime=%s\n",
			n.Time.Format("15:04:05"), n.Project, n.Version, path, status, n.Body.Runtime)
		return err
	}
	_, err := fmt.Fprintf(p.w, "%s %s@%s [%s] started\n", n.Time.Format("15:04:05"), n.Project, n.Version, path)
	return err
}
