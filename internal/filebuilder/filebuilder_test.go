package filebuilder

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildmesh/internal/build"
	"git.home.luguber.info/inful/buildmesh/internal/emitter"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

type recorder struct {
	mu    sync.Mutex
	notes []note.Note
}

func (r *recorder) ReceiveNote(_ context.Context, n note.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) ends() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, n := range r.notes {
		if status, ok := n.Final(); ok {
			out[n.Body.TestPath] = status
		}
	}
	return out
}

func script(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func newBuilder(t *testing.T, root string, opts ...Option) (*Builder, *recorder) {
	t.Helper()
	opts = append([]Option{WithEmitter(emitter.New(emitter.WithLedger(emitter.NewSetLedger())))}, opts...)
	b := New(root, opts...)
	rec := &recorder{}
	b.AddObserver(rec)
	return b, rec
}

func TestBuildRunsScriptWithVersion(t *testing.T) {
	root := t.TempDir()
	script(t, filepath.Join(root, "foo"), `exit $1`)
	b, rec := newBuilder(t, root)

	b.Build(context.Background(), note.BuildRequest{Project: "foo", Version: "7"})
	b.Wait()

	rec.mu.Lock()
	require.Len(t, rec.notes, 2)
	start, end := rec.notes[0], rec.notes[1]
	rec.mu.Unlock()

	assert.Equal(t, note.EventStart, start.Body.Event)
	assert.Equal(t, note.EventEnd, end.Body.Event)
	assert.Equal(t, start.RequestID, end.RequestID)
	assert.Equal(t, start.Body.BuildID, end.Body.BuildID)
	assert.NotEqual(t, start.ID, end.ID)
	status, ok := end.Final()
	require.True(t, ok)
	assert.Equal(t, 7, status)
	assert.Equal(t, "7", end.Version)
	assert.Equal(t, "local", end.Builder)
}

func TestBuildDirectoryRunsEveryScript(t *testing.T) {
	root := t.TempDir()
	script(t, filepath.Join(root, "foo", "ok"), "exit 0")
	script(t, filepath.Join(root, "foo", "sub", "fail"), "exit 3")
	b, rec := newBuilder(t, root, WithName("box"))

	b.Build(context.Background(), note.BuildRequest{Project: "foo", Version: "1"})
	b.Wait()

	assert.Equal(t, map[string]int{"ok": 0, "sub/fail": 3}, rec.ends())
	assert.Empty(t, b.Active())
	assert.Equal(t, "box", b.Name())
}

func TestBuildMissingVersion(t *testing.T) {
	root := t.TempDir()
	script(t, filepath.Join(root, "foo"), "exit 0")

	var ran bool
	b, rec := newBuilder(t, root, WithRunner(build.RunnerFunc(func(string, string) (int, []byte) {
		ran = true
		return 0, nil
	})))

	b.Build(context.Background(), note.BuildRequest{Project: "foo"})
	b.Wait()

	assert.Equal(t, map[string]int{"": build.StatusMissingVersion}, rec.ends())
	assert.False(t, ran)
}

func TestBuildDedupsRequests(t *testing.T) {
	root := t.TempDir()
	script(t, filepath.Join(root, "foo"), "exit 0")
	b, rec := newBuilder(t, root)

	req := b.Build(context.Background(), note.BuildRequest{Project: "foo", Version: "1"})
	b.Build(context.Background(), req)
	b.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.notes, 2)
}

func TestBuildUnknownProjectEmitsNothing(t *testing.T) {
	b, rec := newBuilder(t, t.TempDir())

	out := b.Build(context.Background(), note.BuildRequest{Project: "nope", Version: "1"})
	b.Wait()

	assert.NotEmpty(t, out.ID)
	assert.Empty(t, rec.ends())
}
