package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/note"
)

func script(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func quiet() *Global {
	return &Global{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestRunBuildReportsWorstStatus(t *testing.T) {
	root := t.TempDir()
	script(t, filepath.Join(root, "foo", "unit"), "exit 0")
	script(t, filepath.Join(root, "foo", "integration"), "exit 3")

	var out bytes.Buffer
	status, err := RunBuild(context.Background(), root,
		note.BuildRequest{Project: "foo", Version: "v1"}, false, &out, quiet())
	require.NoError(t, err)
	assert.Equal(t, 3, status)
	assert.Contains(t, out.String(), "foo@v1 [unit] started")
	assert.Contains(t, out.String(), "[integration] finished status=3")
}

func TestRunBuildJSON(t *testing.T) {
	root := t.TempDir()
	script(t, filepath.Join(root, "foo"), "exit 0")

	var out bytes.Buffer
	status, err := RunBuild(context.Background(), root,
		note.BuildRequest{Project: "foo", Version: "v1"}, true, &out, quiet())
	require.NoError(t, err)
	assert.Zero(t, status)
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("\n")))
	assert.Contains(t, out.String(), `"event":"end"`)
}

func TestRunBuildNothingFound(t *testing.T) {
	_, err := RunBuild(context.Background(), t.TempDir(),
		note.BuildRequest{Project: "missing", Version: "v1"}, false, io.Discard, quiet())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestRunBuildMissingVersion(t *testing.T) {
	root := t.TempDir()
	script(t, filepath.Join(root, "foo"), "exit 0")

	status, err := RunBuild(context.Background(), root,
		note.BuildRequest{Project: "foo"}, false, io.Discard, quiet())
	require.NoError(t, err)
	assert.Equal(t, 255, status)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(0))
	assert.Equal(t, 7, exitCodeFor(7))
	assert.Equal(t, 255, exitCodeFor(404))
	assert.Equal(t, 255, exitCodeFor(-1))
}

func TestExitStatus(t *testing.T) {
	code, ok := ExitStatus(fmt.Errorf("wrapped: %w", &statusError{code: 4}))
	require.True(t, ok)
	assert.Equal(t, 4, code)

	_, ok = ExitStatus(ferrors.ConfigError("bad").Build())
	assert.False(t, ok)
	_, ok = ExitStatus(nil)
	assert.False(t, ok)
}

func TestCLIParsing(t *testing.T) {
	cases := map[string]struct {
		args    []string
		command string
		check   func(t *testing.T, cli *CLI)
	}{
		"build": {
			args:    []string{"build", "foo", "v1", "unit", "--root", "/srv/projects"},
			command: "build",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "foo", cli.Build.Project)
				assert.Equal(t, "unit", cli.Build.TestPath)
				assert.Equal(t, "/srv/projects", cli.Build.Root)
			},
		},
		"suggest": {
			args:    []string{"suggest", "foo", "main", "dev", "--server", "tcp:host=ci:port=8123"},
			command: "suggest",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, []string{"main", "dev"}, cli.Suggest.Revisions)
				assert.Equal(t, "tcp:host=ci:port=8123", cli.Suggest.Server)
			},
		},
		"hub": {
			args:    []string{"-c", "/etc/buildmesh.yaml", "hub", "--no-watch"},
			command: "hub",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "/etc/buildmesh.yaml", cli.Config)
				assert.True(t, cli.Hub.NoWatch)
			},
		},
		"results-server": {
			args:    []string{"results-server", "--listen", "unix:/tmp/results.sock"},
			command: "results-server",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "unix:/tmp/results.sock", cli.ResultsServer.Listen)
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cli := &CLI{}
			parser, err := kong.New(cli, kong.Bind(&Global{}), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
			require.NoError(t, err)
			ctx, err := parser.Parse(tc.args)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(ctx.Command(), tc.command), ctx.Command())
			tc.check(t, cli)
		})
	}
}
