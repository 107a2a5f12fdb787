package build

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newBuild(version string) *Build {
	return New("b1", "r1", "local", "proj", version, "")
}

func TestFinishOnce(t *testing.T) {
	b := newBuild("1")
	_, ok := b.Status()
	require.False(t, ok)
	require.True(t, b.Info().Pending())

	require.True(t, b.Finish(3))
	require.False(t, b.Finish(0))

	status, ok := b.Status()
	require.True(t, ok)
	assert.Equal(t, 3, status)

	select {
	case <-b.Done():
	default:
		t.Fatal("Done not closed after Finish")
	}

	info := b.Info()
	require.NotNil(t, info.Status)
	assert.Equal(t, 3, *info.Status)
	assert.GreaterOrEqual(t, info.Runtime, b.Runtime())
}

func TestSetOutputTruncates(t *testing.T) {
	b := newBuild("1")
	b.SetOutput([]byte(strings.Repeat("x", MaxOutput+10)))
	assert.Len(t, b.Info().Output, MaxOutput)
}

func TestExecRunnerPassesVersion(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "echo", `echo "$#:$1"`)

	status, out := ExecRunner{}.Run(script, "5")
	assert.Equal(t, 0, status)
	assert.Equal(t, "1:5\n", string(out))
}

func TestExecRunnerExitCodes(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "exit", `exit $1`)

	status, _ := ExecRunner{}.Run(script, "0")
	assert.Equal(t, 0, status)

	status, _ = ExecRunner{}.Run(script, "7")
	assert.Equal(t, 7, status)
}

func TestExecRunnerNotExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o644))

	status, _ := ExecRunner{}.Run(path, "1")
	assert.Equal(t, StatusExecFailed, status)
}

func TestFileBuild(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "exit", `exit $1`)

	b := newBuild("7")
	assert.Equal(t, 7, FileBuild(b, script, ExecRunner{}))
	status, ok := b.Status()
	require.True(t, ok)
	assert.Equal(t, 7, status)
}

func TestFileBuildReservedStatuses(t *testing.T) {
	var calls atomic.Int32
	runner := RunnerFunc(func(string, string) (int, []byte) {
		calls.Add(1)
		return 0, nil
	})
	dir := t.TempDir()
	script := writeScript(t, dir, "ok", "exit 0")

	t.Run("missing version", func(t *testing.T) {
		b := newBuild("")
		assert.Equal(t, StatusMissingVersion, FileBuild(b, script, runner))
	})

	t.Run("missing version wins over missing file", func(t *testing.T) {
		b := newBuild("")
		assert.Equal(t, StatusMissingVersion, FileBuild(b, filepath.Join(dir, "nope"), runner))
	})

	t.Run("file not found", func(t *testing.T) {
		b := newBuild("1")
		assert.Equal(t, StatusFileNotFound, FileBuild(b, filepath.Join(dir, "nope"), runner))
		status, _ := b.Status()
		assert.Equal(t, StatusFileNotFound, status)
	})

	assert.Zero(t, calls.Load(), "runner must not be invoked for reserved statuses")
}
