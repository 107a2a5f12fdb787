package filebuilder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
}

func collect(root, project, testPath string) map[string]string {
	out := make(map[string]string)
	for tgt := range FindBuilds(root, project, testPath) {
		out[tgt.TestPath] = tgt.Path
	}
	return out
}

func TestFindBuildsSingleFile(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "foo"))

	got := collect(root, "foo", "")
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(root, "foo"), got[""])
}

func TestFindBuildsDirectory(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "foo", "a"))
	touch(t, filepath.Join(root, "foo", "bar", "baz"))
	touch(t, filepath.Join(root, "foo", "bar", "deep", "qux"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "foo", "empty"), 0o755))

	got := collect(root, "foo", "")
	assert.Equal(t, map[string]string{
		"a":            filepath.Join(root, "foo", "a"),
		"bar/baz":      filepath.Join(root, "foo", "bar", "baz"),
		"bar/deep/qux": filepath.Join(root, "foo", "bar", "deep", "qux"),
	}, got)
}

func TestFindBuildsGlobKeepsProjectRelativePaths(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "foo", "bar", "baz"))
	touch(t, filepath.Join(root, "foo", "other"))

	got := collect(root, "foo", "bar/*")
	require.Len(t, got, 1)
	assert.Contains(t, got, "bar/baz")
}

func TestFindBuildsGlobMatchingDirectory(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "foo", "bar", "one"))
	touch(t, filepath.Join(root, "foo", "bar", "two"))
	touch(t, filepath.Join(root, "foo", "skip"))

	got := collect(root, "foo", "ba?")
	assert.ElementsMatch(t, []string{"bar/one", "bar/two"}, keys(got))
}

func TestFindBuildsMissingProject(t *testing.T) {
	root := t.TempDir()
	assert.Empty(t, collect(root, "nope", ""))
	assert.Empty(t, collect(root, "nope", "*"))
}

func TestFindBuildsRejectsEscapes(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	touch(t, filepath.Join(root, "foo", "a"))
	touch(t, filepath.Join(parent, "secret"))

	assert.Empty(t, collect(root, "../secret", ""))
	assert.Empty(t, collect(root, "", ""))
	assert.Empty(t, collect(root, "foo", "../../secret"))
}

func TestFindBuildsStopsEarly(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		touch(t, filepath.Join(root, "foo", name))
	}

	n := 0
	for range FindBuilds(root, "foo", "") {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
