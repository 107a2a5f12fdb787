package filebuilder

import (
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// Target is one script resolved for a project. TestPath is slash-separated
// and relative to the project head; it is empty when the project is a single
// file.
type Target struct {
	Path     string
	TestPath string
}

// FindBuilds yields the scripts that a request for project, optionally
// narrowed by the testPath glob, resolves to. Directories are walked
// recursively and never yielded themselves. A project that does not exist,
// or that resolves outside the root, yields nothing.
func (b *Builder) FindBuilds(project, testPath string) iter.Seq[Target] {
	return FindBuilds(b.root, project, testPath)
}

// FindBuilds is the resolution used by Builder, exposed for tooling.
func FindBuilds(root, project, testPath string) iter.Seq[Target] {
	return func(yield func(Target) bool) {
		head, ok := projectHead(root, project)
		if !ok {
			return
		}
		if _, err := os.Stat(head); err != nil {
			return
		}

		heads := []string{head}
		if testPath != "" {
			matches, err := filepath.Glob(filepath.Join(head, filepath.FromSlash(testPath)))
			if err != nil {
				return
			}
			heads = matches
		}

		for _, h := range heads {
			if !within(head, h) {
				continue
			}
			if !walk(head, h, yield) {
				return
			}
		}
	}
}

func walk(head, path string, yield func(Target) bool) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	if !info.IsDir() {
		return yield(target(head, path))
	}

	keepGoing := true
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped rather than aborting the walk.
			if d != nil && d.IsDir() && p != path {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !yield(target(head, p)) {
			keepGoing = false
			return fs.SkipAll
		}
		return nil
	})
	return keepGoing
}

func target(head, path string) Target {
	rel, err := filepath.Rel(head, path)
	if err != nil || rel == "." {
		rel = ""
	}
	return Target{Path: path, TestPath: filepath.ToSlash(rel)}
}

func projectHead(root, project string) (string, bool) {
	if project == "" {
		return "", false
	}
	head := filepath.Join(root, filepath.FromSlash(project))
	if !within(filepath.Clean(root), head) || head == filepath.Clean(root) {
		return "", false
	}
	return head, true
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
