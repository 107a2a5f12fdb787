package results

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/rpc"
	"git.home.luguber.info/inful/buildmesh/internal/wire"
)

// Suggester asks a results server to build revisions.
type Suggester struct {
	conn *rpc.Conn
}

// DialSuggester connects to the results server at the client endpoint desc.
func DialSuggester(ctx context.Context, desc string, logger *slog.Logger) (*Suggester, error) {
	conn, err := rpc.Dial(ctx, desc, nil, logger)
	if err != nil {
		return nil, err
	}
	return &Suggester{conn: conn}, nil
}

// SuggestBuild asks for one build and waits for the server to accept it.
func (s *Suggester) SuggestBuild(ctx context.Context, project, revision string) error {
	return s.conn.Call(ctx, wire.MethodSuggestBuild, wire.SuggestBuildArgs{ProjectName: project, Revision: revision}, nil)
}

// SuggestAll suggests every revision without waiting between them, then
// waits for all of them. It returns the joined failures.
func (s *Suggester) SuggestAll(ctx context.Context, project string, revisions iter.Seq[string]) (int, error) {
	var calls []*rpc.Call
	for rev := range revisions {
		calls = append(calls, s.conn.Go(wire.MethodSuggestBuild, wire.SuggestBuildArgs{ProjectName: project, Revision: rev}, nil))
	}
	var errs []error
	for _, call := range calls {
		select {
		case <-call.Done:
			if call.Error != nil {
				errs = append(errs, call.Error)
			}
		case <-ctx.Done():
			return len(calls), ctx.Err()
		}
	}
	return len(calls), errors.Join(errs...)
}

// Close closes the connection.
func (s *Suggester) Close() error { return s.conn.Close() }

var zeroRev = regexp.MustCompile(`^0*$`)

// ParsePostReceive reads git post-receive input ("old new ref" per line)
// and yields the names of branches that were created or updated. Deleted
// branches, other refs and malformed lines are skipped. Input ends at EOF
// or at the first blank line.
func ParsePostReceive(r io.Reader) iter.Seq[string] {
	return func(yield func(string) bool) {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := sc.Text()
			if strings.TrimSpace(line) == "" {
				return
			}
			fields := strings.Fields(line)
			if len(fields) < 3 {
				continue
			}
			newRev, ref := fields[1], fields[2]
			branch, ok := strings.CutPrefix(ref, "refs/heads/")
			if !ok || branch == "" {
				continue
			}
			if zeroRev.MatchString(newRev) {
				continue
			}
			if !yield(branch) {
				return
			}
		}
	}
}

// BranchHeads lists the local branch names of the repository at repoPath,
// sorted.
func BranchHeads(repoPath string) ([]string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, ferrors.NotFoundError("opening repository").
			WithCause(err).WithContext("path", repoPath).Build()
	}
	branches, err := repo.Branches()
	if err != nil {
		return nil, ferrors.FileSystemError("listing branches").
			WithCause(err).WithContext("path", repoPath).Build()
	}
	defer branches.Close()

	var names []string
	err = branches.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, ferrors.FileSystemError("reading branches").
			WithCause(err).WithContext("path", repoPath).Build()
	}
	slices.Sort(names)
	return names, nil
}
