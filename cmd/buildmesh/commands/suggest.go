package commands

import (
	"context"
	"fmt"
	"iter"
	"os"
	"slices"
	"time"

	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/results"
)

// SuggestCmd implements the 'suggest' command. Revisions come from the
// arguments, from the branch heads of --repo, or from git post-receive
// input on stdin, in that order.
type SuggestCmd struct {
	Project   string        `arg:"" help:"Project to build"`
	Revisions []string      `arg:"" optional:"" help:"Revisions to build"`
	Server    string        `help:"Results server client endpoint description" default:"tcp:host=localhost:port=8123"`
	Repo      string        `help:"Suggest every local branch of this git repository" type:"path"`
	Timeout   time.Duration `help:"Give up after this long" default:"30s"`
}

func (s *SuggestCmd) Run(g *Global) error {
	revisions, err := s.revisions()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	sug, err := results.DialSuggester(ctx, s.Server, g.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = sug.Close() }()

	n, err := sug.SuggestAll(ctx, s.Project, revisions)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "suggesting builds failed").
			WithContext("project", s.Project).Build()
	}
	fmt.Printf("Suggested %d build(s) of %s\n", n, s.Project)
	return nil
}

func (s *SuggestCmd) revisions() (iter.Seq[string], error) {
	switch {
	case len(s.Revisions) > 0:
		return slices.Values(s.Revisions), nil
	case s.Repo != "":
		heads, err := results.BranchHeads(s.Repo)
		if err != nil {
			return nil, err
		}
		return slices.Values(heads), nil
	default:
		return results.ParsePostReceive(os.Stdin), nil
	}
}
