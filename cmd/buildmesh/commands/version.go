package commands

import (
	"fmt"
	"runtime"

	"git.home.luguber.info/inful/buildmesh/internal/version"
)

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

func (VersionCmd) Run(*Global) error {
	fmt.Printf("buildmesh %s built %s with %s\n",
		version.String(), version.BuildTime, runtime.Version())
	return nil
}
