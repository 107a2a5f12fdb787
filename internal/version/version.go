// Package version holds build metadata stamped in with ldflags:
//
//	go build -ldflags "-X git.home.luguber.info/inful/buildmesh/internal/version.Version=v1.2.0"
package version

import "fmt"

// Version is the release version of the binary.
var Version = "unknown"

// BuildInfo contains additional build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version with its commit.
func String() string {
	if GitCommit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, GitCommit)
}
