// Package version carries build metadata stamped at link time with
// -ldflags "-X github.com/banshee-data/skelly.rig/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns a one-line summary suitable for -version output and run
// records.
func String() string {
	return fmt.Sprintf("skelly %s (%s, built %s)", Version, GitSHA, BuildTime)
}
