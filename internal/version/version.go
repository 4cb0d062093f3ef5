// Package version holds build metadata reported by /version and the CLI.
package version

// Build metadata, overridden at link time with -ldflags "-X ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
