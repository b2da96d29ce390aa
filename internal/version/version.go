// Package version provides version information for Reclaw.
package version

// These variables are set at build time via ldflags.
var (
	// Version is the semantic version of Reclaw.
	Version = "0.3.0"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)
