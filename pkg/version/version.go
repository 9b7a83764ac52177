// Package version holds build metadata stamped through ldflags.
package version

var (
	// Version is the semantic version of the build
	Version = "v0.1.0"
	// Commit is the source revision, empty for local builds
	Commit = ""
)

// String returns the version followed by the short commit when known
func String() string {
	if len(Commit) >= 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}
