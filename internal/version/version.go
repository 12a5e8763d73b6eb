// Package version holds build-time version information, injected via ldflags.
package version

// Set at build time with:
//
//	-ldflags "-X github.com/sydlexius/needledrop/internal/version.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
)
