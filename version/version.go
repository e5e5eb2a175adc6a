// Package version reports build information for respool binaries.
//
// Values are injected at link time:
//
//	go build -ldflags "-X github.com/go-i2p/respool/version.Version=1.0.0 \
//	  -X github.com/go-i2p/respool/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import "runtime"

// Version is the release version, "dev" for untagged builds.
var Version = "dev"

// GitCommit is the short commit hash the binary was built from.
var GitCommit = ""

// BuildTime is the UTC build timestamp.
var BuildTime = ""

// Info is the machine-readable form of the build information.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// Full returns Version with the commit and build time appended when known,
// e.g. "1.0.0-abc1234 (2026-01-29T12:00:00Z)".
func Full() string {
	v := Version
	if GitCommit != "" {
		v += "-" + GitCommit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}
