// Package version reports what build of seekly is running.
//
// Release builds inject the values with ldflags:
//
//	-X github.com/h12/seekly/pkg/version.Version=1.2.0
//	-X github.com/h12/seekly/pkg/version.Commit=$(git rev-parse --short HEAD)
//	-X github.com/h12/seekly/pkg/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)
//
// Plain `go build` binaries fall back to the VCS stamp recorded by the
// toolchain.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

const shortCommit = 12

// BuildInfo is the `seekly version --json` document.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

type vcsStamp struct {
	revision string
	time     string
	modified bool
}

var readStamp = sync.OnceValue(func() vcsStamp {
	var s vcsStamp
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return s
	}
	for _, kv := range info.Settings {
		switch kv.Key {
		case "vcs.revision":
			s.revision = kv.Value
		case "vcs.time":
			s.time = kv.Value
		case "vcs.modified":
			s.modified = kv.Value == "true"
		}
	}
	return s
})

// GetInfo resolves the build information, preferring ldflags values.
func GetInfo() BuildInfo {
	stamp := readStamp()
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info.Commit == "" {
		info.Commit = stamp.revision
		info.Modified = stamp.modified
	}
	if len(info.Commit) > shortCommit {
		info.Commit = info.Commit[:shortCommit]
	}
	if info.Date == "" {
		info.Date = stamp.time
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return info
}

// String is the human one-liner printed by `seekly version`.
func String() string {
	info := GetInfo()
	commit := info.Commit
	if info.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("seekly %s (commit: %s, built: %s, %s, %s)",
		info.Version, commit, info.Date, info.GoVersion, info.Platform)
}

// Short returns the bare version.
func Short() string {
	return Version
}
