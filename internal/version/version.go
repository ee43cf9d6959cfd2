// Package version exposes the build identity printed by the version
// command.
package version

import (
	"runtime/debug"
	"time"
)

// Release builds stamp these via ldflags:
//
//	-X github.com/rpcgate/rpcgate/internal/version.Version=v1.0.0
//	-X github.com/rpcgate/rpcgate/internal/version.Commit=1a2b3c4
//
// Unstamped binaries fall back to whatever VCS metadata the Go
// toolchain embedded, and to "dev"/"unknown" when there is none.
var (
	Version = ""
	Commit  = ""
)

func init() {
	if Version == "" || Commit == "" {
		fromBuildInfo()
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	if Commit == "" {
		if rev := settings["vcs.revision"]; rev != "" {
			if len(rev) > 7 {
				rev = rev[:7]
			}
			if settings["vcs.modified"] == "true" {
				rev += "-dirty"
			}
			Commit = rev
		}
	}
	if Version == "" && settings["vcs.time"] != "" {
		if t, err := time.Parse(time.RFC3339, settings["vcs.time"]); err == nil {
			Version = "dev-" + t.Format("20060102")
		}
	}
}
