// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. Set manually for releases.
	Version = "0.1.0-dev"
)

// shortCommit is the length git uses for abbreviated hashes.
const shortCommit = 7

// stamp returns the commit, dirty flag, and build time, preferring
// ldflags values over the embedded VCS stamp.
func stamp() (commit string, dirty bool, built string) {
	commit, dirty, built = GitCommit, GitDirty == "true", BuildTime
	if commit != "unknown" {
		return commit, dirty, built
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, dirty, built
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			if len(commit) > shortCommit {
				commit = commit[:shortCommit]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		case "vcs.time":
			if built == "unknown" {
				built = setting.Value
			}
		}
	}
	return commit, dirty, built
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	commit, dirty, built := stamp()
	suffix := ""
	if dirty {
		suffix = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, commit, suffix, built)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}
