// Package version reports the crew build version.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"

	"golang.org/x/mod/semver"
)

//go:embed VERSION
var versionContent string

// Commit may be set at link time with -ldflags "-X .../version.Commit=<sha>".
var Commit string

// Get returns the embedded version with a leading "v".
func Get() string {
	v := strings.TrimSpace(versionContent)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if semver.IsValid(v) {
		return semver.Canonical(v)
	}
	return v
}

// Revision returns the VCS revision the binary was built from, if known.
func Revision() string {
	if Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}

// String formats the version and revision for display.
func String() string {
	if rev := Revision(); rev != "" {
		return Get() + " (" + rev + ")"
	}
	return Get()
}
