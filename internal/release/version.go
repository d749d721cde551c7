// Package release computes release versions.
package release

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// FirstVersion is used when no release at or above it exists.
const FirstVersion = "v1.0.0"

// NextVersion returns the patch increment of the highest vMAJOR.MINOR.PATCH tag.
// Tags that are not full semantic versions, pre-releases, and anything below
// FirstVersion are ignored, as are tags whose numbers overflow an int, so an
// empty or irrelevant tag set yields FirstVersion.
func NextVersion(tags []string) string {
	highest := ""
	var major, minor, patch int
	for _, tag := range tags {
		v := strings.TrimSpace(tag)
		if !isRelease(v) {
			continue
		}
		if semver.Compare(v, FirstVersion) < 0 {
			continue
		}
		if highest != "" && semver.Compare(v, highest) <= 0 {
			continue
		}
		// Components beyond int range cannot be incremented.
		ma, mi, pa, ok := parts(v)
		if !ok {
			continue
		}
		highest = v
		major, minor, patch = ma, mi, pa
	}
	if highest == "" {
		return FirstVersion
	}
	return fmt.Sprintf("v%d.%d.%d", major, minor, patch+1)
}

// isRelease accepts only the full vX.Y.Z form; semver also accepts "v1" and "v1.2".
func isRelease(v string) bool {
	if !semver.IsValid(v) || semver.Prerelease(v) != "" {
		return false
	}
	core := strings.TrimSuffix(strings.TrimPrefix(v, "v"), semver.Build(v))
	return strings.Count(core, ".") == 2
}

func parts(v string) (major, minor, patch int, ok bool) {
	fields := strings.SplitN(strings.TrimPrefix(semver.Canonical(v), "v"), ".", 3)
	nums := make([]int, 3)
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n == math.MaxInt {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], true
}
