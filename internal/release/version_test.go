package release

import "testing"

func TestNextVersion(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want string
	}{
		{"no tags", nil, "v1.0.0"},
		{"patch after highest", []string{"v1.0.0", "v1.0.1", "v2.0.0"}, "v2.0.1"},
		{"unordered", []string{"v2.0.0", "v1.9.9", "v2.0.3", "v2.0.1"}, "v2.0.4"},
		{"numeric not lexical", []string{"v1.2.9", "v1.10.0"}, "v1.10.1"},
		{"ignores non semver", []string{"latest", "release-1", "v1.0.0"}, "v1.0.1"},
		{"ignores short forms", []string{"v3", "v3.1", "v1.0.0"}, "v1.0.1"},
		{"ignores prerelease", []string{"v1.0.0", "v1.1.0-rc1"}, "v1.0.1"},
		{"below first version", []string{"v0.4.2"}, "v1.0.0"},
		{"build metadata", []string{"v1.2.3+build5"}, "v1.2.4"},
		{"whitespace", []string{" v1.0.2 "}, "v1.0.3"},
		{"skips patch beyond int range", []string{"v1.0.99999999999999999999", "v1.0.5"}, "v1.0.6"},
		{"skips minor beyond int range", []string{"v1.0.5", "v1.99999999999999999999.0"}, "v1.0.6"},
		{"only out of range tags", []string{"v1.0.99999999999999999999"}, "v1.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextVersion(tt.tags); got != tt.want {
				t.Errorf("NextVersion(%v) = %q, want %q", tt.tags, got, tt.want)
			}
		})
	}
}
