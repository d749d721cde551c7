package qa

import (
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

// reviewPrefixes are stripped from task titles before deriving file names.
var reviewPrefixes = []string{"review:", "verify:", "qa:", "test:"}

// Slug turns a task title into a file-name stem: "Login Form" becomes "login_form".
func Slug(title string) string {
	t := strings.TrimSpace(title)
	lower := strings.ToLower(t)
	for _, p := range reviewPrefixes {
		if strings.HasPrefix(lower, p) {
			t = strings.TrimSpace(t[len(p):])
			break
		}
	}

	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(t) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "_")
	if slug == "" {
		return "task"
	}
	return slug
}

// ArtifactPath is the repository-relative artifact path by naming convention.
func (l *Loop) ArtifactPath(title string) string {
	return path.Join(filepath.ToSlash(l.cfg.ArtifactDir), Slug(title)+l.cfg.ArtifactExt)
}

// TestPath is the local path the generated check is written to.
func (l *Loop) TestPath(title string) string {
	return filepath.Join(l.cfg.WorkDir, l.cfg.TestDir, Slug(title)+"_test"+l.cfg.ArtifactExt)
}

// Excerpt returns at most n runes from the start of s.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
