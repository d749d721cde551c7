package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/crew/pkg/models"
)

const frontMatterDelim = "---"

// Meta is the front-matter block crew prepends to task bodies it creates.
type Meta struct {
	Key     string `yaml:"crew_key"`
	Feature string `yaml:"feature,omitempty"`
}

// IdempotencyKey derives the creation key for a task of a feature.
// Titles are compared case-insensitively with collapsed whitespace.
func IdempotencyKey(feature, title string) string {
	sum := sha256.Sum256([]byte(normalizeTitle(feature) + "\x00" + normalizeTitle(title)))
	return hex.EncodeToString(sum[:])[:16]
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// WithFrontMatter returns body prefixed by a YAML front-matter block for meta.
// An existing block is replaced.
func WithFrontMatter(body string, meta Meta) string {
	if _, rest, ok := ParseFrontMatter(body); ok {
		body = rest
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return body
	}
	var b strings.Builder
	b.WriteString(frontMatterDelim + "\n")
	b.Write(data)
	b.WriteString(frontMatterDelim + "\n")
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}

// ParseFrontMatter splits a task body into its front-matter and the remaining text.
// ok is false when the body carries no crew front-matter.
func ParseFrontMatter(body string) (meta Meta, rest string, ok bool) {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontMatterDelim+"\n") {
		return Meta{}, body, false
	}
	tail := normalized[len(frontMatterDelim)+1:]
	end := strings.Index(tail, "\n"+frontMatterDelim)
	if end < 0 {
		return Meta{}, body, false
	}
	block := tail[:end+1]
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil || meta.Key == "" {
		return Meta{}, body, false
	}
	rest = tail[end+1+len(frontMatterDelim):]
	rest = strings.TrimPrefix(rest, "\n")
	rest = strings.TrimPrefix(rest, "\n")
	return meta, rest, true
}

// KeysOf returns the idempotency keys carried by tasks, mapped to task IDs.
func KeysOf(tasks []models.Task) map[string]int {
	keys := make(map[string]int)
	for _, t := range tasks {
		if meta, _, ok := ParseFrontMatter(t.Body); ok {
			keys[meta.Key] = t.ID
		}
	}
	return keys
}
