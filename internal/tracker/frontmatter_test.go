package tracker

import (
	"testing"

	"github.com/ShayCichocki/crew/pkg/models"
)

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("Login", "Build login form")
	b := IdempotencyKey("  login ", "build   LOGIN form")
	if a != b {
		t.Errorf("normalized titles should share a key: %s != %s", a, b)
	}
	if a == IdempotencyKey("Signup", "Build login form") {
		t.Error("different features must produce different keys")
	}
	if len(a) != 16 {
		t.Errorf("key length = %d, want 16", len(a))
	}
}

func TestFrontMatterRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"with body", "Implement the form.\n\n- email\n- password"},
		{"empty body", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withMeta := WithFrontMatter(tt.body, Meta{Key: "abc", Feature: "Login"})
			meta, rest, ok := ParseFrontMatter(withMeta)
			if !ok {
				t.Fatalf("front-matter not found in %q", withMeta)
			}
			if meta.Key != "abc" || meta.Feature != "Login" {
				t.Errorf("meta = %+v", meta)
			}
			if rest != tt.body {
				t.Errorf("rest = %q, want %q", rest, tt.body)
			}
		})
	}
}

func TestWithFrontMatter_ReplacesExisting(t *testing.T) {
	body := WithFrontMatter("text", Meta{Key: "old"})
	body = WithFrontMatter(body, Meta{Key: "new"})
	meta, rest, ok := ParseFrontMatter(body)
	if !ok || meta.Key != "new" || rest != "text" {
		t.Errorf("got %+v, %q, %v", meta, rest, ok)
	}
}

func TestParseFrontMatter_Absent(t *testing.T) {
	for _, body := range []string{"plain body", "---\nno closing", "---\ntitle: x\n---\nbody"} {
		if _, rest, ok := ParseFrontMatter(body); ok || rest != body {
			t.Errorf("ParseFrontMatter(%q) = %q, %v", body, rest, ok)
		}
	}
}

func TestKeysOf(t *testing.T) {
	tasks := []models.Task{
		{ID: 3, Body: WithFrontMatter("x", Meta{Key: "k3"})},
		{ID: 4, Body: "no meta"},
	}
	keys := KeysOf(tasks)
	if len(keys) != 1 || keys["k3"] != 3 {
		t.Errorf("keys = %v", keys)
	}
}
