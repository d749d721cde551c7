package summary

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/pkg/models"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

type countingWriter struct {
	calls int
}

func (c *countingWriter) Generate(_ context.Context, prompt string) (string, error) {
	c.calls++
	if strings.Contains(prompt, "main.dart") {
		return "Entry point of the app.", nil
	}
	return "A helper.", nil
}

func testState() *models.ProjectState {
	return &models.ProjectState{
		Description: "A members app.",
		Features: []models.Feature{
			{Title: "Login", Description: "Sign in", Status: models.FeatureStatusDone},
			{Title: "Profile", Description: "Edit profile"},
		},
	}
}

func TestRender(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/main.dart", "void main() {}")
	writeFile(t, root, "lib/util.py", "def f(): pass")
	writeFile(t, root, "notes.txt", "ignored")
	writeFile(t, root, ".hidden.dart", "ignored")
	writeFile(t, root, ".git/config.yaml", "ignored")
	writeFile(t, root, "build/out.dart", "ignored")
	writeFile(t, root, "pubspec.yaml", "name: members")

	w := &countingWriter{}
	g := New(Config{Root: root}, w, nil, nil)

	got, err := g.Render(context.Background(), testState())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, want := range []string{
		"# Project overview\nA members app.",
		"- **Login** (done): Sign in",
		"- **Profile** (open): Edit profile",
		"### `lib/main.dart`\nEntry point of the app.",
		"### `lib/util.py`\nA helper.",
		"### `pubspec.yaml`",
		"```yaml\nname: members\n```",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("README missing %q:\n%s", want, got)
		}
	}
	for _, unwanted := range []string{"notes.txt", ".hidden.dart", "config.yaml", "build/out.dart"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("README should not list %s", unwanted)
		}
	}
	if w.calls != 3 {
		t.Errorf("summaries generated = %d, want 3", w.calls)
	}
}

func TestRender_UsesCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/main.dart", "void main() {}")

	w := &countingWriter{}
	g := New(Config{Root: root}, w, nil, nil)
	ctx := context.Background()

	if _, err := g.Render(ctx, testState()); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Render(ctx, testState()); err != nil {
		t.Fatal(err)
	}
	if w.calls != 1 {
		t.Errorf("calls = %d, want 1 (cached)", w.calls)
	}

	cache, err := LoadCache(filepath.Join(root, ".summaries.json"))
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if cache["lib/main.dart"].Summary != "Entry point of the app." {
		t.Errorf("cache = %+v", cache)
	}

	writeFile(t, root, "lib/main.dart", "void main() { run(); }")
	if _, err := g.Render(ctx, testState()); err != nil {
		t.Fatal(err)
	}
	if w.calls != 2 {
		t.Errorf("changed file should be summarized again, calls = %d", w.calls)
	}
}

func TestRender_NoDependencies(t *testing.T) {
	g := New(Config{Root: t.TempDir()}, &countingWriter{}, nil, nil)
	got, err := g.Render(context.Background(), &models.ProjectState{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "No description available.") || !strings.Contains(got, "_No dependency files found._") {
		t.Errorf("README = %s", got)
	}
}

func TestRender_FailedSummaryNotCached(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.dart", "x")
	failing := llm.GeneratorFunc(func(context.Context, string) (string, error) { return "", nil })
	g := New(Config{Root: root}, failing, nil, nil)

	got, err := g.Render(context.Background(), &models.ProjectState{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, Unreadable) {
		t.Errorf("README = %s", got)
	}
	if _, err := os.Stat(filepath.Join(root, ".summaries.json")); !os.IsNotExist(err) {
		t.Errorf("cache should not be written, stat err = %v", err)
	}
}

func TestWrite(t *testing.T) {
	t.Run("local file", func(t *testing.T) {
		root := t.TempDir()
		g := New(Config{Root: root}, &countingWriter{}, nil, nil)
		if _, err := g.Write(context.Background(), testState()); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(filepath.Join(root, ReadmeName))
		if err != nil || !strings.HasPrefix(string(data), "# Project overview") {
			t.Errorf("README = %q, err = %v", data, err)
		}
	})

	t.Run("artifacts", func(t *testing.T) {
		mem := tracker.NewMemory()
		g := New(Config{Root: t.TempDir()}, &countingWriter{}, mem, nil)
		if _, err := g.Write(context.Background(), testState()); err != nil {
			t.Fatal(err)
		}
		text, found, _ := mem.GetArtifact(context.Background(), ReadmeName)
		if !found || !strings.Contains(text, "**Login**") {
			t.Errorf("stored README = %q", text)
		}
	})
}
