package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) (*ExecRunner, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	r := NewRunner(dir)
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "crew@example.com"},
		{"config", "user.name", "crew"},
	} {
		if _, err := r.Run(args...); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	return r, dir
}

func TestIsRepository(t *testing.T) {
	r, _ := newTestRepo(t)
	if !r.IsRepository() {
		t.Error("expected initialized dir to be a repository")
	}

	plain := NewRunner(t.TempDir())
	if plain.IsRepository() {
		t.Error("expected plain temp dir not to be a repository")
	}
}

func TestAddCommit(t *testing.T) {
	r, dir := newTestRepo(t)

	staged, err := r.HasStagedChanges()
	if err != nil {
		t.Fatalf("HasStagedChanges: %v", err)
	}
	if staged {
		t.Error("fresh repo should have nothing staged")
	}

	path := filepath.Join("lib", "login_form.dart")
	if err := os.MkdirAll(filepath.Join(dir, "lib"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, path), []byte("class LoginForm {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := r.Add(path); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if staged, _ := r.HasStagedChanges(); !staged {
		t.Fatal("expected staged changes after Add")
	}
	if err := r.Commit("Update lib/login_form.dart"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	out, err := r.Run("log", "--format=%s")
	if err != nil {
		t.Fatalf("git log: %v", err)
	}
	if out != "Update lib/login_form.dart" {
		t.Errorf("log = %q", out)
	}
}

func TestAdd_MissingFile(t *testing.T) {
	r, _ := newTestRepo(t)
	if err := r.Add("does-not-exist.txt"); err == nil {
		t.Error("expected error adding missing file")
	}
}
