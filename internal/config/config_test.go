package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Loop.MaxRounds != 3 {
		t.Errorf("expected max_rounds 3, got %d", cfg.Loop.MaxRounds)
	}
	if cfg.Loop.MaxAttempts != 10 {
		t.Errorf("expected max_attempts 10, got %d", cfg.Loop.MaxAttempts)
	}
	if cfg.Loop.PlanRetries != 3 {
		t.Errorf("expected plan_retries 3, got %d", cfg.Loop.PlanRetries)
	}
	if cfg.Loop.MinPlanSteps != 3 || cfg.Loop.MaxPlanSteps != 5 {
		t.Errorf("expected 3-5 plan steps, got %d-%d", cfg.Loop.MinPlanSteps, cfg.Loop.MaxPlanSteps)
	}
	if cfg.QA.Timeout != 90*time.Second {
		t.Errorf("expected qa timeout 90s, got %v", cfg.QA.Timeout)
	}
	if cfg.QA.CommentExcerpt != 1000 || cfg.QA.DefectExcerpt != 1200 {
		t.Errorf("unexpected excerpt bounds %d/%d", cfg.QA.CommentExcerpt, cfg.QA.DefectExcerpt)
	}
	if cfg.Generation.Backend != "anthropic" {
		t.Errorf("expected anthropic backend, got %q", cfg.Generation.Backend)
	}
	if cfg.Paths.StateFile != "project_state.json" {
		t.Errorf("unexpected state file %q", cfg.Paths.StateFile)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
generation:
  backend: ollama
  model: deepseek-coder:6.7b
  base_url: http://gpu-box:11434
tracker:
  owner: octo
  repo: app
loop:
  max_rounds: 2
qa:
  test_command: go test -json ./...
  timeout: 2m
log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Generation.Backend != "ollama" || cfg.Generation.BaseURL != "http://gpu-box:11434" {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if cfg.Tracker.Owner != "octo" || cfg.Tracker.Repo != "app" {
		t.Errorf("tracker = %+v", cfg.Tracker)
	}
	if cfg.Loop.MaxRounds != 2 {
		t.Errorf("expected max_rounds 2, got %d", cfg.Loop.MaxRounds)
	}
	if cfg.Loop.MaxAttempts != 10 {
		t.Errorf("defaults should fill unset keys, got max_attempts %d", cfg.Loop.MaxAttempts)
	}
	if cfg.QA.Timeout != 2*time.Minute {
		t.Errorf("expected qa timeout 2m, got %v", cfg.QA.Timeout)
	}
	if cfg.Tracker.APIEndpoint != "https://api.github.com" {
		t.Errorf("expected default api endpoint, got %q", cfg.Tracker.APIEndpoint)
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromPath_ExpandsEnv(t *testing.T) {
	t.Setenv("MY_TRACKER_TOKEN", "ghp_secret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("tracker:\n  token: ${MY_TRACKER_TOKEN}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Tracker.Token != "ghp_secret" {
		t.Errorf("token = %q", cfg.Tracker.Token)
	}
}

func TestLoad_ProjectOverridesUserAndEnvOverridesBoth(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("GITHUB_TOKEN", "from-env")
	t.Setenv("ANTHROPIC_API_KEY", "")

	if err := os.MkdirAll(filepath.Join(xdg, "crew"), 0755); err != nil {
		t.Fatal(err)
	}
	user := "loop:\n  max_rounds: 7\ntracker:\n  owner: user-owner\n  token: from-file\n"
	if err := os.WriteFile(filepath.Join(xdg, "crew", "config.yaml"), []byte(user), 0644); err != nil {
		t.Fatal(err)
	}

	project := t.TempDir()
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, ProjectConfigName), []byte("tracker:\n  owner: project-owner\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Loop.MaxRounds != 7 {
		t.Errorf("user config ignored: max_rounds = %d", cfg.Loop.MaxRounds)
	}
	if cfg.Tracker.Owner != "project-owner" {
		t.Errorf("project override ignored: owner = %q", cfg.Tracker.Owner)
	}
	if cfg.Tracker.Token != "from-env" {
		t.Errorf("environment should win: token = %q", cfg.Tracker.Token)
	}
}

func TestGetSetDisplay(t *testing.T) {
	cfg := Default()

	tests := []struct {
		key   string
		value string
	}{
		{"loop.max_rounds", "4"},
		{"qa.timeout", "30s"},
		{"tracker.commit_local", "true"},
		{"generation.backend", "ollama"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if err := Set(cfg, tt.key, tt.value); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			got, err := Get(cfg, tt.key)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got != tt.value {
				t.Errorf("Get(%s) = %q, want %q", tt.key, got, tt.value)
			}
		})
	}

	if err := Set(cfg, "loop.max_rounds", "many"); err == nil {
		t.Error("expected error for non-integer")
	}
	if _, err := Get(cfg, "nope.key"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg.Tracker.Token = "ghp_1234567890abcdef"
	shown, _ := Display(cfg, "tracker.token")
	if shown != "ghp_123...cdef" {
		t.Errorf("Display(tracker.token) = %q", shown)
	}
}

func TestKeysCoverEveryField(t *testing.T) {
	cfg := Default()
	for _, k := range Keys() {
		if _, err := Get(cfg, k); err != nil {
			t.Errorf("Get(%s) failed: %v", k, err)
		}
	}
	if len(Keys()) < 40 {
		t.Errorf("only %d keys registered", len(Keys()))
	}
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := GetAPIKey(Default()); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}

	cfg := Default()
	cfg.Generation.APIKey = "sk-ant-from-config"
	if key, err := GetAPIKey(cfg); err != nil || key != "sk-ant-from-config" {
		t.Errorf("GetAPIKey = %q, %v", key, err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
	if key, _ := GetAPIKey(cfg); key != "sk-ant-from-env" {
		t.Errorf("environment should win, got %q", key)
	}
}

func TestGetTrackerToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	cfg := Default()
	cfg.Tracker.Token = "${UNSET_TOKEN_VAR}"
	if _, err := GetTrackerToken(cfg); !errors.Is(err, ErrNoTrackerToken) {
		t.Errorf("unexpanded reference should not count, got %v", err)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-api03-abcdefghijkl", "sk-ant-...ijkl"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	cfg := Default()
	cfg.Paths.WorkDir = "/work"
	if got := cfg.Resolve("qa_report.json"); got != "/work/qa_report.json" {
		t.Errorf("Resolve = %q", got)
	}
	if got := cfg.Resolve("/abs/x"); got != "/abs/x" {
		t.Errorf("Resolve(abs) = %q", got)
	}
}
