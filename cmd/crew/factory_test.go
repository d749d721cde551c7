package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/crew/internal/config"
	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/state"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Log.Level = "error"
	return cfg
}

func stubGenerator() llm.Generator {
	return llm.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("unexpected generation")
	})
}

func TestNewApp_DryRun(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, appOptions{dryRun: true, generator: stubGenerator()})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	if _, ok := a.backend.(*tracker.Memory); !ok {
		t.Errorf("backend = %T, want *tracker.Memory", a.backend)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.WorkDir, ".crew", "state.db")); err != nil {
		t.Errorf("state database not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.WorkDir, ".crew", "signals")); err != nil {
		t.Errorf("signals dir not created: %v", err)
	}
	if _, err := a.newManager(); err != nil {
		t.Errorf("newManager: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewApp_UnknownGenerationBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Backend = "telepathy"

	_, err := newApp(context.Background(), cfg, appOptions{dryRun: true})
	if err == nil || !strings.Contains(err.Error(), "unknown generation backend") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewApp_StartupFailuresAreReported(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GITHUB_TOKEN", "")

	tests := []struct {
		name    string
		setup   func(t *testing.T, cfg *config.Config) appOptions
		wantErr error
		wantMsg string
	}{
		{
			name: "missing api key",
			setup: func(t *testing.T, cfg *config.Config) appOptions {
				cfg.Generation.Backend = "anthropic"
				cfg.Generation.APIKey = ""
				return appOptions{dryRun: true}
			},
			wantErr: config.ErrNoAPIKey,
		},
		{
			name: "missing tracker token",
			setup: func(t *testing.T, cfg *config.Config) appOptions {
				cfg.Tracker.Backend = "github"
				cfg.Tracker.Token = ""
				return appOptions{generator: stubGenerator()}
			},
			wantErr: config.ErrNoTrackerToken,
		},
		{
			name: "unusable log path",
			setup: func(t *testing.T, cfg *config.Config) appOptions {
				blocker := filepath.Join(cfg.Paths.WorkDir, "blocker")
				if err := os.WriteFile(blocker, nil, 0644); err != nil {
					t.Fatal(err)
				}
				cfg.Log.File = filepath.Join("blocker", "crew.log")
				return appOptions{dryRun: true, generator: stubGenerator()}
			},
			wantMsg: "log directory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			opts := tt.setup(t, cfg)

			a, err := newApp(context.Background(), cfg, opts)
			if a != nil {
				t.Errorf("app = %+v, want nil on failure", a)
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestNewApp_FailureReleasesResources(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := testConfig(t)
	cfg.Generation.Backend = "anthropic"

	if _, err := newApp(context.Background(), cfg, appOptions{dryRun: true}); !errors.Is(err, config.ErrNoAPIKey) {
		t.Fatalf("err = %v", err)
	}

	a, err := newApp(context.Background(), cfg, appOptions{dryRun: true, generator: stubGenerator()})
	if err != nil {
		t.Fatalf("second newApp after a failure: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewApp_NoGeneration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Backend = "telepathy"

	a, err := newApp(context.Background(), cfg, appOptions{dryRun: true, noGeneration: true})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if _, err := a.base.Generate(context.Background(), "hi"); !errors.Is(err, errNoGeneration) {
		t.Errorf("Generate err = %v, want errNoGeneration", err)
	}
}

func TestNewBackend(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")

	tests := []struct {
		name    string
		backend string
		dryRun  bool
		wantErr string
	}{
		{name: "memory", backend: "memory"},
		{name: "dry run wins", backend: "github", dryRun: true},
		{name: "github needs token", backend: "github", wantErr: "no GitHub token"},
		{name: "unknown", backend: "jira", wantErr: "unknown tracker backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Tracker.Backend = tt.backend
			b, err := newBackend(context.Background(), cfg, tt.dryRun, logging.Discard())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("newBackend: %v", err)
			}
			if _, ok := b.(*tracker.Memory); !ok {
				t.Errorf("backend = %T", b)
			}
		})
	}
}

func TestRunHeadless_FinishedProject(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, appOptions{dryRun: true, generator: stubGenerator()})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	ps := &models.ProjectState{
		Description: "A members app",
		Features: []models.Feature{
			{Title: "Login", Priority: 1, Status: models.FeatureStatusDone, TaskIDs: []int{1}},
		},
	}
	if err := a.store.Save(ps); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mgr, err := a.newManager()
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	if err := runHeadless(context.Background(), mgr, ""); err != nil {
		t.Fatalf("runHeadless: %v", err)
	}

	runs, err := a.db.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != state.RunCompleted {
		t.Errorf("runs = %+v", runs)
	}
}

func TestApp_Resolve(t *testing.T) {
	a := &app{workDir: "/work"}
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/abs/file", "/abs/file"},
		{"logs/x.log", filepath.Join("/work", "logs", "x.log")},
	}
	for _, tt := range tests {
		if got := a.resolve(tt.in); got != tt.want {
			t.Errorf("resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
