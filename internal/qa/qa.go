// Package qa verifies generated artifacts and escalates failures.
//
// Each reviewable task moves through Pending, CheckGenerated and CheckRun and
// ends Resolved (closed) or Escalated (commented, defect filed, relabelled).
// A task whose artifact cannot be found stays Pending. The loop performs one
// generate/run cycle per task; repeating it is the caller's decision.
package qa

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ShayCichocki/crew/internal/extract"
	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/state"
	"github.com/ShayCichocki/crew/internal/testrun"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/pkg/models"
)

// State is the verification state of one task.
type State string

const (
	StatePending        State = "pending"
	StateCheckGenerated State = "check_generated"
	StateCheckRun       State = "check_run"
	StateResolved       State = "resolved"
	StateEscalated      State = "escalated"
)

// ErrArtifactNotFound means the artifact under review could not be located.
var ErrArtifactNotFound = errors.New("artifact not found")

// Config holds the naming conventions and bounds of the loop.
type Config struct {
	// WorkDir is the local project checkout the test runner executes in.
	WorkDir     string
	ArtifactDir string
	ArtifactExt string
	TestDir     string
	// Language names the fenced code block expected from the generator.
	Language       string
	Timeout        time.Duration
	CommentExcerpt int
	DefectExcerpt  int
}

func (c Config) withDefaults() Config {
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = "lib"
	}
	if c.ArtifactExt == "" {
		c.ArtifactExt = ".dart"
	}
	if c.TestDir == "" {
		c.TestDir = "test"
	}
	if c.Language == "" {
		c.Language = "dart"
	}
	if c.Timeout <= 0 {
		c.Timeout = testrun.DefaultTimeout
	}
	if c.CommentExcerpt <= 0 {
		c.CommentExcerpt = 1000
	}
	if c.DefectExcerpt <= 0 {
		c.DefectExcerpt = 1200
	}
	return c
}

// Deps are the collaborators of the loop. Index and Logger are optional.
type Deps struct {
	Tracker   tracker.Tracker
	Artifacts tracker.Artifacts
	Index     state.ArtifactIndex
	// Generator writes test code.
	Generator llm.Generator
	// Extractor synthesizes defect tasks.
	Extractor *extract.Extractor
	Runner    testrun.Runner
	Logger    *slog.Logger
}

// Loop runs verification passes.
type Loop struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// New returns a Loop.
func New(cfg Config, deps Deps) *Loop {
	return &Loop{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  logging.Component(deps.Logger, "qa"),
	}
}

// Reviewable returns the open tasks labelled for review and not labelled done.
func (l *Loop) Reviewable(tasks []models.Task) []models.Task {
	var out []models.Task
	for _, t := range tasks {
		if t.State == models.TaskStateClosed {
			continue
		}
		if t.HasLabel(models.LabelReview) && !t.HasLabel(models.LabelDone) {
			out = append(out, t)
		}
	}
	return out
}

// TaskResult records the verification of one task.
type TaskResult struct {
	TaskID       int             `json:"task"`
	Title        string          `json:"title"`
	State        State           `json:"state"`
	Passed       bool            `json:"passed"`
	ExitCode     int             `json:"exit_code"`
	TimedOut     bool            `json:"timed_out,omitempty"`
	Artifact     string          `json:"artifact,omitempty"`
	TestFile     string          `json:"test_file,omitempty"`
	DefectTaskID int             `json:"defect_task,omitempty"`
	Summary      testrun.Summary `json:"summary"`
	Output       string          `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Duration     time.Duration   `json:"duration_ns"`
}

// Outstanding reports whether the check failed and the task needs more work.
func (r TaskResult) Outstanding() bool {
	return r.State == StateEscalated
}

// Skipped reports whether the task never reached a check run.
func (r TaskResult) Skipped() bool {
	return r.State == StatePending || r.State == StateCheckGenerated
}
