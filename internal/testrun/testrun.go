// Package testrun runs a project's test suite and classifies the outcome.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ShayCichocki/crew/internal/exec"
	"github.com/ShayCichocki/crew/internal/logging"
)

// DefaultTimeout bounds a test run when the caller passes zero.
const DefaultTimeout = 90 * time.Second

// ErrExecutionFailure means the test command could not be run at all.
var ErrExecutionFailure = errors.New("test execution failed")

// Summary counts test cases reported in machine-readable output.
type Summary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Total returns the number of reported test cases.
func (s Summary) Total() int { return s.Passed + s.Failed + s.Skipped }

// Result is the structured outcome of one run.
type Result struct {
	Passed   bool
	ExitCode int
	TimedOut bool
	Output   string
	Duration time.Duration
	Summary  Summary
}

// Runner executes tests in a working directory.
type Runner interface {
	Run(ctx context.Context, workDir string, timeout time.Duration) (*Result, error)
}

// CommandRunner runs a shell command and classifies its exit status.
type CommandRunner struct {
	command string
	marker  string
	exec    exec.CommandRunner
	logger  *slog.Logger
}

// Option configures a CommandRunner.
type Option func(*CommandRunner)

// WithSuccessMarker additionally requires marker in the output. It never turns a failing exit into a pass.
func WithSuccessMarker(marker string) Option {
	return func(r *CommandRunner) { r.marker = marker }
}

// WithExec replaces the command executor.
func WithExec(e exec.CommandRunner) Option {
	return func(r *CommandRunner) { r.exec = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *CommandRunner) { r.logger = l }
}

// NewCommandRunner returns a runner for command, e.g. "flutter test" or "go test -json ./...".
func NewCommandRunner(command string, opts ...Option) *CommandRunner {
	r := &CommandRunner{command: command, exec: exec.NewRunner()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Component(r.logger, "testrun")
	return r
}

// Command returns the configured shell command.
func (r *CommandRunner) Command() string { return r.command }

// Run executes the command under timeout. Only a failure to start is returned as an error.
func (r *CommandRunner) Run(ctx context.Context, workDir string, timeout time.Duration) (*Result, error) {
	if strings.TrimSpace(r.command) == "" {
		return nil, fmt.Errorf("%w: no test command configured", ErrExecutionFailure)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Info("running tests", "command", r.command, "dir", workDir, "timeout", timeout)
	res, err := r.exec.RunShell(runCtx, workDir, r.command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailure, err)
	}
	// A parent cancellation is not a test verdict.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Result{
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Output:   string(res.Output),
		Duration: res.Duration,
		Summary:  ParseSummary(string(res.Output)),
	}
	out.Passed = classify(out, r.marker)

	r.logger.Info("tests finished",
		"passed", out.Passed,
		"exit_code", out.ExitCode,
		"timed_out", out.TimedOut,
		"cases_passed", out.Summary.Passed,
		"cases_failed", out.Summary.Failed,
		"duration", out.Duration)
	return out, nil
}

func classify(res *Result, marker string) bool {
	if res.TimedOut || res.ExitCode != 0 {
		return false
	}
	if res.Summary.Failed > 0 {
		return false
	}
	if marker != "" && !strings.Contains(res.Output, marker) {
		return false
	}
	return true
}

var _ Runner = (*CommandRunner)(nil)
