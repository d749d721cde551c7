// Package exec provides an interface for command execution.
package exec

import (
	"context"
	"time"
)

// Result describes a finished command.
// A non-zero exit or a cancelled context is reported here, not as an error.
type Result struct {
	// Output holds combined stdout and stderr.
	Output []byte
	// ExitCode is -1 when the process was killed.
	ExitCode int
	// TimedOut is set when the context deadline expired before the command finished.
	TimedOut bool
	Duration time.Duration
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command. The working directory is set to workDir if non-empty.
	// An error is returned only when the command could not be started.
	Run(ctx context.Context, workDir string, name string, args ...string) (*Result, error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (*Result, error)
}
