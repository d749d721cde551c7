// Package git provides an interface for git operations.
package git

// CommitOperations defines the interface for recording files in a local repository.
type CommitOperations interface {
	// IsRepository returns true if the working directory is inside a git work tree.
	IsRepository() bool
	// Add stages the specified files for commit.
	Add(paths ...string) error
	// HasStagedChanges returns true if the index differs from HEAD.
	HasStagedChanges() (bool, error)
	// Commit creates a new commit with the given message.
	Commit(message string) error
}

// Runner defines the complete interface for git operations used by crew.
type Runner interface {
	CommitOperations
	// Run executes an arbitrary git command with the given arguments.
	// Returns the command output and an error if the command fails.
	Run(args ...string) (string, error)
}
