// Package tracker adapts crew to the external issue tracker and artifact store.
//
// Three backends are provided: GitHub (REST API), Memory (tests and dry runs)
// and Mirror, which writes artifacts into the local working copy before
// forwarding them to another Artifacts implementation.
package tracker

import (
	"context"
	"errors"

	"github.com/ShayCichocki/crew/pkg/models"
)

// ErrNotFound is returned when a task or release does not exist.
var ErrNotFound = errors.New("not found")

// Tracker manages tasks on the external issue tracker.
type Tracker interface {
	// CreateTask opens a task from a validated draft and returns it with its assigned ID.
	CreateTask(ctx context.Context, draft models.TaskDraft) (models.Task, error)
	// ListOpenTasks returns every open task. Pull requests are never included.
	ListOpenTasks(ctx context.Context) ([]models.Task, error)
	// UpdateLabels replaces the label set of a task.
	UpdateLabels(ctx context.Context, id int, labels []string) error
	// CloseTask marks a task closed.
	CloseTask(ctx context.Context, id int) error
	// Comment appends a comment to a task.
	Comment(ctx context.Context, id int, body string) error
}

// Artifacts reads and writes generated files by repository-relative path.
type Artifacts interface {
	// GetArtifact returns the text at path. A missing artifact is found=false, not an error.
	GetArtifact(ctx context.Context, path string) (text string, found bool, err error)
	// PutArtifact creates or replaces the file at path.
	PutArtifact(ctx context.Context, path, content, message string) error
}

// Release identifies a published release.
type Release struct {
	ID        int64
	Tag       string
	Name      string
	UploadURL string
}

// Releases publishes versioned releases of the project.
type Releases interface {
	// HeadCommit returns the SHA of the release branch head; found=false when the branch has no commits.
	HeadCommit(ctx context.Context) (sha string, found bool, err error)
	// ListTags returns the tag names of existing releases.
	ListTags(ctx context.Context) ([]string, error)
	// CreateRelease publishes a release for tag.
	CreateRelease(ctx context.Context, tag, name, body string) (Release, error)
	// UploadAsset attaches a binary asset to a release.
	UploadAsset(ctx context.Context, release Release, name string, data []byte) error
}

// Backend is a tracker that also stores artifacts and releases.
type Backend interface {
	Tracker
	Artifacts
	Releases
}
