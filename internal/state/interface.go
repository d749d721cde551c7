package state

import (
	"io"

	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/pkg/models"
)

// RunLedger records the lifecycle of manager runs.
type RunLedger interface {
	StartRun(r *Run) error
	FinishRun(r *Run) error
	RecentRuns(limit int) ([]Run, error)
}

// TaskKeyStore remembers which task was created for an idempotency key.
type TaskKeyStore interface {
	LookupTaskKey(key string) (int, bool, error)
	RememberTaskKey(key, feature, title string, taskID int) error
}

// ArtifactIndex maps tasks to the artifact produced for them.
type ArtifactIndex interface {
	RecordArtifact(taskID int, path, capability string) error
	ArtifactFor(taskID int) (string, bool, error)
}

// QAStore keeps verification outcomes.
type QAStore interface {
	RecordQAResult(r QAResult) error
	QAHistory(taskID int) ([]QAResult, error)
}

// ProjectStateStore loads and checkpoints the project state.
type ProjectStateStore interface {
	Load() (*models.ProjectState, bool, error)
	Save(ps *models.ProjectState) error
}

// Store is everything the SQLite database provides.
type Store interface {
	io.Closer
	llm.Recorder
	RunLedger
	TaskKeyStore
	ArtifactIndex
	QAStore
}

var (
	_ Store             = (*DB)(nil)
	_ ProjectStateStore = (*ProjectStore)(nil)
)
