package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/crew/pkg/models"
)

// Memory is an in-process Backend used by tests and dry runs.
type Memory struct {
	mu        sync.Mutex
	nextID    int
	tasks     map[int]*models.Task
	comments  map[int][]string
	artifacts map[string]string
	releases  []Release
	assets    map[string][]string
	head      string
}

// NewMemory returns an empty in-memory backend whose branch head is "HEAD".
func NewMemory() *Memory {
	return &Memory{
		nextID:    1,
		tasks:     make(map[int]*models.Task),
		comments:  make(map[int][]string),
		artifacts: make(map[string]string),
		assets:    make(map[string][]string),
		head:      "HEAD",
	}
}

// CreateTask assigns the next ID to draft.
func (m *Memory) CreateTask(_ context.Context, draft models.TaskDraft) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task := &models.Task{
		ID:     m.nextID,
		Title:  draft.Title,
		Body:   draft.Body,
		Labels: append([]string{}, draft.Labels...),
		State:  models.TaskStateOpen,
	}
	m.tasks[task.ID] = task
	m.nextID++
	return *task, nil
}

// ListOpenTasks returns open tasks ordered by ID.
func (m *Memory) ListOpenTasks(_ context.Context) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.Task{}
	for _, t := range m.tasks {
		if t.State == models.TaskStateOpen {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateLabels replaces a task's labels.
func (m *Memory) UpdateLabels(_ context.Context, id int, labels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("update labels of task %d: %w", id, ErrNotFound)
	}
	t.Labels = append([]string{}, labels...)
	return nil
}

// CloseTask closes a task.
func (m *Memory) CloseTask(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("close task %d: %w", id, ErrNotFound)
	}
	t.State = models.TaskStateClosed
	return nil
}

// Comment records a comment on a task.
func (m *Memory) Comment(_ context.Context, id int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return fmt.Errorf("comment on task %d: %w", id, ErrNotFound)
	}
	m.comments[id] = append(m.comments[id], body)
	return nil
}

// GetArtifact returns a stored artifact.
func (m *Memory) GetArtifact(_ context.Context, path string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.artifacts[path]
	return text, ok, nil
}

// PutArtifact stores an artifact.
func (m *Memory) PutArtifact(_ context.Context, path, content, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[path] = content
	return nil
}

// HeadCommit returns the configured head; an empty head means no commits.
func (m *Memory) HeadCommit(_ context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, m.head != "", nil
}

// ListTags returns tags of created releases in creation order.
func (m *Memory) ListTags(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tags := make([]string, 0, len(m.releases))
	for _, r := range m.releases {
		tags = append(tags, r.Tag)
	}
	return tags, nil
}

// CreateRelease records a release.
func (m *Memory) CreateRelease(_ context.Context, tag, name, _ string) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.releases {
		if r.Tag == tag {
			return Release{}, fmt.Errorf("create release %s: tag already exists", tag)
		}
	}
	r := Release{ID: int64(len(m.releases) + 1), Tag: tag, Name: name, UploadURL: "memory://" + tag}
	m.releases = append(m.releases, r)
	return r, nil
}

// UploadAsset records an asset name against a release.
func (m *Memory) UploadAsset(_ context.Context, release Release, name string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[release.Tag] = append(m.assets[release.Tag], name)
	return nil
}

// SetHead sets the commit HeadCommit reports.
func (m *Memory) SetHead(sha string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = sha
}

// Task returns a copy of any task, open or closed.
func (m *Memory) Task(id int) (models.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return copyTask(t), true
}

// Tasks returns every task ordered by ID.
func (m *Memory) Tasks() []models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Comments returns the comments on a task.
func (m *Memory) Comments(id int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.comments[id]...)
}

// Assets returns asset names uploaded to the release for tag.
func (m *Memory) Assets(tag string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.assets[tag]...)
}

func copyTask(t *models.Task) models.Task {
	c := *t
	c.Labels = append([]string{}, t.Labels...)
	return c
}

var _ Backend = (*Memory)(nil)
