package models

import "strings"

// Well-known task labels.
const (
	// LabelReview marks a task whose artifact awaits verification.
	LabelReview = "qa"
	// LabelDefective marks a task whose verification failed.
	LabelDefective = "bug"
	// LabelDone excludes a task from review.
	LabelDone = "done"
)

// TaskState is the tracker-side state of a task.
type TaskState string

const (
	// TaskStateOpen indicates the task still needs work.
	TaskStateOpen TaskState = "open"
	// TaskStateClosed indicates the task was resolved.
	TaskStateClosed TaskState = "closed"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateOpen, TaskStateClosed:
		return true
	default:
		return false
	}
}

// Task is a unit of work held by the external tracker.
type Task struct {
	// ID is assigned by the tracker and unique within a project.
	ID int `json:"id"`
	// Title is the short summary of the task.
	Title string `json:"title"`
	// Body is the free-form description.
	Body string `json:"body,omitempty"`
	// Labels are free-form tags such as "frontend", "qa" or "bug".
	Labels []string `json:"labels"`
	// State is open or closed.
	State TaskState `json:"state"`
}

// HasLabel reports whether the task carries the label, ignoring case.
func (t Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// WithLabels returns the union of the task labels and extra, preserving order.
func (t Task) WithLabels(extra ...string) []string {
	out := make([]string, 0, len(t.Labels)+len(extra))
	seen := make(map[string]bool, len(t.Labels)+len(extra))
	for _, l := range append(append([]string{}, t.Labels...), extra...) {
		key := strings.ToLower(l)
		if l == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

// TaskDraft is a validated candidate task that has not been created yet.
type TaskDraft struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}
