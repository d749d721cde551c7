// Package validate filters model-produced records before they reach the tracker
// or the dispatcher. Every function here is pure.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// Rejected describes an entry that failed validation.
type Rejected struct {
	Index  int
	Value  any
	Reason string
}

// TaskPartition splits candidate tasks into usable drafts and discards.
type TaskPartition struct {
	Valid   []models.TaskDraft
	Invalid []Rejected
}

// PartitionTasks keeps entries that are objects with a non-empty string title
// and a labels array of strings (possibly empty). Input order is preserved.
func PartitionTasks(items []any) TaskPartition {
	var p TaskPartition
	for i, item := range items {
		draft, reason := taskDraft(item)
		if reason != "" {
			p.Invalid = append(p.Invalid, Rejected{Index: i, Value: item, Reason: reason})
			continue
		}
		p.Valid = append(p.Valid, draft)
	}
	return p
}

func taskDraft(item any) (models.TaskDraft, string) {
	obj, ok := item.(map[string]any)
	if !ok {
		return models.TaskDraft{}, fmt.Sprintf("not an object (%T)", item)
	}

	title, ok := obj["title"].(string)
	if !ok || strings.TrimSpace(title) == "" {
		return models.TaskDraft{}, "missing title"
	}

	rawLabels, present := obj["labels"]
	if !present {
		return models.TaskDraft{}, "missing labels"
	}
	labels, reason := stringList(rawLabels)
	if reason != "" {
		return models.TaskDraft{}, "labels " + reason
	}

	return models.TaskDraft{
		Title:  strings.TrimSpace(title),
		Body:   text(obj["body"]),
		Labels: labels,
	}, ""
}

func stringList(v any) ([]string, string) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Sprintf("is not a list (%T)", v)
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Sprintf("contains a non-string entry (%T)", e)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, ""
}

// text renders an optional free-form field. Structured values are kept as JSON.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
