package validate

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// FeaturePartition splits candidate features into accepted and discarded entries.
type FeaturePartition struct {
	Valid   []models.Feature
	Invalid []Rejected
}

// PartitionFeatures accepts objects with a non-empty title. Missing priorities
// follow list order, unknown statuses become open, and repeated titles are dropped.
func PartitionFeatures(items []any) FeaturePartition {
	var p FeaturePartition
	seen := make(map[string]bool)

	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			p.Invalid = append(p.Invalid, Rejected{Index: i, Value: item, Reason: fmt.Sprintf("not an object (%T)", item)})
			continue
		}
		title, _ := obj["title"].(string)
		title = strings.TrimSpace(title)
		if title == "" {
			p.Invalid = append(p.Invalid, Rejected{Index: i, Value: item, Reason: "missing title"})
			continue
		}
		key := strings.ToLower(title)
		if seen[key] {
			p.Invalid = append(p.Invalid, Rejected{Index: i, Value: item, Reason: "duplicate title"})
			continue
		}
		seen[key] = true

		priority := len(p.Valid) + 1
		if n, ok := obj["priority"].(float64); ok && n >= 1 {
			priority = int(n)
		}
		status := models.FeatureStatus(text(obj["status"]))
		if !status.Valid() {
			status = models.FeatureStatusOpen
		}

		p.Valid = append(p.Valid, models.Feature{
			Title:       title,
			Description: text(obj["description"]),
			Priority:    priority,
			Status:      status,
		})
	}
	return p
}
