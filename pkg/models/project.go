package models

// FeatureStatus tracks the advisory progress of a feature.
type FeatureStatus string

const (
	// FeatureStatusOpen indicates no work has been attempted.
	FeatureStatusOpen FeatureStatus = "open"
	// FeatureStatusInProgress indicates planning rounds have started.
	FeatureStatusInProgress FeatureStatus = "in-progress"
	// FeatureStatusDone indicates every task created for the feature was closed.
	FeatureStatusDone FeatureStatus = "done"
)

// Valid returns true if the status is a known value.
func (s FeatureStatus) Valid() bool {
	switch s {
	case FeatureStatusOpen, FeatureStatusInProgress, FeatureStatusDone:
		return true
	default:
		return false
	}
}

// Feature is a coarse product capability derived from the project description.
type Feature struct {
	// Title identifies the feature; it is also the idempotency scope for its tasks.
	Title string `json:"title"`
	// Description gives the model context when generating tasks.
	Description string `json:"description,omitempty"`
	// Priority orders features, 1 being the highest.
	Priority int `json:"priority"`
	// Status is advisory and only updated by the manager.
	Status FeatureStatus `json:"status"`
	// TaskIDs lists tasks created for this feature.
	TaskIDs []int `json:"task_ids,omitempty"`
}

// ProjectState is the durable record of a run.
// Only the manager writes it; the feature list is append-only within a run.
type ProjectState struct {
	Description string    `json:"description"`
	Features    []Feature `json:"features"`
}

// Feature returns a pointer to the feature with the given title, or nil.
func (p *ProjectState) Feature(title string) *Feature {
	for i := range p.Features {
		if p.Features[i].Title == title {
			return &p.Features[i]
		}
	}
	return nil
}

// Counts returns the number of features per status.
func (p *ProjectState) Counts() map[FeatureStatus]int {
	counts := make(map[FeatureStatus]int)
	for _, f := range p.Features {
		counts[f.Status]++
	}
	return counts
}
