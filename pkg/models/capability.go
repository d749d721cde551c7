package models

import (
	"fmt"
	"strings"
)

// Capability identifies a handler that can act on a task.
// The set is closed; planner and manager are orchestration roles, not capabilities.
type Capability string

const (
	// CapabilityFrontend produces user-facing source artifacts.
	CapabilityFrontend Capability = "frontend"
	// CapabilityBackend produces service-side source artifacts and API docs.
	CapabilityBackend Capability = "backend"
	// CapabilityQA verifies produced artifacts.
	CapabilityQA Capability = "qa"
	// CapabilityDevOps cuts releases.
	CapabilityDevOps Capability = "devops"
)

// Valid returns true if the capability is a known value.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityFrontend, CapabilityBackend, CapabilityQA, CapabilityDevOps:
		return true
	default:
		return false
	}
}

// AllCapabilities returns every capability in dispatch order.
func AllCapabilities() []Capability {
	return []Capability{CapabilityFrontend, CapabilityBackend, CapabilityQA, CapabilityDevOps}
}

// ParseCapability converts a name into a Capability.
// Names produced by a model are often capitalised ("QA", "Backend"), so matching is case-insensitive.
func ParseCapability(name string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(name)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown capability %q", name)
	}
	return c, nil
}

// PlanStep is one dispatch decision produced by the planner.
// Steps are consumed immediately and never persisted.
type PlanStep struct {
	// Capability is the handler that should act.
	Capability Capability `json:"capability"`
	// TaskID references an open task in the snapshot the plan was built from.
	TaskID int `json:"task_id"`
}

// String renders the step for logs.
func (s PlanStep) String() string {
	return fmt.Sprintf("%s -> #%d", s.Capability, s.TaskID)
}
