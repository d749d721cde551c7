// Package dispatch routes plan steps to capability handlers and isolates their failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/crew/pkg/models"
)

var (
	// ErrUnknownCapability is reported for capability names outside the closed set.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrNoHandler is reported when a known capability has no handler registered.
	ErrNoHandler = errors.New("no handler registered")
)

// RunContext is the planning-round context handed to a handler.
type RunContext struct {
	RunID   string
	Feature models.Feature
	// Open is the open-task snapshot the plan was made from.
	Open  []models.Task
	Round int
}

// Result reports what a handler produced.
type Result struct {
	// Artifact is the repository-relative path written, if any.
	Artifact string
	// Outstanding is set when work for the task remains, e.g. a failed check.
	Outstanding bool
	Detail      string
}

// Handler fulfils one capability for one task.
type Handler interface {
	Run(ctx context.Context, task models.Task, rc RunContext) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task models.Task, rc RunContext) (*Result, error)

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, task models.Task, rc RunContext) (*Result, error) {
	return f(ctx, task, rc)
}

// Registry holds one handler per capability.
type Registry struct {
	Frontend Handler
	Backend  Handler
	QA       Handler
	DevOps   Handler
}

// Resolve returns the handler for c.
func (r Registry) Resolve(c models.Capability) (Handler, error) {
	var h Handler
	switch c {
	case models.CapabilityFrontend:
		h = r.Frontend
	case models.CapabilityBackend:
		h = r.Backend
	case models.CapabilityQA:
		h = r.QA
	case models.CapabilityDevOps:
		h = r.DevOps
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, string(c))
	}
	if h == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoHandler, c)
	}
	return h, nil
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}
