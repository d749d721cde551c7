// Package manager drives a project from description to tracked, implemented
// and verified tasks.
//
// A run moves through Init, FeatureGeneration and, per feature, TaskGeneration,
// IssueCreation, a bounded number of PlanningRounds and a Save checkpoint.
// Failures inside a feature are logged and reported as events; only context
// cancellation, a stop signal or a failed checkpoint end a run early.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/state"
	"github.com/ShayCichocki/crew/pkg/models"
)

// ErrNoFeatures is returned when the project has no features and none could be generated.
var ErrNoFeatures = errors.New("no features")

// ErrStopped is wrapped into the error returned when a stop signal ends a run.
var ErrStopped = errors.New("stopped by signal")

// Summary describes a finished run.
type Summary struct {
	RunID      string
	Status     state.RunStatus
	Features   int
	Rounds     int
	Steps      int
	Failures   int
	Created    int
	Duplicates int
	Unresolved []string
	Duration   time.Duration
}

// Manager runs the control loop. A Manager performs a single run.
type Manager struct {
	req    RequiredConfig
	opts   managerOptions
	log    *slog.Logger
	events *EventEmitter

	runID   string
	summary Summary
}

// New validates the configuration and returns a Manager.
func New(req RequiredConfig, opts ...Option) (*Manager, error) {
	switch {
	case req.Planner == nil:
		return nil, errors.New("manager: planner is required")
	case req.Dispatcher == nil:
		return nil, errors.New("manager: dispatcher is required")
	case req.Tracker == nil:
		return nil, errors.New("manager: tracker is required")
	case req.Store == nil:
		return nil, errors.New("manager: project state store is required")
	}

	o := managerOptions{
		maxRounds:   DefaultMaxRounds,
		eventBuffer: 256,
		newRunID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.Component(o.logger, "manager")
	return &Manager{
		req:    req,
		opts:   o,
		log:    log,
		events: NewEventEmitter(o.eventBuffer, log),
	}, nil
}

// Events returns the event stream. The channel is closed when Run returns.
func (m *Manager) Events() <-chan Event {
	return m.events.Events()
}

// Run executes the control loop for description. A stored project state
// takes precedence; description seeds a new project.
func (m *Manager) Run(ctx context.Context, description string) (*Summary, error) {
	defer m.events.Close()

	start := time.Now()
	m.runID = m.opts.newRunID()
	m.summary = Summary{RunID: m.runID, Status: state.RunRunning}
	run := &state.Run{ID: m.runID, Description: description, Status: state.RunRunning, StartedAt: start}
	if m.opts.ledger != nil {
		if err := m.opts.ledger.StartRun(run); err != nil {
			m.log.Warn("failed to record run start", "error", err)
		}
	}
	m.emit(Event{Type: EventRunStarted, Message: description})

	err := m.run(ctx, description)

	m.summary.Duration = time.Since(start)
	switch {
	case err == nil:
		m.summary.Status = state.RunCompleted
		m.emit(Event{Type: EventRunDone, Message: fmt.Sprintf("%d feature(s), %d round(s)", m.summary.Features, m.summary.Rounds)})
	case errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		m.summary.Status = state.RunStopped
		m.emit(Event{Type: EventRunStopped, Error: err})
	default:
		m.summary.Status = state.RunFailed
		m.emit(Event{Type: EventRunFailed, Error: err})
	}

	if m.opts.ledger != nil {
		run.Status = m.summary.Status
		run.Features = m.summary.Features
		run.Rounds = m.summary.Rounds
		if err != nil {
			run.Error = err.Error()
		}
		if lerr := m.opts.ledger.FinishRun(run); lerr != nil {
			m.log.Warn("failed to record run end", "error", lerr)
		}
	}
	m.log.Info("run finished",
		"run", m.runID,
		"status", m.summary.Status,
		"features", m.summary.Features,
		"rounds", m.summary.Rounds,
		"steps", m.summary.Steps,
		"failures", m.summary.Failures,
		"duration", m.summary.Duration)

	result := m.summary
	return &result, err
}

func (m *Manager) run(ctx context.Context, description string) error {
	ps, found, err := m.req.Store.Load()
	if err != nil {
		return fmt.Errorf("load project state: %w", err)
	}
	if ps.Description == "" {
		ps.Description = description
	} else if description != "" && description != ps.Description {
		m.log.Warn("stored project description differs, keeping stored one")
	}
	m.log.Info("project state loaded", "found", found, "features", len(ps.Features))

	if len(ps.Features) == 0 {
		if err := m.generateFeatures(ctx, ps); err != nil {
			return err
		}
	}
	m.emit(Event{Type: EventProjectLoaded, Count: len(ps.Features), Message: ps.Description})

	for _, idx := range featureOrder(ps.Features) {
		if err := m.boundary(ctx, ps); err != nil {
			return err
		}
		feature := &ps.Features[idx]
		if feature.Status == models.FeatureStatusDone {
			m.log.Info("skipping finished feature", "feature", feature.Title)
			continue
		}
		if err := m.processFeature(ctx, ps, feature); err != nil {
			return err
		}
		m.summary.Features++
	}
	return nil
}

func (m *Manager) generateFeatures(ctx context.Context, ps *models.ProjectState) error {
	if ps.Description == "" {
		return fmt.Errorf("%w: project description is empty", ErrNoFeatures)
	}
	part, err := m.req.Planner.GenerateFeatures(ctx, ps.Description)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrNoFeatures, err)
	}
	if len(part.Valid) == 0 {
		return fmt.Errorf("%w: all %d generated entries were invalid", ErrNoFeatures, len(part.Invalid))
	}
	ps.Features = part.Valid
	if err := m.checkpoint(ps); err != nil {
		return err
	}
	m.emit(Event{Type: EventFeaturesGenerated, Count: len(ps.Features)})
	return nil
}

// boundary honours pause, stop and cancellation between steps. Stopping saves first.
func (m *Manager) boundary(ctx context.Context, ps *models.ProjectState) error {
	stop := false
	if m.opts.signals != nil {
		stop = m.opts.signals.WaitWhilePaused(ctx) || m.opts.signals.ShouldStop()
	}
	if !stop && ctx.Err() == nil {
		return nil
	}
	if err := m.checkpoint(ps); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrStopped
}

func (m *Manager) checkpoint(ps *models.ProjectState) error {
	if err := m.req.Store.Save(ps); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	m.emit(Event{Type: EventCheckpoint})
	return nil
}

func (m *Manager) emit(e Event) {
	e.RunID = m.runID
	m.events.Emit(e)
}

// featureOrder returns feature indexes by ascending priority, stable on list order.
func featureOrder(features []models.Feature) []int {
	idx := make([]int, len(features))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return features[idx[a]].Priority < features[idx[b]].Priority
	})
	return idx
}
