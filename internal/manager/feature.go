package manager

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/crew/internal/dispatch"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/pkg/models"
)

// processFeature runs TaskGeneration, IssueCreation, the planning rounds and
// the Save checkpoint for one feature.
func (m *Manager) processFeature(ctx context.Context, ps *models.ProjectState, f *models.Feature) error {
	log := m.log.With("feature", f.Title)
	log.Info("processing feature", "priority", f.Priority)
	m.emit(Event{Type: EventFeatureStarted, Feature: f.Title})
	f.Status = models.FeatureStatusInProgress

	open, err := m.req.Tracker.ListOpenTasks(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return m.boundary(ctx, ps)
		}
		log.Error("failed to list open tasks", "error", err)
	}

	if m.opts.designProposals && len(f.TaskIDs) == 0 {
		task, err := m.req.Planner.ProposeDesign(ctx, *f)
		if err != nil {
			log.Warn("no design proposal", "error", err)
		} else {
			addTaskID(f, task.ID)
			open = append(open, task)
		}
	}

	part, err := m.req.Planner.GenerateTasks(ctx, *f, open)
	if err != nil {
		if ctx.Err() != nil {
			return m.boundary(ctx, ps)
		}
		log.Error("task generation failed", "error", err)
	} else {
		if len(part.Invalid) > 0 {
			log.Warn("invalid tasks discarded", "count", len(part.Invalid))
		}
		m.createTasks(ctx, f, part.Valid, open)
	}

	for round := 1; round <= m.opts.maxRounds; round++ {
		if err := m.boundary(ctx, ps); err != nil {
			return err
		}
		more, err := m.planningRound(ctx, ps, f, round)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	m.settleFeature(ctx, f)
	if err := m.checkpoint(ps); err != nil {
		return err
	}
	if m.opts.summary != nil {
		if _, err := m.opts.summary.Write(ctx, ps); err != nil {
			log.Warn("summary not updated", "error", err)
		}
	}
	return nil
}

// createTasks opens one tracker task per draft unless its idempotency key is
// already known from task front-matter or the key store.
func (m *Manager) createTasks(ctx context.Context, f *models.Feature, drafts []models.TaskDraft, open []models.Task) {
	known := tracker.KeysOf(open)
	created, duplicates := 0, 0

	for _, d := range drafts {
		if ctx.Err() != nil {
			break
		}
		key := tracker.IdempotencyKey(f.Title, d.Title)
		if id, ok := m.lookupKey(known, key); ok {
			m.log.Debug("task already exists", "title", d.Title, "task", id)
			addTaskID(f, id)
			duplicates++
			continue
		}

		d.Body = tracker.WithFrontMatter(d.Body, tracker.Meta{Key: key, Feature: f.Title})
		task, err := m.req.Tracker.CreateTask(ctx, d)
		if err != nil {
			m.log.Error("failed to create task", "title", d.Title, "error", err)
			continue
		}
		known[key] = task.ID
		if m.opts.taskKeys != nil {
			if err := m.opts.taskKeys.RememberTaskKey(key, f.Title, d.Title, task.ID); err != nil {
				m.log.Warn("failed to remember task key", "task", task.ID, "error", err)
			}
		}
		addTaskID(f, task.ID)
		created++
	}

	m.summary.Created += created
	m.summary.Duplicates += duplicates
	m.log.Info("tasks created", "feature", f.Title, "created", created, "duplicates", duplicates)
	m.emit(Event{Type: EventTasksCreated, Feature: f.Title, Count: created})
}

func (m *Manager) lookupKey(known map[string]int, key string) (int, bool) {
	if id, ok := known[key]; ok {
		return id, true
	}
	if m.opts.taskKeys == nil {
		return 0, false
	}
	id, ok, err := m.opts.taskKeys.LookupTaskKey(key)
	if err != nil {
		m.log.Warn("task key lookup failed", "error", err)
		return 0, false
	}
	return id, ok
}

// planningRound snapshots open tasks, plans and dispatches. It reports
// whether another round could make progress.
func (m *Manager) planningRound(ctx context.Context, ps *models.ProjectState, f *models.Feature, round int) (bool, error) {
	log := m.log.With("feature", f.Title, "round", round)
	m.summary.Rounds++
	m.emit(Event{Type: EventRoundStarted, Feature: f.Title, Round: round})

	open, err := m.req.Tracker.ListOpenTasks(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, m.boundary(ctx, ps)
		}
		log.Error("failed to list open tasks", "error", err)
		return true, nil
	}
	if len(open) == 0 {
		log.Info("no open tasks")
		return false, nil
	}

	plan, err := m.req.Planner.Plan(ctx, open)
	if err != nil {
		if ctx.Err() != nil {
			return false, m.boundary(ctx, ps)
		}
		log.Error("no usable plan", "error", err)
		m.emit(Event{Type: EventPlanFailed, Feature: f.Title, Round: round, Error: err})
		return true, nil
	}
	m.emit(Event{Type: EventPlanReady, Feature: f.Title, Round: round, Count: len(plan.Steps)})

	byID := make(map[int]models.Task, len(open))
	for _, t := range open {
		byID[t.ID] = t
	}
	rc := dispatch.RunContext{RunID: m.runID, Feature: *f, Open: open, Round: round}

	for _, step := range plan.Steps {
		if err := m.boundary(ctx, ps); err != nil {
			return false, err
		}
		if err := m.runStep(ctx, ps, step, byID[step.TaskID], rc); err != nil {
			return false, err
		}
	}
	return true, nil
}

// runStep dispatches one plan step. qa steps repeat up to maxRounds times
// while the handler reports outstanding failures.
func (m *Manager) runStep(ctx context.Context, ps *models.ProjectState, step models.PlanStep, task models.Task, rc dispatch.RunContext) error {
	attempts := 1
	if step.Capability == models.CapabilityQA {
		attempts = m.opts.maxRounds
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := m.boundary(ctx, ps); err != nil {
				return err
			}
		}
		m.emit(Event{Type: EventStepStarted, Feature: rc.Feature.Title, Round: rc.Round, Capability: string(step.Capability), TaskID: task.ID})

		out := m.req.Dispatcher.Dispatch(ctx, string(step.Capability), task, rc)
		m.summary.Steps++
		if out.OK() {
			detail := ""
			if out.Result != nil {
				detail = out.Result.Detail
			}
			m.emit(Event{Type: EventStepCompleted, Feature: rc.Feature.Title, Round: rc.Round, Capability: out.Capability, TaskID: task.ID, Message: detail})
		} else {
			m.summary.Failures++
			m.emit(Event{Type: EventStepFailed, Feature: rc.Feature.Title, Round: rc.Round, Capability: out.Capability, TaskID: task.ID, Message: out.Diagnosis, Error: out.Err})
		}

		if step.Capability != models.CapabilityQA || !out.Outstanding() {
			return nil
		}
		m.log.Info("qa reports outstanding failures", "task", task.ID, "attempt", attempt, "of", attempts)
	}
	return nil
}

// settleFeature marks the feature done when all of its tasks are closed and
// otherwise flags it for manual inspection.
func (m *Manager) settleFeature(ctx context.Context, f *models.Feature) {
	open, err := m.req.Tracker.ListOpenTasks(ctx)
	if err != nil {
		m.log.Warn("cannot determine feature status", "feature", f.Title, "error", err)
		open = nil
		if ctx.Err() != nil {
			return
		}
	}
	openIDs := make(map[int]bool, len(open))
	for _, t := range open {
		openIDs[t.ID] = true
	}
	remaining := 0
	for _, id := range f.TaskIDs {
		if openIDs[id] {
			remaining++
		}
	}

	if err == nil && len(f.TaskIDs) > 0 && remaining == 0 {
		f.Status = models.FeatureStatusDone
		m.emit(Event{Type: EventFeatureCompleted, Feature: f.Title})
		return
	}
	msg := fmt.Sprintf("%d of %d task(s) still open; please inspect manually", remaining, len(f.TaskIDs))
	m.log.Warn("feature unresolved", "feature", f.Title, "open", remaining, "tasks", len(f.TaskIDs))
	m.summary.Unresolved = append(m.summary.Unresolved, f.Title)
	m.emit(Event{Type: EventFeatureUnresolved, Feature: f.Title, Count: remaining, Message: msg})
}

func addTaskID(f *models.Feature, id int) {
	for _, existing := range f.TaskIDs {
		if existing == id {
			return
		}
	}
	f.TaskIDs = append(f.TaskIDs, id)
}
