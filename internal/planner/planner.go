// Package planner turns project and feature descriptions into features, tasks
// and dispatch plans by asking the model for structured output.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ShayCichocki/crew/internal/extract"
	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/internal/validate"
	"github.com/ShayCichocki/crew/pkg/models"
)

// Shapes passed to the extractor for corrective prompts.
const (
	FeatureShape  = `a JSON array of {"title": "...", "description": "...", "priority": 1}`
	TaskShape     = `a JSON array of {"title": "...", "body": "...", "labels": ["frontend"]}`
	PlanShape     = `a JSON array of {"agent": "frontend" | "backend" | "qa" | "devops", "issue_number": int}`
	PriorityShape = `a JSON array of {"number": 23, "priority": 1, "labels": ["frontend"]}`
)

// DesignLabels are applied to design proposal tasks.
var DesignLabels = []string{"design", "frontend", "open"}

// ErrEmptyDesign is returned when every design attempt came back empty.
var ErrEmptyDesign = errors.New("empty design proposal")

// Config bounds planning.
type Config struct {
	MinSteps       int
	MaxSteps       int
	PlanRetries    int
	DesignAttempts int
}

// DefaultConfig returns the standard bounds.
func DefaultConfig() Config {
	return Config{MinSteps: 3, MaxSteps: 5, PlanRetries: 3, DesignAttempts: 10}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSteps <= 0 {
		c.MinSteps = d.MinSteps
	}
	if c.MaxSteps < c.MinSteps {
		c.MaxSteps = max(d.MaxSteps, c.MinSteps)
	}
	if c.PlanRetries <= 0 {
		c.PlanRetries = d.PlanRetries
	}
	if c.DesignAttempts <= 0 {
		c.DesignAttempts = d.DesignAttempts
	}
	return c
}

// Planner produces features, task drafts and plans.
type Planner struct {
	cfg       Config
	extractor *extract.Extractor
	writer    llm.Generator
	tracker   tracker.Tracker
	log       *slog.Logger
}

// New creates a Planner. writer produces free-form design proposals;
// tracker is used by Prioritize and ProposeDesign.
func New(cfg Config, extractor *extract.Extractor, writer llm.Generator, t tracker.Tracker, logger *slog.Logger) *Planner {
	return &Planner{
		cfg:       cfg.withDefaults(),
		extractor: extractor,
		writer:    writer,
		tracker:   t,
		log:       logging.Component(logger, "planner"),
	}
}

// GenerateFeatures derives the feature list for a project description.
func (p *Planner) GenerateFeatures(ctx context.Context, description string) (validate.FeaturePartition, error) {
	p.log.Info("generating feature list")
	items, err := p.extractor.With(extract.WithShape(FeatureShape)).ExtractList(ctx, featurePrompt(description))
	if err != nil {
		return validate.FeaturePartition{}, fmt.Errorf("generate features: %w", err)
	}
	part := validate.PartitionFeatures(items)
	p.logDiscards("feature", part.Invalid)
	return part, nil
}

// GenerateTasks proposes tasks for feature that are not already covered by open.
func (p *Planner) GenerateTasks(ctx context.Context, feature models.Feature, open []models.Task) (validate.TaskPartition, error) {
	p.log.Info("generating tasks", "feature", feature.Title, "open", len(open))
	items, err := p.extractor.With(extract.WithShape(TaskShape)).ExtractList(ctx, taskPrompt(feature, open))
	if err != nil {
		return validate.TaskPartition{}, fmt.Errorf("generate tasks for %q: %w", feature.Title, err)
	}
	part := validate.PartitionTasks(items)
	p.logDiscards("task", part.Invalid)
	return part, nil
}

// Plan asks for the next steps over the open tasks. Structurally malformed
// plans are re-requested up to PlanRetries times. An empty snapshot yields
// an empty plan without a model call.
func (p *Planner) Plan(ctx context.Context, open []models.Task) (*validate.PlanValidation, error) {
	if len(open) == 0 {
		return &validate.PlanValidation{}, nil
	}

	ex := p.extractor.With(extract.WithShape(PlanShape))
	prompt := planPrompt(open, p.cfg.MinSteps, p.cfg.MaxSteps)
	var lastErr error
	for attempt := 1; attempt <= p.cfg.PlanRetries; attempt++ {
		res, err := ex.Extract(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if !errors.Is(err, extract.ErrUnparseableOutput) {
				return nil, fmt.Errorf("plan: %w", err)
			}
		} else {
			plan, err := validate.PlanSteps(res.Value, open, p.cfg.MaxSteps)
			if err == nil {
				p.logDiscards("plan step", plan.Rejected)
				return plan, nil
			}
			lastErr = err
		}
		p.log.Warn("plan attempt failed", "attempt", attempt, "of", p.cfg.PlanRetries, "error", lastErr)
		prompt = planRetryPrompt(open)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", validate.ErrMalformedPlan, p.cfg.PlanRetries, lastErr)
}

// Priority is a prioritisation decision for one task.
type Priority struct {
	TaskID   int
	Priority int
	Labels   []string
}

// Prioritize asks the model to rank open tasks 1 (high) to 3 (low) and
// relabels them with a prioN label. Entries naming unknown tasks are skipped.
func (p *Planner) Prioritize(ctx context.Context) ([]Priority, error) {
	open, err := p.tracker.ListOpenTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}
	if len(open) == 0 {
		p.log.Info("no open tasks to prioritize")
		return nil, nil
	}

	items, err := p.extractor.With(extract.WithShape(PriorityShape)).ExtractList(ctx, priorityPrompt(open))
	if err != nil {
		return nil, fmt.Errorf("prioritize: %w", err)
	}

	byID := make(map[int]models.Task, len(open))
	for _, t := range open {
		byID[t.ID] = t
	}

	var out []Priority
	for _, item := range items {
		pr, ok := parsePriority(item)
		if !ok {
			p.log.Warn("discarding priority entry", "entry", item)
			continue
		}
		task, ok := byID[pr.TaskID]
		if !ok {
			p.log.Warn("priority for unknown task", "task", pr.TaskID)
			continue
		}
		if len(pr.Labels) == 0 {
			pr.Labels = task.Labels
		}
		pr.Labels = withPriorityLabel(pr.Labels, pr.Priority)
		if err := p.tracker.UpdateLabels(ctx, pr.TaskID, pr.Labels); err != nil {
			p.log.Error("failed to update labels", "task", pr.TaskID, "error", err)
			continue
		}
		p.log.Info("task prioritized", "task", pr.TaskID, "labels", pr.Labels)
		out = append(out, pr)
	}
	return out, nil
}

// ProposeDesign asks for a markdown design proposal and files it as a task.
// Empty responses are retried up to DesignAttempts times.
func (p *Planner) ProposeDesign(ctx context.Context, feature models.Feature) (models.Task, error) {
	prompt := designPrompt(feature)
	for attempt := 1; attempt <= p.cfg.DesignAttempts; attempt++ {
		raw, err := p.writer.Generate(ctx, prompt)
		if err != nil {
			return models.Task{}, fmt.Errorf("design proposal for %q: %w", feature.Title, err)
		}
		body := strings.TrimSpace(raw)
		if body == "" {
			p.log.Warn("empty design proposal", "attempt", attempt, "of", p.cfg.DesignAttempts)
			continue
		}
		task, err := p.tracker.CreateTask(ctx, models.TaskDraft{
			Title:  "Design proposal: " + feature.Title,
			Body:   body,
			Labels: append([]string{}, DesignLabels...),
		})
		if err != nil {
			return models.Task{}, fmt.Errorf("create design task: %w", err)
		}
		p.log.Info("design proposal filed", "task", task.ID, "feature", feature.Title)
		return task, nil
	}
	return models.Task{}, fmt.Errorf("%w for %q", ErrEmptyDesign, feature.Title)
}

func (p *Planner) logDiscards(kind string, rejected []validate.Rejected) {
	if len(rejected) == 0 {
		return
	}
	p.log.Warn("discarded invalid entries", "kind", kind, "count", len(rejected))
	for _, r := range rejected {
		p.log.Debug("discarded entry", "kind", kind, "index", r.Index, "reason", r.Reason)
	}
}

func parsePriority(item any) (Priority, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return Priority{}, false
	}
	number, ok := obj["number"].(float64)
	if !ok {
		number, ok = obj["task_id"].(float64)
	}
	if !ok || number < 1 {
		return Priority{}, false
	}
	prio, _ := obj["priority"].(float64)
	if prio < 1 || prio > 3 {
		return Priority{}, false
	}
	var labels []string
	if list, ok := obj["labels"].([]any); ok {
		for _, l := range list {
			if s, ok := l.(string); ok && strings.TrimSpace(s) != "" {
				labels = append(labels, strings.TrimSpace(s))
			}
		}
	}
	return Priority{TaskID: int(number), Priority: int(prio), Labels: labels}, true
}

// withPriorityLabel replaces any prioN label with the one for prio.
func withPriorityLabel(labels []string, prio int) []string {
	want := fmt.Sprintf("prio%d", prio)
	out := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		if isPriorityLabel(l) {
			continue
		}
		out = append(out, l)
	}
	return append(out, want)
}

func isPriorityLabel(l string) bool {
	l = strings.ToLower(l)
	return len(l) == 5 && strings.HasPrefix(l, "prio") && l[4] >= '0' && l[4] <= '9'
}
