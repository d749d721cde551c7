package manager

import (
	"context"
	"log/slog"

	"github.com/ShayCichocki/crew/internal/dispatch"
	"github.com/ShayCichocki/crew/internal/state"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/internal/validate"
	"github.com/ShayCichocki/crew/pkg/models"
)

// Planner produces features, tasks and plans. *planner.Planner implements it.
type Planner interface {
	GenerateFeatures(ctx context.Context, description string) (validate.FeaturePartition, error)
	GenerateTasks(ctx context.Context, feature models.Feature, open []models.Task) (validate.TaskPartition, error)
	Plan(ctx context.Context, open []models.Task) (*validate.PlanValidation, error)
	ProposeDesign(ctx context.Context, feature models.Feature) (models.Task, error)
}

// Dispatcher runs plan steps. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, task models.Task, rc dispatch.RunContext) dispatch.Outcome
}

// SummaryWriter regenerates the project summary artifact.
type SummaryWriter interface {
	Write(ctx context.Context, ps *models.ProjectState) (string, error)
}

// Signals reports operator stop and pause requests. *signals.Watcher implements it.
type Signals interface {
	ShouldStop() bool
	WaitWhilePaused(ctx context.Context) bool
}

// RequiredConfig contains the collaborators a Manager cannot run without.
type RequiredConfig struct {
	Planner    Planner
	Dispatcher Dispatcher
	Tracker    tracker.Tracker
	Store      state.ProjectStateStore
}

// DefaultMaxRounds bounds planning rounds per feature and QA repeats per step.
const DefaultMaxRounds = 3

// Option configures a Manager. Use With* functions to create Options.
type Option func(*managerOptions)

type managerOptions struct {
	maxRounds       int
	designProposals bool
	eventBuffer     int
	ledger          state.RunLedger
	taskKeys        state.TaskKeyStore
	summary         SummaryWriter
	signals         Signals
	logger          *slog.Logger
	newRunID        func() string
}

// WithMaxRounds sets the planning and QA round bound.
func WithMaxRounds(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithDesignProposals files a design proposal task before each new feature's tasks.
func WithDesignProposals(enabled bool) Option {
	return func(o *managerOptions) { o.designProposals = enabled }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithLedger records runs in l.
func WithLedger(l state.RunLedger) Option {
	return func(o *managerOptions) { o.ledger = l }
}

// WithTaskKeys de-duplicates task creation through ks in addition to task front-matter.
func WithTaskKeys(ks state.TaskKeyStore) Option {
	return func(o *managerOptions) { o.taskKeys = ks }
}

// WithSummary regenerates the README after each feature.
func WithSummary(s SummaryWriter) Option {
	return func(o *managerOptions) { o.summary = s }
}

// WithSignals honours stop and pause requests at step boundaries.
func WithSignals(s Signals) Option {
	return func(o *managerOptions) { o.signals = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// WithRunIDFunc replaces the run id generator.
func WithRunIDFunc(f func() string) Option {
	return func(o *managerOptions) { o.newRunID = f }
}
