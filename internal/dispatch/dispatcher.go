package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/pkg/models"
)

// Outcome is the result of one dispatch. Failures are carried here, never returned.
type Outcome struct {
	Capability string
	TaskID     int
	Result     *Result
	Err        error
	// Diagnosis is the generator's probable cause and remedy for Err.
	Diagnosis string
	Duration  time.Duration
}

// OK reports whether the handler ran without error.
func (o Outcome) OK() bool { return o.Err == nil }

// Outstanding reports whether the handler left work for the task.
func (o Outcome) Outstanding() bool {
	return o.Err != nil || (o.Result != nil && o.Result.Outstanding)
}

// Dispatcher runs handlers inside a fault boundary.
type Dispatcher struct {
	registry  Registry
	diagnoser llm.Generator
	logger    *slog.Logger
}

// New returns a Dispatcher. diagnoser may be nil, in which case failures are only logged.
func New(registry Registry, diagnoser llm.Generator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		diagnoser: diagnoser,
		logger:    logging.Component(logger, "dispatch"),
	}
}

// Dispatch resolves name and runs its handler for task.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, task models.Task, rc RunContext) Outcome {
	start := time.Now()
	out := Outcome{Capability: name, TaskID: task.ID}
	log := d.logger.With("capability", name, "task", task.ID)

	handler, err := d.resolve(name)
	if err == nil {
		log.Info("dispatching", "title", task.Title, "round", rc.Round)
		out.Result, err = d.run(ctx, handler, task, rc)
	}
	out.Err = err
	out.Duration = time.Since(start)

	if err == nil {
		log.Info("handler finished", "artifact", artifactOf(out.Result), "outstanding", out.Outstanding(), "duration", out.Duration)
		return out
	}

	log.Error("handler failed", "error", err, "duration", out.Duration)
	if ctx.Err() != nil {
		return out
	}
	out.Diagnosis = d.diagnose(ctx, name, task, err)
	if out.Diagnosis != "" {
		log.Info("diagnosis", "suggestion", out.Diagnosis)
	}
	return out
}

func (d *Dispatcher) resolve(name string) (Handler, error) {
	c, err := models.ParseCapability(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	return d.registry.Resolve(c)
}

func (d *Dispatcher) run(ctx context.Context, h Handler, task models.Task, rc RunContext) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Run(ctx, task, rc)
}

func (d *Dispatcher) diagnose(ctx context.Context, name string, task models.Task, cause error) string {
	if d.diagnoser == nil {
		return ""
	}
	text, err := d.diagnoser.Generate(ctx, DiagnosisPrompt(name, task, cause))
	if err != nil {
		d.logger.Warn("diagnosis request failed", "capability", name, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// DiagnosisPrompt asks for the probable cause of a handler failure and a remedy.
func DiagnosisPrompt(capability string, task models.Task, cause error) string {
	var b strings.Builder
	b.WriteString("An automated capability handler failed while working on a task.\n\n")
	fmt.Fprintf(&b, "Capability: %s\n", capability)
	fmt.Fprintf(&b, "Task: #%d %s\n", task.ID, task.Title)
	fmt.Fprintf(&b, "Error: %v\n\n", cause)
	b.WriteString("What is the most likely cause, and how can it be fixed? Answer in a few sentences.")
	return b.String()
}

func artifactOf(r *Result) string {
	if r == nil {
		return ""
	}
	return r.Artifact
}
