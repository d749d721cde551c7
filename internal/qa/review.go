package qa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShayCichocki/crew/internal/extract"
	"github.com/ShayCichocki/crew/internal/validate"
	"github.com/ShayCichocki/crew/pkg/models"
)

// Review runs one verification cycle for task.
//
// Failures to locate the artifact or to produce a check leave the task
// Pending. A check that cannot be executed counts as a failing check.
// Tracker errors during escalation are logged and recorded on the result,
// but never abort the escalation itself.
func (l *Loop) Review(ctx context.Context, task models.Task) (res TaskResult) {
	start := time.Now()
	res = TaskResult{TaskID: task.ID, Title: task.Title, State: StatePending}
	defer func() { res.Duration = time.Since(start) }()

	log := l.log.With("task", task.ID)

	artifactPath, code, err := l.locate(ctx, task)
	res.Artifact = artifactPath
	if err != nil {
		log.Warn("artifact unavailable", "path", artifactPath, "error", err)
		res.Error = err.Error()
		return res
	}

	testCode, err := l.generateCheck(ctx, task, artifactPath, code)
	if err != nil {
		log.Warn("check generation failed", "error", err)
		res.Error = err.Error()
		return res
	}

	testFile := l.TestPath(task.Title)
	if err := writeFile(testFile, testCode); err != nil {
		log.Error("failed to write check", "path", testFile, "error", err)
		res.Error = err.Error()
		return res
	}
	res.TestFile = testFile
	res.State = StateCheckGenerated

	run, err := l.deps.Runner.Run(ctx, l.cfg.WorkDir, l.cfg.Timeout)
	if ctx.Err() != nil {
		res.Error = ctx.Err().Error()
		return res
	}
	res.State = StateCheckRun

	output := ""
	if err != nil {
		output = err.Error()
		res.ExitCode = -1
	} else {
		output = run.Output
		res.Passed = run.Passed
		res.ExitCode = run.ExitCode
		res.TimedOut = run.TimedOut
		res.Summary = run.Summary
	}
	res.Output = Excerpt(output, l.cfg.DefectExcerpt)

	if res.Passed {
		log.Info("check passed", "exit_code", res.ExitCode)
		if err := l.deps.Tracker.CloseTask(ctx, task.ID); err != nil {
			log.Error("failed to close task", "error", err)
			res.Error = err.Error()
		}
		res.State = StateResolved
		return res
	}

	log.Info("check failed", "exit_code", res.ExitCode, "timed_out", res.TimedOut)
	defectID, errs := l.escalate(ctx, task, output)
	res.DefectTaskID = defectID
	res.State = StateEscalated
	if len(errs) > 0 {
		res.Error = errors.Join(errs...).Error()
	}
	return res
}

// locate finds the artifact for task: first the recorded path, then the naming convention.
func (l *Loop) locate(ctx context.Context, task models.Task) (string, string, error) {
	var candidates []string
	if l.deps.Index != nil {
		p, ok, err := l.deps.Index.ArtifactFor(task.ID)
		if err != nil {
			l.log.Warn("artifact index lookup failed", "task", task.ID, "error", err)
		} else if ok {
			candidates = append(candidates, p)
		}
	}
	conventional := l.ArtifactPath(task.Title)
	if len(candidates) == 0 || candidates[0] != conventional {
		candidates = append(candidates, conventional)
	}

	var lastErr error
	for _, p := range candidates {
		text, found, err := l.deps.Artifacts.GetArtifact(ctx, p)
		if err != nil {
			lastErr = err
			continue
		}
		if found {
			return p, text, nil
		}
	}
	if lastErr != nil {
		return candidates[len(candidates)-1], "", fmt.Errorf("%w: %v", ErrArtifactNotFound, lastErr)
	}
	return candidates[len(candidates)-1], "", ErrArtifactNotFound
}

func (l *Loop) generateCheck(ctx context.Context, task models.Task, artifactPath, code string) (string, error) {
	raw, err := l.deps.Generator.Generate(ctx, testPrompt(l.cfg.Language, task.Title, artifactPath, code))
	if err != nil {
		return "", fmt.Errorf("generate check: %w", err)
	}
	testCode := extract.CodeBlock(raw, l.cfg.Language)
	if testCode == "" {
		return "", errors.New("generate check: empty response")
	}
	return testCode, nil
}

// escalate comments on task, files exactly one defect task and relabels task.
func (l *Loop) escalate(ctx context.Context, task models.Task, output string) (int, []error) {
	var errs []error
	log := l.log.With("task", task.ID)

	if err := l.deps.Tracker.Comment(ctx, task.ID, failureComment(Excerpt(output, l.cfg.CommentExcerpt))); err != nil {
		log.Error("failed to comment", "error", err)
		errs = append(errs, fmt.Errorf("comment: %w", err))
	}

	draft := l.defectDraft(ctx, task, output)
	defectID := 0
	created, err := l.deps.Tracker.CreateTask(ctx, draft)
	if err != nil {
		log.Error("failed to file defect", "error", err)
		errs = append(errs, fmt.Errorf("create defect: %w", err))
	} else {
		defectID = created.ID
		log.Info("defect filed", "defect", created.ID, "title", created.Title)
	}

	if err := l.deps.Tracker.UpdateLabels(ctx, task.ID, task.WithLabels(models.LabelReview, models.LabelDefective)); err != nil {
		log.Error("failed to relabel", "error", err)
		errs = append(errs, fmt.Errorf("relabel: %w", err))
	}
	return defectID, errs
}

// defectDraft asks the generator for a defect task and falls back to a
// deterministic one when extraction or validation fails.
func (l *Loop) defectDraft(ctx context.Context, task models.Task, output string) models.TaskDraft {
	excerpt := Excerpt(output, l.cfg.DefectExcerpt)
	reference := fmt.Sprintf("Found while verifying #%d.", task.ID)

	if l.deps.Extractor != nil {
		obj, err := l.deps.Extractor.ExtractObject(ctx, defectPrompt(task, excerpt))
		if err == nil {
			part := validate.PartitionTasks([]any{obj})
			if len(part.Valid) == 1 {
				d := part.Valid[0]
				d.Labels = models.Task{Labels: d.Labels}.WithLabels(models.LabelDefective)
				d.Body = strings.TrimSpace(d.Body + "\n\n" + reference)
				return d
			}
			l.log.Warn("defect draft rejected", "task", task.ID, "reason", part.Invalid[0].Reason)
		} else {
			l.log.Warn("defect synthesis failed", "task", task.ID, "error", err)
		}
	}

	return models.TaskDraft{
		Title:  "Failing check: " + task.Title,
		Body:   fmt.Sprintf("The automated check for #%d failed.\n\n```\n%s\n```\n\n%s", task.ID, excerpt, reference),
		Labels: []string{models.LabelDefective},
	}
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create test dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		return fmt.Errorf("write test file: %w", err)
	}
	return nil
}
