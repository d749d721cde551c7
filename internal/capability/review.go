package capability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ShayCichocki/crew/internal/dispatch"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/qa"
	"github.com/ShayCichocki/crew/internal/state"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/pkg/models"
)

// Review runs one QA pass over the open tasks whenever a qa step is dispatched.
type Review struct {
	loop       *qa.Loop
	tracker    tracker.Tracker
	store      state.QAStore
	reportPath string
	log        *slog.Logger
}

// NewReview returns the QA handler. store and reportPath are optional.
func NewReview(loop *qa.Loop, t tracker.Tracker, store state.QAStore, reportPath string, logger *slog.Logger) *Review {
	return &Review{
		loop:       loop,
		tracker:    t,
		store:      store,
		reportPath: reportPath,
		log:        logging.Component(logger, "review"),
	}
}

// Run reviews every pending task. The step's task is outstanding when its
// check failed; when it was not reviewed, any failure in the pass counts.
func (r *Review) Run(ctx context.Context, task models.Task, rc dispatch.RunContext) (*dispatch.Result, error) {
	open, err := r.tracker.ListOpenTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open tasks: %w", err)
	}

	report := r.loop.Pass(ctx, open)
	if r.reportPath != "" {
		if err := qa.WriteReport(r.reportPath, report); err != nil {
			r.log.Warn("failed to write qa report", "path", r.reportPath, "error", err)
		}
	}
	r.persist(rc.RunID, report)

	res := &dispatch.Result{
		Detail: fmt.Sprintf("%d passed, %d failed, %d skipped", report.Passed, report.Failed, report.Skipped),
	}
	if tr, ok := report.Result(task.ID); ok {
		res.Artifact = tr.Artifact
		res.Outstanding = tr.Outstanding()
	} else {
		res.Outstanding = report.Failed > 0
	}
	return res, nil
}

func (r *Review) persist(runID string, report *qa.Report) {
	if r.store == nil {
		return
	}
	for _, tr := range report.Results {
		err := r.store.RecordQAResult(state.QAResult{
			RunID:        runID,
			TaskID:       tr.TaskID,
			State:        string(tr.State),
			Passed:       tr.Passed,
			ExitCode:     tr.ExitCode,
			DefectTaskID: tr.DefectTaskID,
			Detail:       tr.Error,
		})
		if err != nil {
			r.log.Warn("failed to record qa result", "task", tr.TaskID, "error", err)
		}
	}
}
