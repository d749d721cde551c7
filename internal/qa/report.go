package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/crew/pkg/models"
)

// Report statuses.
const (
	ReportSuccess = "success"
	ReportFailed  = "failed"
)

// Report summarizes one verification pass.
type Report struct {
	Status     string       `json:"status"`
	Reviewed   int          `json:"reviewed"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Results    []TaskResult `json:"results"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Failures returns the escalated results.
func (r *Report) Failures() []TaskResult {
	var out []TaskResult
	for _, res := range r.Results {
		if res.Outstanding() {
			out = append(out, res)
		}
	}
	return out
}

// Result returns the result recorded for taskID, if any.
func (r *Report) Result(taskID int) (TaskResult, bool) {
	for _, res := range r.Results {
		if res.TaskID == taskID {
			return res, true
		}
	}
	return TaskResult{}, false
}

// Pass reviews every reviewable task in tasks, in order.
// A cancelled context stops the pass; results gathered so far are returned.
func (l *Loop) Pass(ctx context.Context, tasks []models.Task) *Report {
	report := &Report{StartedAt: time.Now().UTC(), Results: []TaskResult{}}
	for _, task := range l.Reviewable(tasks) {
		if ctx.Err() != nil {
			break
		}
		res := l.Review(ctx, task)
		report.Results = append(report.Results, res)
		report.Reviewed++
		switch {
		case res.State == StateResolved:
			report.Passed++
		case res.Outstanding():
			report.Failed++
		default:
			report.Skipped++
		}
	}
	report.FinishedAt = time.Now().UTC()
	report.Status = ReportSuccess
	if report.Failed > 0 {
		report.Status = ReportFailed
	}
	l.log.Info("qa pass complete",
		"reviewed", report.Reviewed,
		"passed", report.Passed,
		"failed", report.Failed,
		"skipped", report.Skipped)
	return report
}

// WriteReport stores report as indented JSON at path.
func WriteReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}
