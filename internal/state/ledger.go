package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/crew/internal/llm"
)

// RunStatus is the lifecycle state of a manager run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped"
	RunFailed    RunStatus = "failed"
)

// Run is one invocation of the manager control loop.
type Run struct {
	ID          string
	Description string
	Status      RunStatus
	Features    int
	Rounds      int
	Error       string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// StartRun records a new run in the running state.
func (db *DB) StartRun(r *Run) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO runs (id, description, status, features, rounds, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Description, string(r.Status), r.Features, r.Rounds, formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stores the final status, counters and error of a run.
func (db *DB) FinishRun(r *Run) error {
	now := time.Now()
	r.FinishedAt = &now
	_, err := db.Exec(`
		UPDATE runs SET status = ?, features = ?, rounds = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(r.Status), r.Features, r.Rounds, r.Error, formatTime(now), r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	rows, err := db.Query(`
		SELECT id, description, status, features, rounds, COALESCE(error, ''), started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Description, &r.Status, &r.Features, &r.Rounds, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = parseTime(started)
		r.FinishedAt = parseNullableTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Record implements llm.Recorder; interactions are only ever inserted.
func (db *DB) Record(_ context.Context, in llm.Interaction) error {
	if in.Time.IsZero() {
		in.Time = time.Now()
	}
	var errText sql.NullString
	if in.Err != "" {
		errText = sql.NullString{String: in.Err, Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO interactions (agent, prompt, response, error, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, in.Agent, in.Prompt, in.Response, errText, formatTime(in.Time))
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// InteractionCounts returns the number of recorded interactions per agent.
func (db *DB) InteractionCounts() (map[string]int, error) {
	rows, err := db.Query(`SELECT agent, COUNT(*) FROM interactions GROUP BY agent`)
	if err != nil {
		return nil, fmt.Errorf("count interactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var agent string
		var n int
		if err := rows.Scan(&agent, &n); err != nil {
			return nil, fmt.Errorf("scan interaction count: %w", err)
		}
		counts[agent] = n
	}
	return counts, rows.Err()
}

// LookupTaskKey returns the task created for an idempotency key.
func (db *DB) LookupTaskKey(key string) (int, bool, error) {
	var id int
	err := db.QueryRow(`SELECT task_id FROM task_keys WHERE key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup task key: %w", err)
	}
	return id, true, nil
}

// RememberTaskKey associates an idempotency key with a created task.
func (db *DB) RememberTaskKey(key, feature, title string, taskID int) error {
	_, err := db.Exec(`
		INSERT INTO task_keys (key, feature, task_id, title, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET task_id = excluded.task_id
	`, key, feature, taskID, title, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("remember task key: %w", err)
	}
	return nil
}

// RecordArtifact stores the latest artifact path produced for a task.
func (db *DB) RecordArtifact(taskID int, path, capability string) error {
	_, err := db.Exec(`
		INSERT INTO task_artifacts (task_id, path, capability, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET path = excluded.path,
			capability = excluded.capability, updated_at = excluded.updated_at
	`, taskID, path, capability, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

// ArtifactFor returns the artifact path recorded for a task.
func (db *DB) ArtifactFor(taskID int) (string, bool, error) {
	var path string
	err := db.QueryRow(`SELECT path FROM task_artifacts WHERE task_id = ?`, taskID).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup artifact: %w", err)
	}
	return path, true, nil
}

// QAResult is one verification outcome.
type QAResult struct {
	RunID        string
	TaskID       int
	State        string
	Passed       bool
	ExitCode     int
	DefectTaskID int
	Detail       string
	CreatedAt    time.Time
}

// RecordQAResult appends a verification outcome.
func (db *DB) RecordQAResult(r QAResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var defect sql.NullInt64
	if r.DefectTaskID != 0 {
		defect = sql.NullInt64{Int64: int64(r.DefectTaskID), Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO qa_results (run_id, task_id, state, passed, exit_code, defect_task_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.TaskID, r.State, r.Passed, r.ExitCode, defect, r.Detail, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("record qa result: %w", err)
	}
	return nil
}

// QAHistory returns verification outcomes for a task, oldest first.
func (db *DB) QAHistory(taskID int) ([]QAResult, error) {
	rows, err := db.Query(`
		SELECT run_id, task_id, state, passed, exit_code, COALESCE(defect_task_id, 0), COALESCE(detail, ''), created_at
		FROM qa_results WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list qa results: %w", err)
	}
	defer rows.Close()

	var out []QAResult
	for rows.Next() {
		var r QAResult
		var created string
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.State, &r.Passed, &r.ExitCode, &r.DefectTaskID, &r.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan qa result: %w", err)
		}
		r.CreatedAt, _ = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}
