package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/qa"
	"github.com/ShayCichocki/crew/internal/state"
	"github.com/ShayCichocki/crew/pkg/models"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project and run state",
	Long: `Display the saved state of the project in the working directory.

Shows:
  - Features and their status
  - Recent runs from the state database
  - The last QA report
  - Model calls per agent`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "Number of recent runs to show")
}

var (
	statusHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusDone   = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	statusActive = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workDir, err := filepath.Abs(cfg.Paths.WorkDir)
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(workDir, p)
	}
	out := cmd.OutOrStdout()

	ps, found, err := state.NewProjectStore(resolve(cfg.Paths.StateFile)).Load()
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(out, "No project state. Run 'crew run <description>' to start.")
		return nil
	}
	renderProject(out, ps)

	dbPath := resolve(cfg.Paths.Database)
	if _, err := os.Stat(dbPath); err == nil {
		db, err := state.OpenMigrated(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		runs, err := db.RecentRuns(statusRuns)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		renderRuns(out, runs, time.Now())

		counts, err := db.InteractionCounts()
		if err != nil {
			return fmt.Errorf("count interactions: %w", err)
		}
		renderInteractions(out, counts)
	}

	report, err := qa.ReadReport(resolve(cfg.Paths.ReportFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		renderReport(out, report)
	}
	return nil
}

func renderProject(w io.Writer, ps *models.ProjectState) {
	fmt.Fprintln(w, statusHeader.Render("Project"))
	fmt.Fprintf(w, "  %s\n\n", ps.Description)

	counts := ps.Counts()
	fmt.Fprintf(w, "%s %d total, %d done, %d in progress, %d open\n",
		statusHeader.Render("Features"), len(ps.Features),
		counts[models.FeatureStatusDone], counts[models.FeatureStatusInProgress], counts[models.FeatureStatusOpen])
	for _, f := range ps.Features {
		marker := statusLabel.Render("○")
		switch f.Status {
		case models.FeatureStatusDone:
			marker = statusDone.Render("✓")
		case models.FeatureStatusInProgress:
			marker = statusActive.Render("●")
		}
		fmt.Fprintf(w, "  %s [P%d] %s %s\n", marker, f.Priority, f.Title, statusLabel.Render(fmt.Sprintf("(%d task(s))", len(f.TaskIDs))))
	}
	fmt.Fprintln(w)
}

func renderRuns(w io.Writer, runs []state.Run, now time.Time) {
	if len(runs) == 0 {
		return
	}
	fmt.Fprintln(w, statusHeader.Render("Recent Runs"))
	for _, r := range runs {
		status := string(r.Status)
		switch r.Status {
		case state.RunCompleted:
			status = statusDone.Render(status)
		case state.RunRunning, state.RunStopped:
			status = statusActive.Render(status)
		case state.RunFailed:
			status = statusFailed.Render(status)
		}
		line := fmt.Sprintf("  %s  %-9s %s ago, %d feature(s), %d round(s)",
			shortID(r.ID), status, formatDuration(now.Sub(r.StartedAt)), r.Features, r.Rounds)
		if r.Error != "" {
			line += statusLabel.Render("  " + r.Error)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

func renderReport(w io.Writer, r *qa.Report) {
	status := statusDone.Render(r.Status)
	if r.Status != qa.ReportSuccess {
		status = statusFailed.Render(r.Status)
	}
	fmt.Fprintf(w, "%s %s: %d reviewed, %d passed, %d failed, %d skipped\n",
		statusHeader.Render("Last QA pass"), status, r.Reviewed, r.Passed, r.Failed, r.Skipped)
	for _, res := range r.Failures() {
		line := fmt.Sprintf("  %s #%d %s", statusFailed.Render("✗"), res.TaskID, res.Title)
		if res.DefectTaskID != 0 {
			line += statusLabel.Render(fmt.Sprintf("  defect #%d", res.DefectTaskID))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

func renderInteractions(w io.Writer, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	agents := make([]string, 0, len(counts))
	for agent := range counts {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	parts := make([]string, 0, len(agents))
	for _, agent := range agents {
		parts = append(parts, fmt.Sprintf("%s=%d", agent, counts[agent]))
	}
	fmt.Fprintf(w, "%s %s\n", statusHeader.Render("Model calls"), strings.Join(parts, " "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
