package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/crew/internal/manager"
)

// RunState tracks the progress of a run as seen through its events.
type RunState struct {
	RunID          string
	Description    string
	FeaturesDone   int
	FeaturesTotal  int
	CurrentFeature string
	Round          int
	// CurrentStep describes the step being dispatched, e.g. "qa #12".
	CurrentStep string
	Steps       int
	Failures    int
	Created     int
	Unresolved  []string
	Paused      bool
}

// Apply folds one manager event into the state.
func (s *RunState) Apply(e manager.Event) {
	if e.RunID != "" {
		s.RunID = e.RunID
	}
	switch e.Type {
	case manager.EventRunStarted:
		s.Description = e.Message
	case manager.EventProjectLoaded:
		s.FeaturesTotal = e.Count
		if e.Message != "" {
			s.Description = e.Message
		}
	case manager.EventFeatureStarted:
		s.CurrentFeature = e.Feature
		s.Round = 0
		s.CurrentStep = ""
	case manager.EventTasksCreated:
		s.Created += e.Count
	case manager.EventRoundStarted:
		s.Round = e.Round
	case manager.EventStepStarted:
		s.CurrentStep = fmt.Sprintf("%s #%d", e.Capability, e.TaskID)
	case manager.EventStepCompleted:
		s.Steps++
		s.CurrentStep = ""
	case manager.EventStepFailed:
		s.Steps++
		s.Failures++
		s.CurrentStep = ""
	case manager.EventFeatureCompleted:
		s.FeaturesDone++
	case manager.EventFeatureUnresolved:
		s.Unresolved = append(s.Unresolved, e.Feature)
	case manager.EventRunDone, manager.EventRunStopped, manager.EventRunFailed:
		s.CurrentStep = ""
	}
}

// MonitorView renders the progress section of the monitor.
type MonitorView struct {
	state  RunState
	width  int
	height int

	// Styles
	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	featureStyle  lipgloss.Style
	warningStyle  lipgloss.Style
	failStyle     lipgloss.Style
	okStyle       lipgloss.Style
}

// NewMonitorView creates a MonitorView.
func NewMonitorView() *MonitorView {
	return &MonitorView{
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		featureStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),

		warningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		failStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
	}
}

// Update handles input messages.
func (v *MonitorView) Update(msg tea.Msg) (*MonitorView, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.width = msg.Width
		v.height = msg.Height
	case EventMsg:
		v.state.Apply(msg.Event)
	}
	return v, nil
}

// View renders the progress display.
func (v *MonitorView) View() string {
	var b strings.Builder

	b.WriteString(v.headerStyle.Render("Run Progress"))
	b.WriteString("\n")

	if v.state.Description != "" {
		b.WriteString(v.labelStyle.Render("Project:"))
		b.WriteString(v.valueStyle.Render(truncate(v.state.Description, 60)))
		b.WriteString("\n")
	}

	pct := float64(0)
	if v.state.FeaturesTotal > 0 {
		pct = float64(v.state.FeaturesDone) / float64(v.state.FeaturesTotal) * 100
	}
	b.WriteString(v.labelStyle.Render("Features:"))
	b.WriteString(v.valueStyle.Render(fmt.Sprintf("%d/%d done", v.state.FeaturesDone, v.state.FeaturesTotal)))
	b.WriteString("\n")
	b.WriteString(v.renderProgressBar(pct, 30))
	b.WriteString("\n\n")

	feature := v.state.CurrentFeature
	if feature == "" {
		feature = "none"
	}
	b.WriteString(v.labelStyle.Render("Feature:"))
	b.WriteString(v.featureStyle.Render(feature))
	if v.state.Round > 0 {
		b.WriteString(fmt.Sprintf("  round %d", v.state.Round))
	}
	b.WriteString("\n")

	if v.state.CurrentStep != "" {
		b.WriteString(v.labelStyle.Render("Step:"))
		b.WriteString(v.valueStyle.Render(v.state.CurrentStep))
		b.WriteString("\n")
	}

	b.WriteString(v.labelStyle.Render("Steps:"))
	b.WriteString(fmt.Sprintf("%s ok, %s failed, %d task(s) created",
		v.okStyle.Render(fmt.Sprintf("%d", v.state.Steps-v.state.Failures)),
		v.failStyle.Render(fmt.Sprintf("%d", v.state.Failures)),
		v.state.Created))
	b.WriteString("\n")

	if v.state.Paused {
		b.WriteString("\n")
		b.WriteString(v.warningStyle.Render("Paused at the next step boundary. Press p to resume."))
		b.WriteString("\n")
	}

	if len(v.state.Unresolved) > 0 {
		b.WriteString("\n")
		b.WriteString(v.labelStyle.Render("Needs review:"))
		b.WriteString("\n")
		for _, f := range v.state.Unresolved {
			b.WriteString("  ")
			b.WriteString(v.warningStyle.Render("! "))
			b.WriteString(f)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// renderProgressBar renders a progress bar.
func (v *MonitorView) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := v.progressFull.Render(strings.Repeat("█", filled)) +
		v.progressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

// SetSize sets the view dimensions.
func (v *MonitorView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// State returns the current run state.
func (v *MonitorView) State() RunState {
	return v.state
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
