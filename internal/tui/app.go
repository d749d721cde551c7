package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/crew/internal/manager"
)

// Control actions passed to a ControlHandler.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
)

// ControlHandler carries an operator action to the running manager.
type ControlHandler func(action string) error

// EventMsg wraps a manager event for the monitor.
type EventMsg struct {
	Event manager.Event
}

// DoneMsg is sent when the run has returned.
type DoneMsg struct {
	Summary *manager.Summary
	Err     error
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// maxLogs bounds the activity log.
const maxLogs = 500

// MonitorApp is the bubbletea model for the run monitor.
type MonitorApp struct {
	view     *MonitorView
	spinner  spinner.Model
	logView  viewport.Model
	logs     []LogEntry
	controls ControlHandler
	width    int
	height   int
	quitting bool
	stopping bool
	done     bool
	summary  *manager.Summary
	err      error

	// Styles
	logTimeStyle lipgloss.Style
	infoStyle    lipgloss.Style
	warnStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	doneStyle    lipgloss.Style
	hintStyle    lipgloss.Style
}

// NewMonitorApp creates a MonitorApp.
func NewMonitorApp() *MonitorApp {
	return &MonitorApp{
		view: NewMonitorView(),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("205"))),
		),
		logView: viewport.New(80, 8),

		logTimeStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		doneStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true),
		hintStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// SetControlHandler sets the callback for pause, resume and stop keys.
func (a *MonitorApp) SetControlHandler(h ControlHandler) {
	a.controls = h
}

// Init implements tea.Model.
func (a *MonitorApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *MonitorApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "p":
			if !a.done {
				a.togglePause()
			}
			return a, nil
		case "s":
			if !a.done && !a.stopping {
				if a.control(ActionStop) {
					a.stopping = true
				}
			}
			return a, nil
		}
		var cmd tea.Cmd
		a.logView, cmd = a.logView.Update(msg)
		return a, cmd

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.view.SetSize(msg.Width, msg.Height)
		a.logView.Width = msg.Width
		a.logView.Height = max(msg.Height-18, 5)
		a.refreshLogs()

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.view.state.Apply(msg.Event)
		a.addLog(entryFor(msg.Event))

	case DoneMsg:
		a.done = true
		a.summary = msg.Summary
		a.err = msg.Err
		// Stay open so the final state can be read.
	}

	return a, nil
}

func (a *MonitorApp) togglePause() {
	action := ActionPause
	if a.view.state.Paused {
		action = ActionResume
	}
	if a.control(action) {
		a.view.state.Paused = !a.view.state.Paused
	}
}

// control forwards action and logs the outcome. It reports success.
func (a *MonitorApp) control(action string) bool {
	if a.controls == nil {
		return false
	}
	if err := a.controls(action); err != nil {
		a.addLog(LogEntry{Timestamp: time.Now(), Level: "ERROR", Message: fmt.Sprintf("%s request failed: %v", action, err)})
		return false
	}
	a.addLog(LogEntry{Timestamp: time.Now(), Level: "WARN", Message: fmt.Sprintf("%s requested", action)})
	return true
}

func (a *MonitorApp) addLog(e LogEntry) {
	a.logs = append(a.logs, e)
	if len(a.logs) > maxLogs {
		a.logs = a.logs[len(a.logs)-maxLogs:]
	}
	a.refreshLogs()
}

func (a *MonitorApp) refreshLogs() {
	lines := make([]string, 0, len(a.logs))
	for _, e := range a.logs {
		style := a.infoStyle
		switch e.Level {
		case "WARN":
			style = a.warnStyle
		case "ERROR":
			style = a.errorStyle
		}
		lines = append(lines, fmt.Sprintf("  %s %s",
			a.logTimeStyle.Render(e.Timestamp.Format("15:04:05")),
			style.Render(e.Message)))
	}
	a.logView.SetContent(strings.Join(lines, "\n"))
	a.logView.GotoBottom()
}

// View implements tea.Model.
func (a *MonitorApp) View() string {
	if a.quitting {
		return "Monitor closed.\n"
	}

	var b strings.Builder

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Render("=== crew ===")
	if !a.done {
		title = a.spinner.View() + " " + title
	}
	b.WriteString(title)
	b.WriteString("\n\n")

	b.WriteString(a.view.View())
	b.WriteString("\n")

	if len(a.logs) > 0 {
		b.WriteString(lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Render("Activity Log"))
		b.WriteString("\n")
		b.WriteString(a.logView.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case a.done && a.err != nil:
		b.WriteString(a.errorStyle.Render(fmt.Sprintf("Run ended: %v", a.err)))
		b.WriteString(a.hintStyle.Render("  (q to exit)"))
	case a.done:
		msg := "Run complete!"
		if a.summary != nil {
			msg = fmt.Sprintf("Run complete: %d feature(s), %d step(s) in %s.",
				a.summary.Features, a.summary.Steps, a.summary.Duration.Round(time.Second))
		}
		b.WriteString(a.doneStyle.Render(msg))
		b.WriteString(a.hintStyle.Render("  (q to exit)"))
	case a.stopping:
		b.WriteString(a.warnStyle.Render("Stopping at the next step boundary..."))
	default:
		b.WriteString(a.hintStyle.Render("p pause/resume · s stop · q close monitor"))
	}
	b.WriteString("\n")

	return b.String()
}

// State returns the run state shown by the monitor.
func (a *MonitorApp) State() RunState {
	return a.view.State()
}

// Logs returns the activity log.
func (a *MonitorApp) Logs() []LogEntry {
	return a.logs
}

// entryFor turns a manager event into an activity log line.
func entryFor(e manager.Event) LogEntry {
	entry := LogEntry{Timestamp: e.Timestamp, Level: "INFO"}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	switch e.Type {
	case manager.EventRunStarted:
		entry.Message = "run started"
	case manager.EventFeaturesGenerated:
		entry.Message = fmt.Sprintf("generated %d feature(s)", e.Count)
	case manager.EventProjectLoaded:
		entry.Message = fmt.Sprintf("%d feature(s) in project", e.Count)
	case manager.EventFeatureStarted:
		entry.Message = fmt.Sprintf("feature %q started", e.Feature)
	case manager.EventTasksCreated:
		entry.Message = fmt.Sprintf("%d task(s) created for %q", e.Count, e.Feature)
	case manager.EventRoundStarted:
		entry.Message = fmt.Sprintf("round %d", e.Round)
	case manager.EventPlanReady:
		entry.Message = fmt.Sprintf("plan with %d step(s)", e.Count)
	case manager.EventPlanFailed:
		entry.Level = "WARN"
		entry.Message = fmt.Sprintf("no usable plan: %v", e.Error)
	case manager.EventStepStarted:
		entry.Message = fmt.Sprintf("%s → #%d", e.Capability, e.TaskID)
	case manager.EventStepCompleted:
		entry.Message = fmt.Sprintf("%s #%d ok", e.Capability, e.TaskID)
		if e.Message != "" {
			entry.Message += ": " + e.Message
		}
	case manager.EventStepFailed:
		entry.Level = "ERROR"
		entry.Message = fmt.Sprintf("%s #%d failed: %v", e.Capability, e.TaskID, e.Error)
		if e.Message != "" {
			entry.Message += " (" + truncate(e.Message, 120) + ")"
		}
	case manager.EventCheckpoint:
		entry.Message = "state saved"
	case manager.EventFeatureCompleted:
		entry.Message = fmt.Sprintf("feature %q done", e.Feature)
	case manager.EventFeatureUnresolved:
		entry.Level = "WARN"
		entry.Message = fmt.Sprintf("feature %q unresolved: %s", e.Feature, e.Message)
	case manager.EventRunStopped:
		entry.Level = "WARN"
		entry.Message = "run stopped"
	case manager.EventRunDone:
		entry.Message = "run finished: " + e.Message
	case manager.EventRunFailed:
		entry.Level = "ERROR"
		entry.Message = fmt.Sprintf("run failed: %v", e.Error)
	default:
		entry.Message = string(e.Type)
	}
	return entry
}

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Forward relays manager events to the monitor until the channel closes.
func Forward(p Sender, events <-chan manager.Event) {
	for e := range events {
		p.Send(EventMsg{Event: e})
	}
}

// NewMonitorProgram creates a bubbletea program for the run monitor.
func NewMonitorProgram() (*tea.Program, *MonitorApp) {
	app := NewMonitorApp()
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
