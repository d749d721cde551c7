package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/manager"
	"github.com/ShayCichocki/crew/internal/state"
)

var (
	runName            string
	runDescriptionFile string
	runDryRun          bool
	runTUI             bool
)

var runCmd = &cobra.Command{
	Use:   "run [description]",
	Short: "Build the project from its description",
	Long: `Run the manager control loop.

On the first run the description seeds project_state.json and the feature
list is generated from it. Later runs resume from the saved state: finished
features are skipped and tasks already on the tracker are not filed again.

Each feature gets its tasks, then up to loop.max_rounds planning rounds in
which the planner picks 3-5 steps and each step is dispatched to the
frontend, backend, qa or devops handler.

Stop a run with Ctrl+C, 'crew stop' or 's' in the monitor; the state is
saved before exiting.

Examples:
  crew run "A Flutter app for a sports club's members"
  crew run --description-file brief.md --name members
  crew run --dry-run --tui "A todo app"`,
	RunE: runProject,
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "Project name used for releases")
	runCmd.Flags().StringVar(&runDescriptionFile, "description-file", "", "Read the project description from a file")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Use the in-memory tracker; nothing is published")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live run monitor")
}

func runProject(cmd *cobra.Command, args []string) error {
	description, err := readDescription(args, runDescriptionFile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := appOptions{dryRun: runDryRun, project: runName}
	if runTUI {
		// Terminal logging would corrupt the display; the log file still applies.
		opts.logOutput = io.Discard
	}
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	a.signals.Clear()

	mgr, err := a.newManager()
	if err != nil {
		return err
	}
	if runTUI {
		return runWithTUI(ctx, a, mgr, description)
	}
	return runHeadless(ctx, mgr, description)
}

// readDescription joins the positional arguments or reads the description file.
func readDescription(args []string, file string) (string, error) {
	if file != "" {
		if len(args) > 0 {
			return "", errors.New("pass the description either as arguments or with --description-file, not both")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read description: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.TrimSpace(strings.Join(args, " ")), nil
}

func runHeadless(ctx context.Context, mgr *manager.Manager, description string) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range mgr.Events() {
			printEvent(os.Stdout, e)
		}
	}()

	sum, err := mgr.Run(ctx, description)
	<-done
	printSummary(os.Stdout, sum)
	return err
}

// printEvent writes the events worth a line on a terminal.
func printEvent(w io.Writer, e manager.Event) {
	switch e.Type {
	case manager.EventFeaturesGenerated:
		fmt.Fprintf(w, "%s %d feature(s) generated\n", color.CyanString("●"), e.Count)
	case manager.EventFeatureStarted:
		fmt.Fprintf(w, "\n%s %s\n", color.New(color.Bold).Sprint("Feature:"), e.Feature)
	case manager.EventTasksCreated:
		fmt.Fprintf(w, "  %s %d task(s) created\n", color.CyanString("+"), e.Count)
	case manager.EventRoundStarted:
		fmt.Fprintf(w, "  round %d\n", e.Round)
	case manager.EventPlanFailed:
		fmt.Fprintf(w, "  %s no usable plan: %v\n", color.YellowString("⚠"), e.Error)
	case manager.EventStepCompleted:
		fmt.Fprintf(w, "    %s %s #%d %s\n", color.GreenString("✓"), e.Capability, e.TaskID, e.Message)
	case manager.EventStepFailed:
		fmt.Fprintf(w, "    %s %s #%d: %v\n", color.RedString("✗"), e.Capability, e.TaskID, e.Error)
		if e.Message != "" {
			fmt.Fprintf(w, "      %s\n", strings.ReplaceAll(strings.TrimSpace(e.Message), "\n", "\n      "))
		}
	case manager.EventFeatureCompleted:
		fmt.Fprintf(w, "  %s feature done\n", color.GreenString("✓"))
	case manager.EventFeatureUnresolved:
		fmt.Fprintf(w, "  %s %s\n", color.YellowString("⚠"), e.Message)
	case manager.EventRunStopped:
		fmt.Fprintf(w, "\n%s run stopped; state saved\n", color.YellowString("■"))
	}
}

func printSummary(w io.Writer, sum *manager.Summary) {
	if sum == nil {
		return
	}
	status := string(sum.Status)
	switch sum.Status {
	case state.RunCompleted:
		status = color.GreenString(status)
	case state.RunStopped:
		status = color.YellowString(status)
	default:
		status = color.RedString(status)
	}
	fmt.Fprintf(w, "\nRun %s %s in %s\n", sum.RunID, status, formatDuration(sum.Duration))
	fmt.Fprintf(w, "  Features: %d  Rounds: %d  Steps: %d  Failed steps: %d\n", sum.Features, sum.Rounds, sum.Steps, sum.Failures)
	fmt.Fprintf(w, "  Tasks created: %d  Already filed: %d\n", sum.Created, sum.Duplicates)
	if len(sum.Unresolved) > 0 {
		fmt.Fprintf(w, "  %s %s\n", color.YellowString("Needs manual review:"), strings.Join(sum.Unresolved, ", "))
	}
}
