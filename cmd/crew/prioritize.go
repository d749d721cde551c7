package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var prioritizeDryRun bool

var prioritizeCmd = &cobra.Command{
	Use:   "prioritize",
	Short: "Rank open tasks and label them by priority",
	Long: `Ask the model to rank every open task from 1 (high) to 3 (low) and
replace each task's priority label with the result.`,
	Args: cobra.NoArgs,
	RunE: runPrioritize,
}

func init() {
	prioritizeCmd.Flags().BoolVar(&prioritizeDryRun, "dry-run", false, "Use the in-memory tracker")
}

func runPrioritize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{dryRun: prioritizeDryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	ranked, err := a.planner.Prioritize(cmd.Context())
	if err != nil {
		return fmt.Errorf("prioritize: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(ranked) == 0 {
		fmt.Fprintln(out, "No open tasks.")
		return nil
	}
	for _, p := range ranked {
		level := color.GreenString("P%d", p.Priority)
		if p.Priority == 1 {
			level = color.RedString("P%d", p.Priority)
		} else if p.Priority == 2 {
			level = color.YellowString("P%d", p.Priority)
		}
		fmt.Fprintf(out, "  #%-5d %s  %s\n", p.TaskID, level, strings.Join(p.Labels, ", "))
	}
	return nil
}
