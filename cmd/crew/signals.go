package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/signals"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running crew at the next step boundary",
	Long: `Ask a running 'crew run' in this project to stop.

The run finishes its current step, saves project state and exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, signals.StopFile, "Stop requested.")
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running crew at the next step boundary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, signals.PauseFile, "Pause requested. Resume with 'crew resume'.")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused crew",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := signals.Remove(cfg.Resolve(cfg.Paths.SignalsDir), signals.PauseFile); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Resumed.")
		return nil
	},
}

// sendSignal drops the named signal file into the project's signals directory.
func sendSignal(cmd *cobra.Command, name, message string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := signals.Send(cfg.Resolve(cfg.Paths.SignalsDir), name); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), message)
	return nil
}
