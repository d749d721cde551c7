package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify crew configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/crew/config.yaml
Project-specific overrides can be placed in .crew.yaml

Examples:
  crew config
  crew config tracker.repo
  crew config loop.max_rounds 5`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch len(args) {
		case 0:
			return displayAllConfig(out, cfg)
		case 1:
			value, err := config.Display(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
			return nil
		default:
			if err := config.Set(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(out, "Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

// displayAllConfig prints every key with secrets masked.
func displayAllConfig(w io.Writer, cfg *config.Config) error {
	for _, key := range config.Keys() {
		value, err := config.Display(cfg, key)
		if err != nil {
			return err
		}
		if value == "" {
			value = "(not set)"
		}
		fmt.Fprintf(w, "%s: %s\n", key, value)
	}
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Fprintf(w, "\n# project overrides: %s\n", p)
	}
	return nil
}
