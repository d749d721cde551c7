package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/config"
)

var (
	rootConfigPath string
	rootWorkDir    string
	rootLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "crew",
	Short: "Task-driven multi-agent project builder",
	Long: `crew turns a project description into features and tracker tasks,
then plans and dispatches frontend, backend, QA and DevOps work until
every task is closed or needs manual review.

Core capabilities:
- Generates features and tasks from a description
- Files tasks on GitHub without duplicating them across runs
- Writes code artifacts and commits them to the repository
- Verifies artifacts with generated tests and files defects on failure
- Publishes versioned releases`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Config file (default: user config merged with .crew.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootWorkDir, "workdir", "C", "", "Project working directory (overrides paths.work_dir)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(prioritizeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if rootConfigPath != "" {
		cfg, err = config.LoadFromPath(rootConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if rootWorkDir != "" {
		cfg.Paths.WorkDir = rootWorkDir
	}
	if rootLogLevel != "" {
		cfg.Log.Level = rootLogLevel
	}
	return cfg, nil
}
