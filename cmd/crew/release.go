package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	releaseName   string
	releaseDryRun bool
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Publish the next patch release",
	Long: `Tag the head of the release branch with the next patch version and
upload any build outputs found in paths.release_assets.

The version is the latest existing release tag with its patch number
incremented; the first release is v1.0.0.`,
	Args: cobra.NoArgs,
	RunE: runRelease,
}

func init() {
	releaseCmd.Flags().StringVar(&releaseName, "name", "", "Project name used in the release title")
	releaseCmd.Flags().BoolVar(&releaseDryRun, "dry-run", false, "Use the in-memory tracker; nothing is published")
}

func runRelease(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{dryRun: releaseDryRun, project: releaseName, noGeneration: true})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.devops.Release(cmd.Context())
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Released %s (%s)\n", color.GreenString("✓"), res.Version, res.Release.Name)
	for _, asset := range res.Uploaded {
		fmt.Fprintf(out, "  %s %s\n", color.GreenString("↑"), asset)
	}
	for _, asset := range res.Missing {
		fmt.Fprintf(out, "  %s %s not built; skipped\n", color.YellowString("⚠"), asset)
	}
	return nil
}
