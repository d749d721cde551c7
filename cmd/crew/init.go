package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/config"
	"github.com/ShayCichocki/crew/internal/git"
)

var (
	initForce      bool
	initNoGit      bool
	initWithConfig bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a crew project",
	Long: `Initialize a directory for use with crew.

This command sets up everything needed to run crew:
  - Verifies git is installed
  - Initializes a git repository with an initial commit if needed
  - Creates the .crew directory structure
  - Adds crew's working files to .gitignore
  - Optionally writes a commented .crew.yaml

The directory argument is optional and defaults to the current directory.

Examples:
  crew init                 # Initialize current directory
  crew init ./members-app   # Initialize specific directory
  crew init --with-config   # Also write .crew.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().BoolVar(&initWithConfig, "with-config", false, "Create a .crew.yaml template")
}

// gitignoreEntries are crew's local working files.
var gitignoreEntries = []string{
	".crew/",
	"logs/",
	".summaries.json",
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing crew in %s...\n\n", absPath)

	crewDir := filepath.Join(absPath, ".crew")
	if _, err := os.Stat(crewDir); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	if !initNoGit {
		if _, err := exec.LookPath("git"); err != nil {
			printStatus("✗", "Git not found", color.FgRed)
			return fmt.Errorf("git not found in PATH; install git or pass --no-git")
		}
		printStatus("✓", "Git found", color.FgGreen)
	}

	cfg := config.Default()
	_, keyErr := config.GetAPIKey(cfg)
	if keyErr != nil {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}
	_, tokenErr := config.GetTrackerToken(cfg)
	if tokenErr != nil {
		printStatus("⚠", "GITHUB_TOKEN not set (needed unless tracker.backend is memory)", color.FgYellow)
	} else {
		printStatus("✓", "GITHUB_TOKEN is set", color.FgGreen)
	}

	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	}

	for _, dir := range []string{crewDir, filepath.Join(crewDir, "signals"), filepath.Join(absPath, "logs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .crew directory structure", color.FgGreen)

	added, err := updateGitignore(absPath)
	if err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	if added {
		printStatus("✓", "Updated .gitignore with crew entries", color.FgGreen)
	}

	if initWithConfig {
		created, err := createProjectConfig(absPath)
		if err != nil {
			return fmt.Errorf("creating project config: %w", err)
		}
		if created {
			printStatus("✓", "Created "+config.ProjectConfigName+" template", color.FgGreen)
		}
	}

	fmt.Printf("\n%s crew initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	step := 1
	if keyErr != nil {
		fmt.Printf("  %d. Set your API key:\n", step)
		fmt.Println("     export ANTHROPIC_API_KEY=your-key-here")
		step++
	}
	if tokenErr != nil {
		fmt.Printf("  %d. Set your tracker credentials:\n", step)
		fmt.Println("     export GITHUB_TOKEN=... GITHUB_USERNAME=... GITHUB_REPO=...")
		step++
	}
	fmt.Printf("  %d. Build something:\n", step)
	fmt.Println("     crew run \"your project description\"")
	return nil
}

// initGitRepo initializes the repository and makes sure it has a commit.
func initGitRepo(repoPath string) error {
	repo := git.NewRunner(repoPath)
	if !repo.IsRepository() {
		if _, err := repo.Run("init"); err != nil {
			return err
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	if _, err := repo.Run("rev-parse", "--verify", "HEAD"); err == nil {
		return nil
	}
	if _, err := repo.Run("commit", "--allow-empty", "-m", "Initial commit"); err != nil {
		return fmt.Errorf("creating initial commit: %w", err)
	}
	printStatus("✓", "Created initial commit", color.FgGreen)
	return nil
}

// updateGitignore appends missing crew entries. It reports whether it wrote.
func updateGitignore(repoPath string) (bool, error) {
	path := filepath.Join(repoPath, ".gitignore")
	var existing string
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		return false, err
	}

	present := make(map[string]bool)
	for _, line := range strings.Split(existing, "\n") {
		present[strings.TrimSpace(line)] = true
	}
	var missing []string
	for _, entry := range gitignoreEntries {
		if !present[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# crew\n")
	for _, entry := range missing {
		b.WriteString(entry + "\n")
	}
	return true, os.WriteFile(path, []byte(b.String()), 0644)
}

const projectConfigTemplate = `# crew project configuration
# Overrides ~/.config/crew/config.yaml for this directory.

# generation:
#   backend: anthropic     # or ollama
#   model: claude-sonnet-4-5
#   max_tokens: 8192

# tracker:
#   backend: github        # or memory
#   owner: your-user
#   repo: your-repo
#   branch: main
#   commit_local: true

# loop:
#   max_rounds: 3
#   max_attempts: 3
#   min_plan_steps: 3
#   max_plan_steps: 5

# qa:
#   test_command: flutter test
#   timeout: 5m
`

// createProjectConfig writes the template unless a config already exists.
func createProjectConfig(repoPath string) (bool, error) {
	path := filepath.Join(repoPath, config.ProjectConfigName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	return true, os.WriteFile(path, []byte(projectConfigTemplate), 0644)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
