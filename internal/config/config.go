// Package config handles configuration loading and management for crew.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ProjectConfigName is the per-project override file searched upward from the working directory.
const ProjectConfigName = ".crew.yaml"

// Config holds all configuration for crew.
type Config struct {
	Generation GenerationConfig `mapstructure:"generation"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
	Loop       LoopConfig       `mapstructure:"loop"`
	QA         QAConfig         `mapstructure:"qa"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Log        LogConfig        `mapstructure:"log"`
}

// GenerationConfig selects and tunes the text-generation backend.
type GenerationConfig struct {
	// Backend is "anthropic" or "ollama".
	Backend   string `mapstructure:"backend"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int64  `mapstructure:"max_tokens"`
	// UseBedrock routes Anthropic calls through AWS Bedrock.
	UseBedrock bool          `mapstructure:"use_bedrock"`
	AWSRegion  string        `mapstructure:"aws_region"`
	AWSProfile string        `mapstructure:"aws_profile"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// Transport retries are independent of parse retries.
	MaxTransportRetries int           `mapstructure:"max_transport_retries"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
}

// TrackerConfig configures the issue tracker and artifact store.
type TrackerConfig struct {
	// Backend is "github" or "memory".
	Backend     string `mapstructure:"backend"`
	Owner       string `mapstructure:"owner"`
	Repo        string `mapstructure:"repo"`
	Token       string `mapstructure:"token"`
	APIEndpoint string `mapstructure:"api_endpoint"`
	Branch      string `mapstructure:"branch"`
	// CommitLocal commits artifacts written to the working copy with git.
	CommitLocal bool `mapstructure:"commit_local"`
}

// LoopConfig bounds the control loop.
type LoopConfig struct {
	MaxRounds       int  `mapstructure:"max_rounds"`
	MaxAttempts     int  `mapstructure:"max_attempts"`
	PlanRetries     int  `mapstructure:"plan_retries"`
	MinPlanSteps    int  `mapstructure:"min_plan_steps"`
	MaxPlanSteps    int  `mapstructure:"max_plan_steps"`
	DesignProposals bool `mapstructure:"design_proposals"`
}

// QAConfig configures the verification loop.
type QAConfig struct {
	TestCommand string        `mapstructure:"test_command"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ArtifactDir string        `mapstructure:"artifact_dir"`
	ArtifactExt string        `mapstructure:"artifact_ext"`
	TestDir     string        `mapstructure:"test_dir"`
	Language    string        `mapstructure:"language"`
	// SuccessMarker is optional; it never overrides a non-zero exit code.
	SuccessMarker  string `mapstructure:"success_marker"`
	CommentExcerpt int    `mapstructure:"comment_excerpt"`
	DefectExcerpt  int    `mapstructure:"defect_excerpt"`
}

// PathsConfig locates files written during a run, relative to the working directory.
type PathsConfig struct {
	WorkDir        string `mapstructure:"work_dir"`
	StateFile      string `mapstructure:"state_file"`
	InteractionLog string `mapstructure:"interaction_log"`
	ReportFile     string `mapstructure:"report_file"`
	SummaryCache   string `mapstructure:"summary_cache"`
	Database       string `mapstructure:"database"`
	SignalsDir     string `mapstructure:"signals_dir"`
	ReleaseAssets  string `mapstructure:"release_assets"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, GITHUB_TOKEN, ...)
// 2. Project config (.crew.yaml in current directory or parent)
// 3. User config (~/.config/crew/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file on top of the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Generation.APIKey = os.ExpandEnv(cfg.Generation.APIKey)
	cfg.Tracker.Token = os.ExpandEnv(cfg.Tracker.Token)
	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("generation.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("generation.base_url", "CREW_GENERATION_URL", "OLLAMA_URL", "OPENAI_API_BASE")
	v.BindEnv("generation.model", "CREW_MODEL", "OLLAMA_MODEL", "OPENAI_MODEL")
	v.BindEnv("generation.backend", "CREW_BACKEND")
	v.BindEnv("tracker.token", "GITHUB_TOKEN")
	v.BindEnv("tracker.owner", "GITHUB_USERNAME", "GITHUB_OWNER")
	v.BindEnv("tracker.repo", "GITHUB_REPO")
	v.BindEnv("log.level", "CREW_LOG_LEVEL")
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))
	for _, key := range Keys() {
		value, err := Get(cfg, key)
		if err != nil {
			return err
		}
		v.Set(key, value)
	}
	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("generation.backend", d.Generation.Backend)
	v.SetDefault("generation.model", d.Generation.Model)
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.base_url", "")
	v.SetDefault("generation.max_tokens", d.Generation.MaxTokens)
	v.SetDefault("generation.use_bedrock", false)
	v.SetDefault("generation.aws_region", "")
	v.SetDefault("generation.aws_profile", "")
	v.SetDefault("generation.timeout", d.Generation.Timeout.String())
	v.SetDefault("generation.max_transport_retries", d.Generation.MaxTransportRetries)
	v.SetDefault("generation.backoff_base", d.Generation.BackoffBase.String())
	v.SetDefault("generation.backoff_max", d.Generation.BackoffMax.String())

	v.SetDefault("tracker.backend", d.Tracker.Backend)
	v.SetDefault("tracker.owner", "")
	v.SetDefault("tracker.repo", "")
	v.SetDefault("tracker.token", "")
	v.SetDefault("tracker.api_endpoint", d.Tracker.APIEndpoint)
	v.SetDefault("tracker.branch", d.Tracker.Branch)
	v.SetDefault("tracker.commit_local", false)

	v.SetDefault("loop.max_rounds", d.Loop.MaxRounds)
	v.SetDefault("loop.max_attempts", d.Loop.MaxAttempts)
	v.SetDefault("loop.plan_retries", d.Loop.PlanRetries)
	v.SetDefault("loop.min_plan_steps", d.Loop.MinPlanSteps)
	v.SetDefault("loop.max_plan_steps", d.Loop.MaxPlanSteps)
	v.SetDefault("loop.design_proposals", false)

	v.SetDefault("qa.test_command", d.QA.TestCommand)
	v.SetDefault("qa.timeout", d.QA.Timeout.String())
	v.SetDefault("qa.artifact_dir", d.QA.ArtifactDir)
	v.SetDefault("qa.artifact_ext", d.QA.ArtifactExt)
	v.SetDefault("qa.test_dir", d.QA.TestDir)
	v.SetDefault("qa.language", d.QA.Language)
	v.SetDefault("qa.success_marker", "")
	v.SetDefault("qa.comment_excerpt", d.QA.CommentExcerpt)
	v.SetDefault("qa.defect_excerpt", d.QA.DefectExcerpt)

	v.SetDefault("paths.work_dir", d.Paths.WorkDir)
	v.SetDefault("paths.state_file", d.Paths.StateFile)
	v.SetDefault("paths.interaction_log", d.Paths.InteractionLog)
	v.SetDefault("paths.report_file", d.Paths.ReportFile)
	v.SetDefault("paths.summary_cache", d.Paths.SummaryCache)
	v.SetDefault("paths.database", d.Paths.Database)
	v.SetDefault("paths.signals_dir", d.Paths.SignalsDir)
	v.SetDefault("paths.release_assets", d.Paths.ReleaseAssets)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
}

// getUserConfigDir returns the XDG config directory for crew.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "crew")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "crew")
	}
	return filepath.Join(home, ".config", "crew")
}

// findProjectConfig searches for .crew.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Generation: GenerationConfig{
			Backend:             "anthropic",
			Model:               "",
			MaxTokens:           8192,
			Timeout:             5 * time.Minute,
			MaxTransportRetries: 4,
			BackoffBase:         time.Second,
			BackoffMax:          30 * time.Second,
		},
		Tracker: TrackerConfig{
			Backend:     "github",
			APIEndpoint: "https://api.github.com",
			Branch:      "main",
		},
		Loop: LoopConfig{
			MaxRounds:    3,
			MaxAttempts:  10,
			PlanRetries:  3,
			MinPlanSteps: 3,
			MaxPlanSteps: 5,
		},
		QA: QAConfig{
			TestCommand:    "flutter test",
			Timeout:        90 * time.Second,
			ArtifactDir:    "lib",
			ArtifactExt:    ".dart",
			TestDir:        "test",
			Language:       "dart",
			CommentExcerpt: 1000,
			DefectExcerpt:  1200,
		},
		Paths: PathsConfig{
			WorkDir:        ".",
			StateFile:      "project_state.json",
			InteractionLog: filepath.Join("logs", "generation", "interactions.log"),
			ReportFile:     "qa_report.json",
			SummaryCache:   ".summaries.json",
			Database:       filepath.Join(".crew", "state.db"),
			SignalsDir:     filepath.Join(".crew", "signals"),
			ReleaseAssets:  "dist",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve joins a configured path onto the working directory unless it is absolute.
func (c *Config) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Paths.WorkDir, path)
}
