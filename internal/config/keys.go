package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoAPIKey is returned when the Anthropic backend is selected without a key.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// ErrNoTrackerToken is returned when the GitHub tracker is selected without a token.
var ErrNoTrackerToken = errors.New("no GitHub token configured")

// GetAPIKey returns the Anthropic API key.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}
	if cfg != nil && cfg.Generation.APIKey != "" {
		key := os.ExpandEnv(cfg.Generation.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}
	return "", ErrNoAPIKey
}

// GetTrackerToken returns the GitHub token from the environment or config.
func GetTrackerToken(cfg *Config) (string, error) {
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		return tok, nil
	}
	if cfg != nil && cfg.Tracker.Token != "" {
		tok := os.ExpandEnv(cfg.Tracker.Token)
		if tok != "" && !strings.HasPrefix(tok, "${") {
			return tok, nil
		}
	}
	return "", ErrNoTrackerToken
}

// MaskSecret returns a masked version of a credential for display.
// Shows the first 7 characters and last 4 characters.
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 15 {
		return "***"
	}
	return secret[:7] + "..." + secret[len(secret)-4:]
}

type field struct {
	get func(*Config) string
	set func(*Config, string) error
	// secret values are masked by Display.
	secret bool
}

func stringField(p func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func intField(p func(*Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", v, err)
			}
			*p(c) = n
			return nil
		},
	}
}

func boolField(p func(*Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*p(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q: %w", v, err)
			}
			*p(c) = b
			return nil
		},
	}
}

func durationField(p func(*Config) *time.Duration) field {
	return field{
		get: func(c *Config) string { return p(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", v, err)
			}
			*p(c) = d
			return nil
		},
	}
}

func secretField(p func(*Config) *string) field {
	f := stringField(p)
	f.secret = true
	return f
}

var fields = map[string]field{
	"generation.backend":               stringField(func(c *Config) *string { return &c.Generation.Backend }),
	"generation.model":                 stringField(func(c *Config) *string { return &c.Generation.Model }),
	"generation.api_key":               secretField(func(c *Config) *string { return &c.Generation.APIKey }),
	"generation.base_url":              stringField(func(c *Config) *string { return &c.Generation.BaseURL }),
	"generation.use_bedrock":           boolField(func(c *Config) *bool { return &c.Generation.UseBedrock }),
	"generation.aws_region":            stringField(func(c *Config) *string { return &c.Generation.AWSRegion }),
	"generation.aws_profile":           stringField(func(c *Config) *string { return &c.Generation.AWSProfile }),
	"generation.timeout":               durationField(func(c *Config) *time.Duration { return &c.Generation.Timeout }),
	"generation.max_transport_retries": intField(func(c *Config) *int { return &c.Generation.MaxTransportRetries }),
	"generation.backoff_base":          durationField(func(c *Config) *time.Duration { return &c.Generation.BackoffBase }),
	"generation.backoff_max":           durationField(func(c *Config) *time.Duration { return &c.Generation.BackoffMax }),

	"tracker.backend":      stringField(func(c *Config) *string { return &c.Tracker.Backend }),
	"tracker.owner":        stringField(func(c *Config) *string { return &c.Tracker.Owner }),
	"tracker.repo":         stringField(func(c *Config) *string { return &c.Tracker.Repo }),
	"tracker.token":        secretField(func(c *Config) *string { return &c.Tracker.Token }),
	"tracker.api_endpoint": stringField(func(c *Config) *string { return &c.Tracker.APIEndpoint }),
	"tracker.branch":       stringField(func(c *Config) *string { return &c.Tracker.Branch }),
	"tracker.commit_local": boolField(func(c *Config) *bool { return &c.Tracker.CommitLocal }),

	"loop.max_rounds":       intField(func(c *Config) *int { return &c.Loop.MaxRounds }),
	"loop.max_attempts":     intField(func(c *Config) *int { return &c.Loop.MaxAttempts }),
	"loop.plan_retries":     intField(func(c *Config) *int { return &c.Loop.PlanRetries }),
	"loop.min_plan_steps":   intField(func(c *Config) *int { return &c.Loop.MinPlanSteps }),
	"loop.max_plan_steps":   intField(func(c *Config) *int { return &c.Loop.MaxPlanSteps }),
	"loop.design_proposals": boolField(func(c *Config) *bool { return &c.Loop.DesignProposals }),

	"qa.test_command":    stringField(func(c *Config) *string { return &c.QA.TestCommand }),
	"qa.timeout":         durationField(func(c *Config) *time.Duration { return &c.QA.Timeout }),
	"qa.artifact_dir":    stringField(func(c *Config) *string { return &c.QA.ArtifactDir }),
	"qa.artifact_ext":    stringField(func(c *Config) *string { return &c.QA.ArtifactExt }),
	"qa.test_dir":        stringField(func(c *Config) *string { return &c.QA.TestDir }),
	"qa.language":        stringField(func(c *Config) *string { return &c.QA.Language }),
	"qa.success_marker":  stringField(func(c *Config) *string { return &c.QA.SuccessMarker }),
	"qa.comment_excerpt": intField(func(c *Config) *int { return &c.QA.CommentExcerpt }),
	"qa.defect_excerpt":  intField(func(c *Config) *int { return &c.QA.DefectExcerpt }),

	"paths.work_dir":        stringField(func(c *Config) *string { return &c.Paths.WorkDir }),
	"paths.state_file":      stringField(func(c *Config) *string { return &c.Paths.StateFile }),
	"paths.interaction_log": stringField(func(c *Config) *string { return &c.Paths.InteractionLog }),
	"paths.report_file":     stringField(func(c *Config) *string { return &c.Paths.ReportFile }),
	"paths.summary_cache":   stringField(func(c *Config) *string { return &c.Paths.SummaryCache }),
	"paths.database":        stringField(func(c *Config) *string { return &c.Paths.Database }),
	"paths.signals_dir":     stringField(func(c *Config) *string { return &c.Paths.SignalsDir }),
	"paths.release_assets":  stringField(func(c *Config) *string { return &c.Paths.ReleaseAssets }),

	"log.level":  stringField(func(c *Config) *string { return &c.Log.Level }),
	"log.format": stringField(func(c *Config) *string { return &c.Log.Format }),
	"log.file":   stringField(func(c *Config) *string { return &c.Log.File }),
}

// Keys returns every settable dot-notation key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the raw value for a dot-notation key.
func Get(cfg *Config, key string) (string, error) {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return f.get(cfg), nil
}

// Display returns the value for a key with secrets masked.
func Display(cfg *Config, key string) (string, error) {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	if f.secret {
		return MaskSecret(f.get(cfg)), nil
	}
	return f.get(cfg), nil
}

// Set parses and assigns the value for a dot-notation key.
func Set(cfg *Config, key, value string) error {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return f.set(cfg, value)
}
