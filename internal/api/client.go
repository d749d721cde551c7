// Package api provides direct Anthropic API integration for crew handlers.
package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ErrMissingAPIKey is returned when neither the config nor the environment provide a key.
var ErrMissingAPIKey = errors.New("ANTHROPIC_API_KEY environment variable is not set")

// DefaultMaxTokens bounds a single completion.
const DefaultMaxTokens = 8192

// Client wraps the Anthropic SDK client with usage tracking.
type Client struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	usage     *Usage
}

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// Model is the Claude model to use. Empty selects the SDK's Sonnet 4 model.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// MaxTokens caps each completion. Zero means DefaultMaxTokens.
	MaxTokens int64
	// UseAWSBedrock routes requests through AWS Bedrock instead of the direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string
}

// NewClient creates a new Anthropic API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	// Retries are owned by the llm transport policy.
	opts = append(opts, option.WithMaxRetries(0))

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = bedrockModel(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Client{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		usage:     &Usage{},
	}, nil
}

// bedrockModel converts standard model names to Bedrock cross-region inference profiles.
func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return string(c.model)
}

// Usage returns the usage counters for this client.
func (c *Client) Usage() *Usage {
	return c.usage
}

// Usage accumulates token counts across calls.
type Usage struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// Add records token usage from one call.
func (u *Usage) Add(input, output int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inputTok += input
	u.outputTok += output
	u.calls++
}

// Snapshot returns the calls made and tokens consumed so far.
func (u *Usage) Snapshot() (calls int, input, output int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls, u.inputTok, u.outputTok
}

// String renders usage for status output.
func (u *Usage) String() string {
	calls, in, out := u.Snapshot()
	return fmt.Sprintf("%d calls, %d input / %d output tokens", calls, in, out)
}
