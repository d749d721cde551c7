package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL     = "http://localhost:11434"
	defaultOllamaModel   = "deepseek-coder:6.7b"
	defaultOllamaTimeout = 5 * time.Minute
)

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Ollama generates text through a local Ollama server's /api/generate endpoint.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates an Ollama generator, filling unset fields with defaults.
func NewOllama(cfg OllamaConfig) *Ollama {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOllamaModel
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultOllamaTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Ollama{baseURL: baseURL, model: model, httpClient: client}
}

// Model returns the configured model name.
func (o *Ollama) Model() string { return o.model }

// Generate implements Generator.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":  o.model,
		"prompt": prompt,
		"stream": false,
	})
	if err != nil {
		return "", fmt.Errorf("encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Backend: "ollama", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &TransportError{
			Backend: "ollama",
			Status:  resp.StatusCode,
			Err:     errors.New(strings.TrimSpace(string(body))),
		}
	}

	var decoded struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &TransportError{Backend: "ollama", Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if decoded.Error != "" {
		return "", &TransportError{Backend: "ollama", Status: http.StatusInternalServerError, Err: errors.New(decoded.Error)}
	}
	return decoded.Response, nil
}
