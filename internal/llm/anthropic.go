package llm

import (
	"context"

	"github.com/ShayCichocki/crew/internal/api"
)

// Anthropic generates text through the Anthropic Messages API.
type Anthropic struct {
	client *api.Client
	system string
}

// NewAnthropic wraps an API client. system may be empty.
func NewAnthropic(client *api.Client, system string) *Anthropic {
	return &Anthropic{client: client, system: system}
}

// Generate implements Generator.
func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := a.client.CompleteWithSystem(ctx, a.system, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Backend: "anthropic", Status: api.StatusCode(err), Err: err}
	}
	return out, nil
}
