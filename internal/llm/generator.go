// Package llm defines the text-generation boundary used by every handler.
//
// A Generator turns a prompt into free-form text. Backends (Anthropic, Ollama)
// are wrapped by decorators that add transport retries and interaction
// recording; none of them interpret the text they return.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Generator produces free-form text for a prompt.
// Output is neither deterministic nor guaranteed to be well-formed.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f(ctx, prompt).
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// TransportError reports that the generation service could not be reached or
// answered with a server-side failure. It is distinct from unparseable output.
type TransportError struct {
	Backend string
	Status  int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
// Network failures, 429 and 5xx statuses qualify; other client errors do not.
func (e *TransportError) Retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == 429:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable transport failure.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}
