// Package extract turns free-form model output into structured values.
//
// An Extractor repeatedly asks a generator for a response until one of them
// parses as JSON or the attempt budget runs out. Between attempts it
// re-prompts with a corrective prompt built from the original prompt and the
// failed response. It validates syntax only; shape checks belong to callers.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/crew/internal/llm"
)

// DefaultMaxAttempts bounds generator calls per extraction.
const DefaultMaxAttempts = 10

var (
	// ErrUnparseableOutput is returned when every attempt failed to parse.
	ErrUnparseableOutput = errors.New("unparseable model output")
	// ErrUnexpectedShape is returned by the shape helpers when the parsed value
	// is valid JSON of the wrong kind.
	ErrUnexpectedShape = errors.New("unexpected output shape")
)

// UnparseableError carries the details of an exhausted extraction.
type UnparseableError struct {
	Attempts     int
	LastResponse string
}

func (e *UnparseableError) Error() string {
	return fmt.Sprintf("%v after %d attempts", ErrUnparseableOutput, e.Attempts)
}

// Is makes errors.Is(err, ErrUnparseableOutput) succeed.
func (e *UnparseableError) Is(target error) bool {
	return target == ErrUnparseableOutput
}

// Attempt records one generator round trip.
type Attempt struct {
	Index    int
	Prompt   string
	Response string
	Strategy Strategy
	Err      error
}

// Result is a parsed value plus the attempts that produced it.
type Result struct {
	Value    any
	Attempts []Attempt
}

// Extractor performs bounded extraction against a generator.
type Extractor struct {
	gen         llm.Generator
	recorder    llm.Recorder
	agent       string
	shape       string
	maxAttempts int
	logger      *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxAttempts sets the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(e *Extractor) {
		if n >= 1 {
			e.maxAttempts = n
		}
	}
}

// WithRecorder appends every prompt/response pair to rec.
func WithRecorder(rec llm.Recorder) Option {
	return func(e *Extractor) { e.recorder = rec }
}

// WithAgent names the caller in the interaction log.
func WithAgent(name string) Option {
	return func(e *Extractor) { e.agent = name }
}

// WithShape describes the expected JSON shape in corrective prompts.
func WithShape(description string) Option {
	return func(e *Extractor) { e.shape = description }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Extractor.
func New(gen llm.Generator, opts ...Option) *Extractor {
	e := &Extractor{
		gen:         gen,
		agent:       "extractor",
		shape:       "a JSON value",
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// With returns a copy of e with extra options applied.
func (e *Extractor) With(opts ...Option) *Extractor {
	c := *e
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// MaxAttempts returns the attempt budget.
func (e *Extractor) MaxAttempts() int { return e.maxAttempts }

// Extract obtains a parsed JSON value for prompt.
// Transport failures end the extraction immediately and are returned wrapped;
// only parse failures consume the retry budget.
func (e *Extractor) Extract(ctx context.Context, prompt string) (*Result, error) {
	res := &Result{}
	current := prompt
	var last string

	for i := 1; i <= e.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		raw, err := e.gen.Generate(ctx, current)
		e.record(ctx, current, raw, err)

		attempt := Attempt{Index: i, Prompt: current, Response: raw}
		if err != nil {
			attempt.Err = err
			res.Attempts = append(res.Attempts, attempt)
			return res, fmt.Errorf("generate (attempt %d): %w", i, err)
		}

		value, strategy, perr := Parse(raw)
		if perr == nil {
			attempt.Strategy = strategy
			res.Attempts = append(res.Attempts, attempt)
			res.Value = value
			if i > 1 {
				e.logger.Info("extraction recovered", "agent", e.agent, "attempt", i, "strategy", string(strategy))
			}
			return res, nil
		}

		attempt.Err = perr
		res.Attempts = append(res.Attempts, attempt)
		e.logger.Warn("model output did not parse", "agent", e.agent, "attempt", i,
			"max_attempts", e.maxAttempts, "error", perr)

		last = raw
		current = CorrectivePrompt(prompt, raw, e.shape)
	}

	return res, &UnparseableError{Attempts: e.maxAttempts, LastResponse: last}
}

func (e *Extractor) record(ctx context.Context, prompt, response string, err error) {
	if e.recorder == nil {
		return
	}
	in := llm.Interaction{Time: time.Now(), Agent: e.agent, Prompt: prompt, Response: response}
	if err != nil {
		in.Err = err.Error()
	}
	if rerr := e.recorder.Record(ctx, in); rerr != nil {
		e.logger.Warn("failed to record interaction", "agent", e.agent, "error", rerr)
	}
}

// ExtractList extracts a JSON array. A bare object is treated as a one-element
// list, and an object whose only field is an array is unwrapped.
func (e *Extractor) ExtractList(ctx context.Context, prompt string) ([]any, error) {
	res, err := e.Extract(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return AsList(res.Value)
}

// ExtractObject extracts a JSON object. A one-element array holding an object is unwrapped.
func (e *Extractor) ExtractObject(ctx context.Context, prompt string) (map[string]any, error) {
	res, err := e.Extract(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return AsObject(res.Value)
}

// AsList coerces a parsed value into a list.
func AsList(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case map[string]any:
		if len(t) == 1 {
			for _, inner := range t {
				if list, ok := inner.([]any); ok {
					return list, nil
				}
			}
		}
		return []any{t}, nil
	default:
		return nil, fmt.Errorf("%w: want list, got %T", ErrUnexpectedShape, v)
	}
}

// AsObject coerces a parsed value into an object.
func AsObject(v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		if len(t) == 1 {
			if obj, ok := t[0].(map[string]any); ok {
				return obj, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: want object, got %T", ErrUnexpectedShape, v)
}

// Decode converts a parsed value into a typed target via a JSON round trip.
func Decode(value any, target any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("re-encode value: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return nil
}
