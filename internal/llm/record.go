package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Interaction is one prompt/response exchange with the generator.
type Interaction struct {
	Time     time.Time
	Agent    string
	Prompt   string
	Response string
	// Err is set when the exchange failed at the transport level.
	Err string
}

// Recorder stores interactions. Implementations must be append-only.
type Recorder interface {
	Record(ctx context.Context, in Interaction) error
}

// FileLog appends interactions to a human-readable text log.
type FileLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileLog creates the parent directory of path and returns a log writing to it.
func NewFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create interaction log directory: %w", err)
	}
	return &FileLog{path: path, now: time.Now}, nil
}

// Path returns the log file location.
func (l *FileLog) Path() string { return l.path }

// Record implements Recorder.
func (l *FileLog) Record(_ context.Context, in Interaction) error {
	if in.Time.IsZero() {
		in.Time = l.now()
	}

	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&b, "[%s] Agent: %s\n", in.Time.Format("2006-01-02 15:04:05"), in.Agent)
	b.WriteString(">>> PROMPT:\n")
	b.WriteString(strings.TrimSpace(in.Prompt) + "\n\n")
	b.WriteString(">>> RESPONSE:\n")
	b.WriteString(strings.TrimSpace(in.Response) + "\n\n")
	if in.Err != "" {
		b.WriteString(">>> ERROR:\n")
		b.WriteString(strings.TrimSpace(in.Err) + "\n\n")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open interaction log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write interaction log: %w", err)
	}
	return nil
}

// MultiRecorder fans an interaction out to several recorders.
type MultiRecorder []Recorder

// Record writes to every recorder and joins their errors.
func (m MultiRecorder) Record(ctx context.Context, in Interaction) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, in); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type recorded struct {
	inner    Generator
	recorder Recorder
	agent    string
	logger   *slog.Logger
}

// Recorded logs every call made through g under the given agent name.
// Recording failures are logged and never fail the generation.
func Recorded(g Generator, rec Recorder, agent string, logger *slog.Logger) Generator {
	if rec == nil {
		return g
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &recorded{inner: g, recorder: rec, agent: agent, logger: logger}
}

func (r *recorded) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := r.inner.Generate(ctx, prompt)
	in := Interaction{Time: time.Now(), Agent: r.agent, Prompt: prompt, Response: out}
	if err != nil {
		in.Err = err.Error()
	}
	if rerr := r.recorder.Record(ctx, in); rerr != nil {
		r.logger.Warn("failed to record interaction", "agent", r.agent, "error", rerr)
	}
	return out, err
}
