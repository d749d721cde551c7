package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// scripted returns queued results in order.
type scripted struct {
	mu      sync.Mutex
	outputs []string
	errs    []error
	calls   int
}

func (s *scripted) Generate(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	var out string
	var err error
	if i < len(s.outputs) {
		out = s.outputs[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return out, err
}

// memRecorder keeps interactions in memory.
type memRecorder struct {
	mu   sync.Mutex
	seen []Interaction
}

func (m *memRecorder) Record(_ context.Context, in Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, in)
	return nil
}

func TestTransportError_Retryable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"network failure", 0, true},
		{"rate limited", 429, true},
		{"server error", 503, true},
		{"bad request", 400, false},
		{"unauthorized", 401, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &TransportError{Backend: "x", Status: tt.status, Err: errors.New("boom")}
			if got := IsRetryable(err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}

	if IsRetryable(context.Canceled) {
		t.Error("context.Canceled must not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("untyped errors must not be retryable")
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestWithTransportRetry_RetriesTransientThenSucceeds(t *testing.T) {
	inner := &scripted{
		outputs: []string{"", "", "ok"},
		errs: []error{
			&TransportError{Backend: "x", Err: errors.New("connection refused")},
			&TransportError{Backend: "x", Status: 502, Err: errors.New("bad gateway")},
		},
	}
	g := WithTransportRetry(inner, RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond}, nil).(*retrying)
	var slept []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	out, err := g.Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q, want ok", out)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
	if len(slept) != 2 || slept[1] != 2*time.Millisecond {
		t.Errorf("slept = %v, want [1ms 2ms]", slept)
	}
}

func TestWithTransportRetry_DoesNotRetryClientErrors(t *testing.T) {
	inner := &scripted{errs: []error{&TransportError{Backend: "x", Status: 401, Err: errors.New("nope")}}}
	g := WithTransportRetry(inner, RetryPolicy{MaxAttempts: 4}, nil)

	if _, err := g.Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestWithTransportRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	transient := &TransportError{Backend: "x", Err: errors.New("down")}
	inner := &scripted{errs: []error{transient, transient, transient}}
	g := WithTransportRetry(inner, RetryPolicy{MaxAttempts: 3}, nil)

	_, err := g.Generate(context.Background(), "p")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestWithTransportRetry_MalformedOutputIsNotRetried(t *testing.T) {
	inner := &scripted{outputs: []string{"not json at all"}}
	g := WithTransportRetry(inner, DefaultRetryPolicy, nil)

	out, err := g.Generate(context.Background(), "p")
	if err != nil || out != "not json at all" {
		t.Fatalf("Generate = %q, %v", out, err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestOllama_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"model":"m","response":"[1,2]","done":true}`)
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: srv.URL + "/", Model: "m"})
	out, err := o.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "[1,2]" {
		t.Errorf("out = %q", out)
	}
	if got["model"] != "m" || got["prompt"] != "hello" || got["stream"] != false {
		t.Errorf("request body = %v", got)
	}
}

func TestOllama_ServerErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Generate(context.Background(), "x")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if te.Status != 500 || !te.Retryable() {
		t.Errorf("status = %d retryable = %v", te.Status, te.Retryable())
	}
}

func TestOllama_Defaults(t *testing.T) {
	o := NewOllama(OllamaConfig{})
	if o.Model() != defaultOllamaModel {
		t.Errorf("Model() = %q", o.Model())
	}
	if o.baseURL != defaultOllamaURL {
		t.Errorf("baseURL = %q", o.baseURL)
	}
}

func TestFileLog_AppendsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gen", "interactions.log")
	l, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("NewFileLog failed: %v", err)
	}

	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	if err := l.Record(context.Background(), Interaction{Time: ts, Agent: "planner", Prompt: " first \n", Response: "one"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.Record(context.Background(), Interaction{Time: ts, Agent: "qa", Prompt: "second", Response: "", Err: "timeout"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)

	if strings.Count(content, strings.Repeat("=", 80)) != 2 {
		t.Errorf("expected two separators:\n%s", content)
	}
	if !strings.Contains(content, "[2024-05-01 10:30:00] Agent: planner\n>>> PROMPT:\nfirst\n\n>>> RESPONSE:\none\n") {
		t.Errorf("unexpected first entry:\n%s", content)
	}
	if strings.Index(content, "Agent: planner") > strings.Index(content, "Agent: qa") {
		t.Error("entries out of order")
	}
	if !strings.Contains(content, ">>> ERROR:\ntimeout") {
		t.Error("transport error not logged")
	}
}

func TestRecorded_LogsSuccessAndFailure(t *testing.T) {
	rec := &memRecorder{}
	inner := &scripted{outputs: []string{"fine", ""}, errs: []error{nil, errors.New("down")}}
	g := Recorded(inner, rec, "backend", nil)

	_, _ = g.Generate(context.Background(), "a")
	_, _ = g.Generate(context.Background(), "b")

	if len(rec.seen) != 2 {
		t.Fatalf("recorded %d interactions, want 2", len(rec.seen))
	}
	if rec.seen[0].Agent != "backend" || rec.seen[0].Response != "fine" {
		t.Errorf("first = %+v", rec.seen[0])
	}
	if rec.seen[1].Err != "down" {
		t.Errorf("second err = %q", rec.seen[1].Err)
	}
}

func TestRecorded_LogsRecorderFailure(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	rec := recorderFunc(func(context.Context, Interaction) error { return errors.New("disk full") })
	inner := &scripted{outputs: []string{"fine"}}

	out, err := Recorded(inner, rec, "qa", logger).Generate(context.Background(), "a")
	if err != nil || out != "fine" {
		t.Fatalf("Generate() = %q, %v; a recording failure must not fail generation", out, err)
	}
	for _, want := range []string{"failed to record interaction", "agent=qa", "disk full"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log missing %q:\n%s", want, logs.String())
		}
	}
}

func TestRecorded_NilRecorderPassesThrough(t *testing.T) {
	inner := &scripted{outputs: []string{"x"}}
	if g := Recorded(inner, nil, "a", nil); g != Generator(inner) {
		t.Error("Recorded with nil recorder should return the inner generator")
	}
}

func TestMultiRecorder_JoinsErrors(t *testing.T) {
	good := &memRecorder{}
	bad := recorderFunc(func(context.Context, Interaction) error { return errors.New("disk full") })

	err := MultiRecorder{good, nil, bad}.Record(context.Background(), Interaction{Agent: "a"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("err = %v", err)
	}
	if len(good.seen) != 1 {
		t.Error("good recorder should still receive the interaction")
	}
}

type recorderFunc func(context.Context, Interaction) error

func (f recorderFunc) Record(ctx context.Context, in Interaction) error { return f(ctx, in) }
