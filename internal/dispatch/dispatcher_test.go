package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/pkg/models"
)

type recordingGenerator struct {
	prompts  []string
	response string
	err      error
}

func (g *recordingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.response, g.err
}

func okHandler(artifact string) Handler {
	return HandlerFunc(func(context.Context, models.Task, RunContext) (*Result, error) {
		return &Result{Artifact: artifact}, nil
	})
}

func TestRegistryResolve(t *testing.T) {
	reg := Registry{
		Frontend: okHandler("f"),
		Backend:  okHandler("b"),
		QA:       okHandler("q"),
	}
	for _, c := range []models.Capability{models.CapabilityFrontend, models.CapabilityBackend, models.CapabilityQA} {
		if _, err := reg.Resolve(c); err != nil {
			t.Errorf("Resolve(%s): %v", c, err)
		}
	}
	if _, err := reg.Resolve(models.CapabilityDevOps); !errors.Is(err, ErrNoHandler) {
		t.Errorf("Resolve(devops) = %v, want ErrNoHandler", err)
	}
	if _, err := reg.Resolve(models.Capability("planner")); !errors.Is(err, ErrUnknownCapability) {
		t.Errorf("Resolve(planner) = %v, want ErrUnknownCapability", err)
	}
}

func TestDispatch_Success(t *testing.T) {
	gen := &recordingGenerator{}
	d := New(Registry{Frontend: okHandler("lib/login.dart")}, gen, nil)

	out := d.Dispatch(context.Background(), "Frontend", models.Task{ID: 3, Title: "Login"}, RunContext{})
	if !out.OK() {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Result.Artifact != "lib/login.dart" || out.TaskID != 3 {
		t.Errorf("outcome = %+v", out)
	}
	if len(gen.prompts) != 0 {
		t.Error("diagnosis requested for a successful dispatch")
	}
}

func TestDispatch_UnknownCapabilityIsDiagnosed(t *testing.T) {
	gen := &recordingGenerator{response: "  The planner chose a role that does not exist. \n"}
	d := New(Registry{}, gen, nil)

	out := d.Dispatch(context.Background(), "design", models.Task{ID: 5, Title: "Mockups"}, RunContext{})
	if !errors.Is(out.Err, ErrUnknownCapability) {
		t.Fatalf("Err = %v, want ErrUnknownCapability", out.Err)
	}
	if out.Diagnosis != "The planner chose a role that does not exist." {
		t.Errorf("Diagnosis = %q", out.Diagnosis)
	}
	if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "design") {
		t.Errorf("diagnosis prompts = %q", gen.prompts)
	}
	if !out.Outstanding() {
		t.Error("failed dispatch should leave work outstanding")
	}
}

func TestDispatch_HandlerErrorAndPanic(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		handler Handler
		check   func(error) bool
	}{
		{
			name: "error",
			handler: HandlerFunc(func(context.Context, models.Task, RunContext) (*Result, error) {
				return nil, boom
			}),
			check: func(err error) bool { return errors.Is(err, boom) },
		},
		{
			name: "panic",
			handler: HandlerFunc(func(context.Context, models.Task, RunContext) (*Result, error) {
				panic("nil map")
			}),
			check: func(err error) bool {
				var pe *PanicError
				return errors.As(err, &pe) && pe.Value == "nil map" && len(pe.Stack) > 0
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &recordingGenerator{response: "fix it"}
			d := New(Registry{Backend: tt.handler}, gen, nil)

			out := d.Dispatch(context.Background(), "backend", models.Task{ID: 1}, RunContext{})
			if !tt.check(out.Err) {
				t.Fatalf("unexpected Err %v", out.Err)
			}
			if out.Diagnosis != "fix it" {
				t.Errorf("Diagnosis = %q", out.Diagnosis)
			}
		})
	}
}

func TestDispatch_DiagnosisFailureIsSwallowed(t *testing.T) {
	gen := &recordingGenerator{err: &llm.TransportError{Backend: "ollama", Status: 503}}
	d := New(Registry{}, gen, nil)

	out := d.Dispatch(context.Background(), "qa", models.Task{ID: 2}, RunContext{})
	if !errors.Is(out.Err, ErrNoHandler) {
		t.Fatalf("Err = %v, want ErrNoHandler", out.Err)
	}
	if out.Diagnosis != "" {
		t.Errorf("Diagnosis = %q, want empty", out.Diagnosis)
	}
}

func TestDispatch_CancelledContextSkipsDiagnosis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &recordingGenerator{response: "x"}
	handler := HandlerFunc(func(ctx context.Context, _ models.Task, _ RunContext) (*Result, error) {
		return nil, ctx.Err()
	})
	d := New(Registry{DevOps: handler}, gen, nil)

	out := d.Dispatch(ctx, "devops", models.Task{}, RunContext{})
	if !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("Err = %v", out.Err)
	}
	if len(gen.prompts) != 0 {
		t.Error("diagnosis should not be requested after cancellation")
	}
}

func TestDispatch_NilDiagnoser(t *testing.T) {
	d := New(Registry{}, nil, nil)
	out := d.Dispatch(context.Background(), "nonsense", models.Task{}, RunContext{})
	if out.OK() || out.Diagnosis != "" {
		t.Errorf("outcome = %+v", out)
	}
}
