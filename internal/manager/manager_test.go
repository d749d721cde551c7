package manager

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/crew/internal/dispatch"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/state"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/internal/validate"
	"github.com/ShayCichocki/crew/pkg/models"
)

// fakePlanner returns canned features and tasks and plans one step per open
// task with the configured capability.
type fakePlanner struct {
	features   []models.Feature
	tasks      map[string][]models.TaskDraft
	capability models.Capability
	planErr    error

	featureCalls int
	planCalls    int
}

func (p *fakePlanner) GenerateFeatures(context.Context, string) (validate.FeaturePartition, error) {
	p.featureCalls++
	return validate.FeaturePartition{Valid: append([]models.Feature(nil), p.features...)}, nil
}

func (p *fakePlanner) GenerateTasks(_ context.Context, f models.Feature, _ []models.Task) (validate.TaskPartition, error) {
	return validate.TaskPartition{Valid: p.tasks[f.Title]}, nil
}

func (p *fakePlanner) Plan(_ context.Context, open []models.Task) (*validate.PlanValidation, error) {
	p.planCalls++
	if p.planErr != nil {
		return nil, p.planErr
	}
	capability := p.capability
	if capability == "" {
		capability = models.CapabilityFrontend
	}
	plan := &validate.PlanValidation{}
	for _, t := range open {
		if len(plan.Steps) == 5 {
			break
		}
		plan.Steps = append(plan.Steps, models.PlanStep{Capability: capability, TaskID: t.ID})
	}
	return plan, nil
}

func (p *fakePlanner) ProposeDesign(context.Context, models.Feature) (models.Task, error) {
	return models.Task{}, errors.New("not used")
}

type fakeSignals struct {
	stop bool
}

func (s *fakeSignals) ShouldStop() bool                     { return s.stop }
func (s *fakeSignals) WaitWhilePaused(context.Context) bool { return false }

func loginPlanner() *fakePlanner {
	return &fakePlanner{
		features: []models.Feature{
			{Title: "Profile", Description: "Edit profile", Priority: 2, Status: models.FeatureStatusOpen},
			{Title: "Login", Description: "Sign in", Priority: 1, Status: models.FeatureStatusOpen},
		},
		tasks: map[string][]models.TaskDraft{
			"Login": {
				{Title: "Login form", Body: "Build the form", Labels: []string{"frontend"}},
				{Title: "Session API", Body: "Issue tokens", Labels: []string{"backend"}},
			},
			"Profile": {
				{Title: "Profile page", Body: "Show the profile", Labels: []string{"frontend"}},
			},
		},
	}
}

// closing returns a handler that closes every task it is given.
func closing(mem *tracker.Memory, calls *[]int) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, task models.Task, _ dispatch.RunContext) (*dispatch.Result, error) {
		*calls = append(*calls, task.ID)
		return &dispatch.Result{Detail: "done"}, mem.CloseTask(ctx, task.ID)
	})
}

func newManager(t *testing.T, p Planner, mem *tracker.Memory, reg dispatch.Registry, store state.ProjectStateStore, opts ...Option) *Manager {
	t.Helper()
	m, err := New(RequiredConfig{
		Planner:    p,
		Dispatcher: dispatch.New(reg, nil, nil),
		Tracker:    mem,
		Store:      store,
	}, append([]Option{WithRunIDFunc(func() string { return "run-1" })}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func drain(m *Manager) []Event {
	var events []Event
	for e := range m.Events() {
		events = append(events, e)
	}
	return events
}

func count(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(RequiredConfig{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestRun_CompletesFeatures(t *testing.T) {
	mem := tracker.NewMemory()
	store := state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json"))
	p := loginPlanner()
	var calls []int
	m := newManager(t, p, mem, dispatch.Registry{Frontend: closing(mem, &calls)}, store)

	sum, err := m.Run(context.Background(), "A members app")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(m)

	if sum.Status != state.RunCompleted || sum.Features != 2 || sum.Created != 3 {
		t.Errorf("summary = %+v", sum)
	}
	if len(calls) != 3 {
		t.Errorf("handler calls = %v", calls)
	}
	// Login has priority 1 and is processed first.
	if first, _ := mem.Task(calls[0]); first.Title != "Login form" {
		t.Errorf("first task = %q", first.Title)
	}

	ps, found, err := store.Load()
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if ps.Description != "A members app" {
		t.Errorf("description = %q", ps.Description)
	}
	for _, f := range ps.Features {
		if f.Status != models.FeatureStatusDone {
			t.Errorf("feature %s status = %s", f.Title, f.Status)
		}
	}
	if got := len(ps.Feature("Login").TaskIDs); got != 2 {
		t.Errorf("Login task ids = %d", got)
	}

	if count(events, EventFeaturesGenerated) != 1 || count(events, EventFeatureCompleted) != 2 || count(events, EventRunDone) != 1 {
		t.Errorf("unexpected events: %+v", events)
	}
	for _, e := range events {
		if e.RunID != "run-1" {
			t.Fatalf("event without run id: %+v", e)
		}
	}
}

func TestRun_TasksCarryIdempotencyKey(t *testing.T) {
	mem := tracker.NewMemory()
	store := state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json"))
	m := newManager(t, loginPlanner(), mem, dispatch.Registry{}, store, WithMaxRounds(1))

	if _, err := m.Run(context.Background(), "A members app"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	keys := tracker.KeysOf(mem.Tasks())
	if _, ok := keys[tracker.IdempotencyKey("Login", "Login form")]; !ok {
		t.Errorf("keys = %v", keys)
	}
}

func TestRun_SecondRunDoesNotDuplicateTasks(t *testing.T) {
	mem := tracker.NewMemory()
	store := state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json"))
	p := loginPlanner()
	noop := dispatch.HandlerFunc(func(context.Context, models.Task, dispatch.RunContext) (*dispatch.Result, error) {
		return &dispatch.Result{}, nil
	})

	first := newManager(t, p, mem, dispatch.Registry{Frontend: noop}, store, WithMaxRounds(1))
	sum, err := first.Run(context.Background(), "A members app")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if len(sum.Unresolved) != 2 {
		t.Errorf("unresolved = %v", sum.Unresolved)
	}

	second := newManager(t, p, mem, dispatch.Registry{Frontend: noop}, store, WithMaxRounds(1))
	sum, err = second.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Created != 0 || sum.Duplicates != 3 {
		t.Errorf("created = %d, duplicates = %d", sum.Created, sum.Duplicates)
	}
	if got := len(mem.Tasks()); got != 3 {
		t.Errorf("tracker has %d tasks, want 3", got)
	}
	if p.featureCalls != 1 {
		t.Errorf("features generated %d times", p.featureCalls)
	}
}

func TestRun_TaskKeyStoreDeduplicatesClosedTasks(t *testing.T) {
	db, err := state.OpenMigrated(filepath.Join(t.TempDir(), "crew.db"))
	if err != nil {
		t.Fatalf("OpenMigrated: %v", err)
	}
	defer db.Close()

	mem := tracker.NewMemory()
	dir := t.TempDir()
	p := loginPlanner()
	p.features = p.features[1:]
	var calls []int

	first := newManager(t, p, mem, dispatch.Registry{Frontend: closing(mem, &calls)},
		state.NewProjectStore(filepath.Join(dir, "a.json")), WithTaskKeys(db), WithLedger(db))
	if _, err := first.Run(context.Background(), "A members app"); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// A fresh project state regenerates the same tasks; they are closed, so only
	// the key store can recognise them.
	second := newManager(t, p, mem, dispatch.Registry{Frontend: closing(mem, &calls)},
		state.NewProjectStore(filepath.Join(dir, "b.json")), WithTaskKeys(db))
	sum, err := second.Run(context.Background(), "A members app")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Created != 0 || sum.Duplicates != 2 {
		t.Errorf("created = %d, duplicates = %d", sum.Created, sum.Duplicates)
	}

	runs, err := db.RecentRuns(5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != state.RunCompleted || runs[0].Features != 1 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRun_QARepeatsWhileOutstanding(t *testing.T) {
	mem := tracker.NewMemory()
	store := state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json"))
	p := loginPlanner()
	p.features = p.features[1:]
	p.tasks["Login"] = p.tasks["Login"][:1]
	p.capability = models.CapabilityQA

	calls := 0
	qa := dispatch.HandlerFunc(func(context.Context, models.Task, dispatch.RunContext) (*dispatch.Result, error) {
		calls++
		return &dispatch.Result{Outstanding: true}, nil
	})
	m := newManager(t, p, mem, dispatch.Registry{QA: qa}, store, WithMaxRounds(2))

	sum, err := m.Run(context.Background(), "A members app")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Two rounds, each repeating the qa step twice.
	if calls != 4 {
		t.Errorf("qa calls = %d, want 4", calls)
	}
	if sum.Rounds != 2 || len(sum.Unresolved) != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_HandlerFailureDoesNotStopRound(t *testing.T) {
	mem := tracker.NewMemory()
	store := state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json"))
	p := loginPlanner()
	p.features = p.features[1:]

	var handled []int
	h := dispatch.HandlerFunc(func(ctx context.Context, task models.Task, _ dispatch.RunContext) (*dispatch.Result, error) {
		if task.Title == "Login form" {
			return nil, errors.New("model unavailable")
		}
		handled = append(handled, task.ID)
		return &dispatch.Result{}, mem.CloseTask(ctx, task.ID)
	})
	m := newManager(t, p, mem, dispatch.Registry{Frontend: h}, store, WithMaxRounds(1))

	sum, err := m.Run(context.Background(), "A members app")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(m)
	if len(handled) != 1 || sum.Failures != 1 || sum.Steps != 2 {
		t.Errorf("handled = %v, summary = %+v", handled, sum)
	}
	if count(events, EventStepFailed) != 1 || count(events, EventFeatureUnresolved) != 1 {
		t.Errorf("events = %+v", events)
	}
}

func TestRun_PlanFailureSkipsRound(t *testing.T) {
	mem := tracker.NewMemory()
	store := state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json"))
	p := loginPlanner()
	p.features = p.features[1:]
	p.planErr = validate.ErrMalformedPlan

	m := newManager(t, p, mem, dispatch.Registry{}, store, WithMaxRounds(3))
	sum, err := m.Run(context.Background(), "A members app")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(m)
	if p.planCalls != 3 || count(events, EventPlanFailed) != 3 {
		t.Errorf("plan calls = %d, events = %+v", p.planCalls, events)
	}
	if sum.Steps != 0 || sum.Status != state.RunCompleted {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_StopSignalCheckpoints(t *testing.T) {
	mem := tracker.NewMemory()
	store := state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json"))
	sig := &fakeSignals{}
	stopping := dispatch.HandlerFunc(func(context.Context, models.Task, dispatch.RunContext) (*dispatch.Result, error) {
		sig.stop = true
		return &dispatch.Result{}, nil
	})
	m := newManager(t, loginPlanner(), mem, dispatch.Registry{Frontend: stopping}, store, WithSignals(sig))

	sum, err := m.Run(context.Background(), "A members app")
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if sum.Status != state.RunStopped || sum.Steps != 1 {
		t.Errorf("summary = %+v", sum)
	}
	ps, _, _ := store.Load()
	if login := ps.Feature("Login"); login == nil || login.Status != models.FeatureStatusInProgress {
		t.Errorf("checkpointed state = %+v", ps.Features)
	}
	if count(drain(m), EventRunStopped) != 1 {
		t.Error("missing run_stopped event")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newManager(t, loginPlanner(), tracker.NewMemory(), dispatch.Registry{},
		state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json")))

	sum, err := m.Run(ctx, "A members app")
	if !errors.Is(err, context.Canceled) || sum.Status != state.RunStopped {
		t.Errorf("err = %v, status = %s", err, sum.Status)
	}
}

func TestRun_NoFeatures(t *testing.T) {
	p := &fakePlanner{}
	m := newManager(t, p, tracker.NewMemory(), dispatch.Registry{},
		state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json")))

	sum, err := m.Run(context.Background(), "A members app")
	if !errors.Is(err, ErrNoFeatures) || sum.Status != state.RunFailed {
		t.Errorf("err = %v, status = %s", err, sum.Status)
	}

	m = newManager(t, p, tracker.NewMemory(), dispatch.Registry{},
		state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json")))
	if _, err := m.Run(context.Background(), ""); !errors.Is(err, ErrNoFeatures) {
		t.Errorf("empty description: err = %v", err)
	}
	if p.featureCalls != 1 {
		t.Errorf("feature generation called %d times", p.featureCalls)
	}
}

func TestRun_SkipsFinishedFeatures(t *testing.T) {
	store := state.NewProjectStore(filepath.Join(t.TempDir(), "project_state.json"))
	if err := store.Save(&models.ProjectState{
		Description: "Stored app",
		Features: []models.Feature{
			{Title: "Login", Status: models.FeatureStatusDone, Priority: 1},
			{Title: "Profile", Status: models.FeatureStatusOpen, Priority: 2},
		},
	}); err != nil {
		t.Fatal(err)
	}
	mem := tracker.NewMemory()
	p := loginPlanner()
	var calls []int
	m := newManager(t, p, mem, dispatch.Registry{Frontend: closing(mem, &calls)}, store)

	sum, err := m.Run(context.Background(), "Different description")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.featureCalls != 0 || sum.Features != 1 || sum.Created != 1 {
		t.Errorf("featureCalls = %d, summary = %+v", p.featureCalls, sum)
	}
	ps, _, _ := store.Load()
	if ps.Description != "Stored app" {
		t.Errorf("description = %q", ps.Description)
	}
}

func TestFeatureOrder(t *testing.T) {
	got := featureOrder([]models.Feature{
		{Title: "c", Priority: 3},
		{Title: "a", Priority: 1},
		{Title: "b1", Priority: 2},
		{Title: "b2", Priority: 2},
	})
	want := []int{1, 2, 3, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestEventEmitter_DropsWhenFull(t *testing.T) {
	e := NewEventEmitter(1, logging.Discard())
	e.Emit(Event{Type: EventCheckpoint})

	start := time.Now()
	e.Emit(Event{Type: EventCheckpoint})
	if time.Since(start) < 100*time.Millisecond {
		t.Error("emit should wait before dropping")
	}
	if e.DroppedCount() != 1 {
		t.Errorf("dropped = %d", e.DroppedCount())
	}

	e.Close()
	e.Close()
	got := <-e.Events()
	if got.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if _, ok := <-e.Events(); ok {
		t.Error("channel should be closed")
	}
}
