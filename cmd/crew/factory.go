package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/ShayCichocki/crew/internal/api"
	"github.com/ShayCichocki/crew/internal/capability"
	"github.com/ShayCichocki/crew/internal/config"
	"github.com/ShayCichocki/crew/internal/dispatch"
	"github.com/ShayCichocki/crew/internal/extract"
	"github.com/ShayCichocki/crew/internal/git"
	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/manager"
	"github.com/ShayCichocki/crew/internal/planner"
	"github.com/ShayCichocki/crew/internal/qa"
	"github.com/ShayCichocki/crew/internal/signals"
	"github.com/ShayCichocki/crew/internal/state"
	"github.com/ShayCichocki/crew/internal/summary"
	"github.com/ShayCichocki/crew/internal/testrun"
	"github.com/ShayCichocki/crew/internal/tracker"
)

// systemPrompt is sent with every Anthropic request.
const systemPrompt = "You are a member of a software team building a Flutter application. Follow the requested output format exactly."

// appOptions adjust how the collaborators are built.
type appOptions struct {
	// dryRun replaces the remote tracker with the in-memory backend.
	dryRun bool
	// logOutput overrides the log destination; the log file still applies.
	logOutput io.Writer
	// project names the project in releases.
	project string
	// generator replaces the configured backend (tests).
	generator llm.Generator
	// noGeneration skips building the generation backend for commands
	// that never call the model.
	noGeneration bool
}

// errNoGeneration is returned by the placeholder generator of noGeneration apps.
var errNoGeneration = errors.New("generation is not available for this command")

// app owns every long-lived collaborator of a command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	workDir string

	db        *state.DB
	store     *state.ProjectStore
	backend   tracker.Backend
	artifacts tracker.Artifacts
	recorder  llm.Recorder
	base      llm.Generator

	planner    *planner.Planner
	dispatcher *dispatch.Dispatcher
	summary    *summary.Generator
	devops     *capability.DevOps
	signals    *signals.Watcher

	closers []io.Closer
}

// newApp builds the collaborator graph from cfg. Missing credentials and an
// unreachable tracker are fatal here; everything later degrades gracefully.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// build opens resources in order, registering each closer as it goes.
func (a *app) build(ctx context.Context, opts appOptions) (err error) {
	cfg := a.cfg

	a.workDir, err = filepath.Abs(cfg.Paths.WorkDir)
	if err != nil {
		return fmt.Errorf("resolve work dir: %w", err)
	}

	var logCloser io.Closer
	a.logger, logCloser, err = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   a.resolve(cfg.Log.File),
		Output: opts.logOutput,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, logCloser)

	a.db, err = state.OpenMigrated(a.resolve(cfg.Paths.Database))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	a.closers = append(a.closers, a.db)
	a.store = state.NewProjectStore(a.resolve(cfg.Paths.StateFile))

	fileLog, err := llm.NewFileLog(a.resolve(cfg.Paths.InteractionLog))
	if err != nil {
		return err
	}
	a.recorder = llm.MultiRecorder{fileLog, a.db}

	a.base = opts.generator
	if a.base == nil && opts.noGeneration {
		a.base = llm.GeneratorFunc(func(context.Context, string) (string, error) {
			return "", errNoGeneration
		})
	}
	if a.base == nil {
		if a.base, err = newGenerator(cfg, a.logger); err != nil {
			return err
		}
	}

	if a.backend, err = newBackend(ctx, cfg, opts.dryRun, a.logger); err != nil {
		return err
	}
	mirrorOpts := []tracker.MirrorOption{tracker.WithMirrorLogger(a.logger)}
	if cfg.Tracker.CommitLocal {
		if repo := git.NewRunner(a.workDir); repo.IsRepository() {
			mirrorOpts = append(mirrorOpts, tracker.WithGit(repo))
		} else {
			a.logger.Warn("commit_local is set but the work dir is not a git repository", "dir", a.workDir)
		}
	}
	a.artifacts = tracker.NewMirror(a.workDir, a.backend, mirrorOpts...)

	runnerOpts := []testrun.Option{testrun.WithLogger(a.logger)}
	if cfg.QA.SuccessMarker != "" {
		runnerOpts = append(runnerOpts, testrun.WithSuccessMarker(cfg.QA.SuccessMarker))
	}
	loop := qa.New(qa.Config{
		WorkDir:        a.workDir,
		ArtifactDir:    cfg.QA.ArtifactDir,
		ArtifactExt:    cfg.QA.ArtifactExt,
		TestDir:        cfg.QA.TestDir,
		Language:       cfg.QA.Language,
		Timeout:        cfg.QA.Timeout,
		CommentExcerpt: cfg.QA.CommentExcerpt,
		DefectExcerpt:  cfg.QA.DefectExcerpt,
	}, qa.Deps{
		Tracker:   a.backend,
		Artifacts: a.artifacts,
		Index:     a.db,
		Generator: a.writer("qa"),
		Extractor: a.extractor("qa"),
		Runner:    testrun.NewCommandRunner(cfg.QA.TestCommand, runnerOpts...),
		Logger:    a.logger,
	})

	a.devops = capability.NewDevOps(capability.DevOpsConfig{
		Project:   opts.project,
		AssetsDir: a.resolve(cfg.Paths.ReleaseAssets),
	}, a.backend, a.logger)

	a.dispatcher = dispatch.New(dispatch.Registry{
		Frontend: a.codegen(capability.FrontendConfig()),
		Backend:  a.codegen(capability.BackendConfig()),
		QA:       capability.NewReview(loop, a.backend, a.db, a.resolve(cfg.Paths.ReportFile), a.logger),
		DevOps:   a.devops,
	}, a.writer("dispatch"), a.logger)

	a.planner = planner.New(planner.Config{
		MinSteps:    cfg.Loop.MinPlanSteps,
		MaxSteps:    cfg.Loop.MaxPlanSteps,
		PlanRetries: cfg.Loop.PlanRetries,
	}, a.extractor("manager"), a.writer("manager"), a.backend, a.logger)

	a.summary = summary.New(summary.Config{
		Root:      a.workDir,
		CachePath: cfg.Paths.SummaryCache,
	}, a.writer("summary"), a.artifacts, a.logger)

	a.signals, err = signals.NewWatcher(a.resolve(cfg.Paths.SignalsDir), a.logger)
	if err != nil {
		return fmt.Errorf("watch signals: %w", err)
	}
	a.closers = append(a.closers, a.signals)

	return nil
}

// newManager wires a Manager for one run.
func (a *app) newManager() (*manager.Manager, error) {
	return manager.New(manager.RequiredConfig{
		Planner:    a.planner,
		Dispatcher: a.dispatcher,
		Tracker:    a.backend,
		Store:      a.store,
	},
		manager.WithMaxRounds(a.cfg.Loop.MaxRounds),
		manager.WithDesignProposals(a.cfg.Loop.DesignProposals),
		manager.WithLedger(a.db),
		manager.WithTaskKeys(a.db),
		manager.WithSummary(a.summary),
		manager.WithSignals(a.signals),
		manager.WithLogger(a.logger),
	)
}

// writer returns the free-form generator for agent, recorded in the interaction log.
func (a *app) writer(agent string) llm.Generator {
	return llm.Recorded(a.base, a.recorder, agent, a.logger)
}

// extractor returns a structured-output extractor for agent. It records each
// attempt itself, so it wraps the unrecorded generator.
func (a *app) extractor(agent string) *extract.Extractor {
	return extract.New(a.base,
		extract.WithMaxAttempts(a.cfg.Loop.MaxAttempts),
		extract.WithRecorder(a.recorder),
		extract.WithAgent(agent),
		extract.WithLogger(a.logger),
	)
}

func (a *app) codegen(cfg capability.CodegenConfig) *capability.Codegen {
	agent := string(cfg.Capability)
	return capability.NewCodegen(cfg, capability.CodegenDeps{
		Extractor: a.extractor(agent),
		Writer:    a.writer(agent),
		Tracker:   a.backend,
		Artifacts: a.artifacts,
		Index:     a.db,
		Logger:    a.logger,
	})
}

// resolve places a configured relative path inside the work dir. Empty stays empty.
func (a *app) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.workDir, path)
}

// Close releases every opened resource in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newGenerator builds the configured generation backend with transport retries.
func newGenerator(cfg *config.Config, logger *slog.Logger) (llm.Generator, error) {
	var gen llm.Generator
	switch cfg.Generation.Backend {
	case "", "anthropic":
		key := ""
		if !cfg.Generation.UseBedrock {
			var err error
			if key, err = config.GetAPIKey(cfg); err != nil {
				return nil, fmt.Errorf("%w (set ANTHROPIC_API_KEY or generation.api_key)", err)
			}
		}
		client, err := api.NewClient(api.ClientConfig{
			Model:         cfg.Generation.Model,
			APIKey:        key,
			MaxTokens:     cfg.Generation.MaxTokens,
			UseAWSBedrock: cfg.Generation.UseBedrock,
			AWSRegion:     cfg.Generation.AWSRegion,
			AWSProfile:    cfg.Generation.AWSProfile,
			BaseURL:       cfg.Generation.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create API client: %w", err)
		}
		gen = llm.NewAnthropic(client, systemPrompt)
	case "ollama":
		gen = llm.NewOllama(llm.OllamaConfig{
			BaseURL: cfg.Generation.BaseURL,
			Model:   cfg.Generation.Model,
			Timeout: cfg.Generation.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown generation backend %q (want anthropic or ollama)", cfg.Generation.Backend)
	}

	policy := llm.DefaultRetryPolicy
	if cfg.Generation.MaxTransportRetries > 0 {
		policy.MaxAttempts = cfg.Generation.MaxTransportRetries
	}
	if cfg.Generation.BackoffBase > 0 {
		policy.BaseDelay = cfg.Generation.BackoffBase
	}
	if cfg.Generation.BackoffMax > 0 {
		policy.MaxDelay = cfg.Generation.BackoffMax
	}
	return llm.WithTransportRetry(gen, policy, logger), nil
}

// newBackend returns the tracker backend. GitHub credentials are probed once.
func newBackend(ctx context.Context, cfg *config.Config, dryRun bool, logger *slog.Logger) (tracker.Backend, error) {
	if dryRun || cfg.Tracker.Backend == "memory" {
		logger.Info("using in-memory tracker; nothing is published")
		return tracker.NewMemory(), nil
	}
	if cfg.Tracker.Backend != "github" {
		return nil, fmt.Errorf("unknown tracker backend %q (want github or memory)", cfg.Tracker.Backend)
	}

	token, err := config.GetTrackerToken(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w (set GITHUB_TOKEN or tracker.token)", err)
	}
	gh, err := tracker.NewGitHub(tracker.GitHubConfig{
		Owner:       cfg.Tracker.Owner,
		Repo:        cfg.Tracker.Repo,
		Token:       token,
		APIEndpoint: cfg.Tracker.APIEndpoint,
		Branch:      cfg.Tracker.Branch,
	})
	if err != nil {
		return nil, err
	}
	if err := gh.Probe(ctx); err != nil {
		return nil, err
	}
	return gh, nil
}
