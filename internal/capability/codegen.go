// Package capability implements the handlers behind each capability:
// code generation for frontend and backend tasks, review through the QA
// loop, and releases for devops.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/ShayCichocki/crew/internal/dispatch"
	"github.com/ShayCichocki/crew/internal/extract"
	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/state"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/pkg/models"
)

// APIDocsPath is the API document the backend handler keeps current.
const APIDocsPath = "docs/api_docs.md"

// ReadmePath is read as project context for every generation prompt.
const ReadmePath = "README.md"

// CodeShape describes the object expected from code generation.
const CodeShape = `a JSON object {"file": "<repository-relative path>", "code": "<complete file content>"}`

// ErrMalformedArtifact means the model returned no usable file path or code.
var ErrMalformedArtifact = errors.New("malformed artifact")

// CodegenConfig describes one code generation capability.
type CodegenConfig struct {
	Capability models.Capability
	// Role is the persona used in prompts, e.g. "Flutter frontend developer".
	Role string
	// ExamplePath illustrates a sensible file location in prompts.
	ExamplePath string
	// APIDocs enables the API document refresh after each artifact.
	APIDocs bool
}

// FrontendConfig returns the frontend code generation settings.
func FrontendConfig() CodegenConfig {
	return CodegenConfig{
		Capability:  models.CapabilityFrontend,
		Role:        "Flutter frontend developer",
		ExamplePath: "lib/screens/login_screen.dart",
	}
}

// BackendConfig returns the backend code generation settings.
func BackendConfig() CodegenConfig {
	return CodegenConfig{
		Capability:  models.CapabilityBackend,
		Role:        "Flutter backend developer",
		ExamplePath: "lib/services/my_service.dart",
		APIDocs:     true,
	}
}

// CodegenDeps are the collaborators of a Codegen handler. Index and Logger are optional.
type CodegenDeps struct {
	Extractor *extract.Extractor
	// Writer produces free-form text: failure hints and API documents.
	Writer    llm.Generator
	Tracker   tracker.Tracker
	Artifacts tracker.Artifacts
	Index     state.ArtifactIndex
	Logger    *slog.Logger
}

// Codegen asks the model for one source file per task and stores it.
type Codegen struct {
	cfg  CodegenConfig
	deps CodegenDeps
	log  *slog.Logger
}

// NewCodegen returns a handler for cfg.Capability.
func NewCodegen(cfg CodegenConfig, deps CodegenDeps) *Codegen {
	return &Codegen{
		cfg:  cfg,
		deps: deps,
		log:  logging.Component(deps.Logger, string(cfg.Capability)),
	}
}

// Run generates, stores and indexes the artifact for task, then marks the
// task for review. Malformed output leaves a hint comment on the task.
func (c *Codegen) Run(ctx context.Context, task models.Task, rc dispatch.RunContext) (*dispatch.Result, error) {
	readme := c.read(ctx, ReadmePath)
	var apiDocs string
	if c.cfg.APIDocs {
		apiDocs = c.read(ctx, APIDocsPath)
	}
	prompt := codegenPrompt(c.cfg, task, readme, apiDocs, rc.Open)

	c.log.Info("generating artifact", "task", task.ID, "title", task.Title)
	obj, err := c.deps.Extractor.ExtractObject(ctx, prompt)
	if err != nil {
		if errors.Is(err, extract.ErrUnparseableOutput) || errors.Is(err, extract.ErrUnexpectedShape) {
			c.hint(ctx, task, prompt, err.Error())
		}
		return nil, fmt.Errorf("generate %s artifact for #%d: %w", c.cfg.Capability, task.ID, err)
	}

	file, code := stringField(obj, "file"), stringField(obj, "code")
	artifactPath, pathErr := cleanArtifactPath(file)
	if pathErr != nil || strings.TrimSpace(code) == "" {
		reason := "missing code"
		if pathErr != nil {
			reason = pathErr.Error()
		}
		c.hint(ctx, task, prompt, fmt.Sprintf("file=%q, %s", file, reason))
		return nil, fmt.Errorf("%w for #%d: %s", ErrMalformedArtifact, task.ID, reason)
	}

	message := fmt.Sprintf("%s code for #%d", titleCase(string(c.cfg.Capability)), task.ID)
	if err := c.deps.Artifacts.PutArtifact(ctx, artifactPath, code, message); err != nil {
		return nil, fmt.Errorf("store artifact %s: %w", artifactPath, err)
	}
	c.log.Info("artifact written", "task", task.ID, "path", artifactPath)

	if c.deps.Index != nil {
		if err := c.deps.Index.RecordArtifact(task.ID, artifactPath, string(c.cfg.Capability)); err != nil {
			c.log.Warn("failed to index artifact", "task", task.ID, "error", err)
		}
	}
	if !task.HasLabel(models.LabelReview) {
		if err := c.deps.Tracker.UpdateLabels(ctx, task.ID, task.WithLabels(models.LabelReview)); err != nil {
			c.log.Warn("failed to request review", "task", task.ID, "error", err)
		}
	}

	detail := ""
	if c.cfg.APIDocs {
		if err := c.refreshAPIDocs(ctx, task, readme, apiDocs, rc.Open); err != nil {
			c.log.Warn("api docs not updated", "task", task.ID, "error", err)
			detail = "api docs not updated: " + err.Error()
		}
	}

	return &dispatch.Result{Artifact: artifactPath, Detail: detail}, nil
}

func (c *Codegen) refreshAPIDocs(ctx context.Context, task models.Task, readme, current string, open []models.Task) error {
	doc, err := c.deps.Writer.Generate(ctx, apiDocsPrompt(c.cfg, task, readme, current, open))
	if err != nil {
		return err
	}
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return errors.New("empty document")
	}
	return c.deps.Artifacts.PutArtifact(ctx, APIDocsPath, doc+"\n", "Update API documentation")
}

// hint asks the model how the task should be phrased and posts the answer as a comment.
func (c *Codegen) hint(ctx context.Context, task models.Task, prompt, problem string) {
	if c.deps.Writer == nil || ctx.Err() != nil {
		return
	}
	text, err := c.deps.Writer.Generate(ctx, hintPrompt(prompt, problem))
	if err != nil || strings.TrimSpace(text) == "" {
		c.log.Warn("no hint generated", "task", task.ID, "error", err)
		return
	}
	if err := c.deps.Tracker.Comment(ctx, task.ID, strings.TrimSpace(text)); err != nil {
		c.log.Warn("failed to post hint", "task", task.ID, "error", err)
	}
}

func (c *Codegen) read(ctx context.Context, p string) string {
	text, found, err := c.deps.Artifacts.GetArtifact(ctx, p)
	if err != nil {
		c.log.Debug("context unavailable", "path", p, "error", err)
		return ""
	}
	if !found {
		return ""
	}
	return text
}

// cleanArtifactPath accepts relative slash paths that stay inside the repository.
func cleanArtifactPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", errors.New("missing file")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute path %q", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the repository", p)
	}
	return clean, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var (
	_ dispatch.Handler = (*Codegen)(nil)
	_ dispatch.Handler = (*Review)(nil)
	_ dispatch.Handler = (*DevOps)(nil)
)
