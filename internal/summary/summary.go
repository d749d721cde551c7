// Package summary renders the project README from the project state and
// model-written summaries of the source files in the working copy.
package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/crew/internal/llm"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/pkg/models"
)

// ReadmeName is the file the summary is written to.
const ReadmeName = "README.md"

// Unreadable stands in for files that could not be summarized.
const Unreadable = "File could not be summarized."

// DefaultExtensions are the source files listed in the structure section.
var DefaultExtensions = []string{".py", ".dart", ".yaml"}

// DefaultSkipDirs are never descended into. Dot directories are always skipped.
var DefaultSkipDirs = []string{"build", "node_modules", "logs"}

// Config configures a Generator.
type Config struct {
	// Root is the local working copy.
	Root string
	// CachePath is the summary cache file; relative paths are taken from Root.
	CachePath  string
	Extensions []string
	SkipDirs   []string
	// Exclude lists file names left out of the structure section.
	Exclude []string
}

// Generator writes README.md.
type Generator struct {
	cfg       Config
	writer    llm.Generator
	artifacts tracker.Artifacts
	log       *slog.Logger
}

// New returns a Generator. When artifacts is nil the README is written
// directly into Root; otherwise it is stored through artifacts.
func New(cfg Config, writer llm.Generator, artifacts tracker.Artifacts, logger *slog.Logger) *Generator {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.CachePath == "" {
		cfg.CachePath = ".summaries.json"
	}
	if !filepath.IsAbs(cfg.CachePath) {
		cfg.CachePath = filepath.Join(cfg.Root, cfg.CachePath)
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if cfg.SkipDirs == nil {
		cfg.SkipDirs = DefaultSkipDirs
	}
	if cfg.Exclude == nil {
		cfg.Exclude = []string{ReadmeName, "project_state.json"}
	}
	return &Generator{cfg: cfg, writer: writer, artifacts: artifacts, log: logging.Component(logger, "summary")}
}

// Write renders the README and stores it.
func (g *Generator) Write(ctx context.Context, ps *models.ProjectState) (string, error) {
	content, err := g.Render(ctx, ps)
	if err != nil {
		return "", err
	}
	if g.artifacts != nil {
		if err := g.artifacts.PutArtifact(ctx, ReadmeName, content, "Update README"); err != nil {
			return content, fmt.Errorf("store readme: %w", err)
		}
	} else if err := os.WriteFile(filepath.Join(g.cfg.Root, ReadmeName), []byte(content), 0o644); err != nil {
		return content, fmt.Errorf("write readme: %w", err)
	}
	g.log.Info("readme updated", "features", len(ps.Features))
	return content, nil
}

// Render builds the README text. Summaries are cached by path and content hash.
func (g *Generator) Render(ctx context.Context, ps *models.ProjectState) (string, error) {
	var b strings.Builder

	b.WriteString("# Project overview\n")
	if d := strings.TrimSpace(ps.Description); d != "" {
		b.WriteString(d + "\n")
	} else {
		b.WriteString("No description available.\n")
	}

	b.WriteString("\n## Features\n")
	for _, f := range ps.Features {
		status := f.Status
		if status == "" {
			status = models.FeatureStatusOpen
		}
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", f.Title, status, f.Description)
	}

	b.WriteString("\n## Structure and file descriptions\n")
	files, err := g.sourceFiles()
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", g.cfg.Root, err)
	}
	cache, err := LoadCache(g.cfg.CachePath)
	if err != nil {
		g.log.Warn("ignoring unreadable summary cache", "path", g.cfg.CachePath, "error", err)
		cache = Cache{}
	}
	dirty := false
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, changed := g.summarize(ctx, cache, rel)
		dirty = dirty || changed
		fmt.Fprintf(&b, "### `%s`\n%s\n\n", rel, text)
	}
	if dirty {
		if err := cache.Save(g.cfg.CachePath); err != nil {
			g.log.Warn("failed to save summary cache", "error", err)
		}
	}

	b.WriteString("\n## Dependencies\n")
	b.WriteString(g.dependencies())
	return b.String(), nil
}

func (g *Generator) summarize(ctx context.Context, cache Cache, rel string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(g.cfg.Root, filepath.FromSlash(rel)))
	if err != nil {
		g.log.Warn("file not readable", "path", rel, "error", err)
		return Unreadable, false
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if e, ok := cache[rel]; ok && e.Hash == hash {
		return e.Summary, false
	}

	out, err := g.writer.Generate(ctx, summaryPrompt(filepath.Base(rel), string(data)))
	text := strings.TrimSpace(out)
	if err != nil || text == "" {
		g.log.Warn("summary failed", "path", rel, "error", err)
		return Unreadable, false
	}
	cache[rel] = Entry{Hash: hash, Summary: text}
	return text, true
}

// sourceFiles lists summarizable files relative to Root in lexical order.
func (g *Generator) sourceFiles() ([]string, error) {
	var out []string
	err := filepath.WalkDir(g.cfg.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != g.cfg.Root && (strings.HasPrefix(name, ".") || contains(g.cfg.SkipDirs, name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || contains(g.cfg.Exclude, name) {
			return nil
		}
		if !contains(g.cfg.Extensions, filepath.Ext(name)) {
			return nil
		}
		rel, err := filepath.Rel(g.cfg.Root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out, err
}

func (g *Generator) dependencies() string {
	for _, dep := range []struct{ file, fence string }{
		{"pubspec.yaml", "yaml"},
		{"requirements.txt", "txt"},
		{"go.mod", "go"},
	} {
		data, err := os.ReadFile(filepath.Join(g.cfg.Root, dep.file))
		if err != nil {
			continue
		}
		return fmt.Sprintf("```%s\n%s\n```\n", dep.fence, strings.TrimRight(string(data), "\n"))
	}
	return "_No dependency files found._\n"
}

func summaryPrompt(name, content string) string {
	return fmt.Sprintf(`Summarize the following code in 1-3 sentences. Name the purpose and function of the file:

File name: %s

Content:
"""
%s
"""

Summary:`, name, content)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
