package tracker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/crew/internal/git"
	"github.com/ShayCichocki/crew/internal/logging"
)

// Mirror keeps generated files in the local working copy and forwards them to a remote store.
//
// Reads prefer the remote so that artifacts written by earlier runs on other
// machines are visible, and fall back to the local copy.
type Mirror struct {
	root   string
	remote Artifacts
	git    git.CommitOperations
	logger *slog.Logger
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithGit commits each written file to the local repository.
func WithGit(g git.CommitOperations) MirrorOption {
	return func(m *Mirror) { m.git = g }
}

// WithMirrorLogger sets the logger.
func WithMirrorLogger(logger *slog.Logger) MirrorOption {
	return func(m *Mirror) { m.logger = logger }
}

// NewMirror returns a Mirror rooted at the working copy root. remote may be nil.
func NewMirror(root string, remote Artifacts, opts ...MirrorOption) *Mirror {
	m := &Mirror{root: root, remote: remote}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.Component(m.logger, "mirror")
	return m
}

// Root returns the working copy directory.
func (m *Mirror) Root() string { return m.root }

// LocalPath resolves a repository-relative path inside the working copy.
func (m *Mirror) LocalPath(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes the working copy", path)
	}
	return filepath.Join(m.root, clean), nil
}

// GetArtifact reads path from the remote, then from the working copy.
func (m *Mirror) GetArtifact(ctx context.Context, path string) (string, bool, error) {
	if m.remote != nil {
		text, found, err := m.remote.GetArtifact(ctx, path)
		if err != nil {
			m.logger.Warn("remote artifact read failed, using working copy", "path", path, "error", err)
		} else if found {
			return text, true, nil
		}
	}

	local, err := m.LocalPath(path)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(local)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return string(data), true, nil
}

// PutArtifact writes path locally, commits it when git is configured, then pushes it to the remote.
func (m *Mirror) PutArtifact(ctx context.Context, path, content, message string) error {
	local, err := m.LocalPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(local, []byte(content), 0644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	if message == "" {
		message = "Update " + path
	}

	if m.git != nil {
		if err := m.commit(path, message); err != nil {
			m.logger.Warn("local commit failed", "path", path, "error", err)
		}
	}

	if m.remote != nil {
		if err := m.remote.PutArtifact(ctx, path, content, message); err != nil {
			return fmt.Errorf("push artifact %s: %w", path, err)
		}
	}
	m.logger.Debug("artifact written", "path", path)
	return nil
}

func (m *Mirror) commit(path, message string) error {
	if !m.git.IsRepository() {
		return nil
	}
	if err := m.git.Add(filepath.FromSlash(path)); err != nil {
		return err
	}
	staged, err := m.git.HasStagedChanges()
	if err != nil || !staged {
		return err
	}
	return m.git.Commit(message)
}

var _ Artifacts = (*Mirror)(nil)
