package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ShayCichocki/crew/pkg/models"
)

// ProjectStore loads and checkpoints the ProjectState JSON record.
type ProjectStore struct {
	path string
}

// NewProjectStore returns a store for the given file.
func NewProjectStore(path string) *ProjectStore {
	return &ProjectStore{path: path}
}

// Path returns the state file location.
func (s *ProjectStore) Path() string { return s.path }

// Load reads the saved state. A missing file yields an empty state and found=false.
func (s *ProjectStore) Load() (*models.ProjectState, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &models.ProjectState{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read project state: %w", err)
	}

	var ps models.ProjectState
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, false, fmt.Errorf("parse project state %s: %w", s.path, err)
	}
	for i := range ps.Features {
		if !ps.Features[i].Status.Valid() {
			ps.Features[i].Status = models.FeatureStatusOpen
		}
	}
	return &ps, true, nil
}

// Save writes the state atomically through a temp file and rename.
func (s *ProjectStore) Save(ps *models.ProjectState) error {
	if ps.Features == nil {
		ps.Features = []models.Feature{}
	}
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".project_state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write project state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close project state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace project state: %w", err)
	}
	return nil
}
