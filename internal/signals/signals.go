// Package signals lets a separate process stop or pause a running crew loop
// by dropping files into the signals directory.
package signals

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/crew/internal/logging"
)

// Signal file names inside the signals directory.
const (
	StopFile  = "stop"
	PauseFile = "pause"
)

// PollInterval is how often WaitWhilePaused re-checks the pause file.
const PollInterval = time.Second

// Watcher observes the signals directory.
type Watcher struct {
	dir string
	log *slog.Logger

	mu   sync.RWMutex
	stop bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  sync.Once
}

// NewWatcher creates dir if needed and starts watching it. A stop file that
// already exists is latched immediately. When fsnotify is unavailable the
// watcher falls back to checking the stop file on every ShouldStop call.
func NewWatcher(dir string, logger *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &Watcher{
		dir:  dir,
		log:  logging.Component(logger, "signals"),
		done: make(chan struct{}),
	}

	if fw, err := fsnotify.NewWatcher(); err != nil {
		w.log.Warn("file watcher unavailable, falling back to polling", "error", err)
	} else if err := fw.Add(dir); err != nil {
		fw.Close()
		w.log.Warn("cannot watch signals dir, falling back to polling", "dir", dir, "error", err)
	} else {
		w.watcher = fw
	}
	// Checked after Add so a file created in between is seen by one or the other.
	w.stop = w.stopFilePresent()
	if w.watcher != nil {
		go w.watch()
	}
	return w, nil
}

func (w *Watcher) stopFilePresent() bool {
	_, err := os.Stat(filepath.Join(w.dir, StopFile))
	return err == nil
}

// Dir returns the signals directory.
func (w *Watcher) Dir() string { return w.dir }

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != StopFile {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.mu.Lock()
				w.stop = true
				w.mu.Unlock()
				w.log.Info("stop signal received")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Debug("watch error", "error", err)
		}
	}
}

// ShouldStop reports whether a stop signal was received. Once set it stays set
// until Clear. While fsnotify is active only the latched flag is consulted.
func (w *Watcher) ShouldStop() bool {
	if w.watcher == nil && w.stopFilePresent() {
		w.mu.Lock()
		w.stop = true
		w.mu.Unlock()
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stop
}

// Paused reports whether the pause file is present. Pausing is level
// triggered, so the file itself is the state and is not latched.
func (w *Watcher) Paused() bool {
	_, err := os.Stat(filepath.Join(w.dir, PauseFile))
	return err == nil
}

// WaitWhilePaused blocks until the pause file is removed, a stop signal
// arrives or ctx is done. It reports whether the caller should stop.
func (w *Watcher) WaitWhilePaused(ctx context.Context) bool {
	if !w.Paused() {
		return w.ShouldStop()
	}
	w.log.Info("paused")
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		if w.ShouldStop() {
			return true
		}
		if !w.Paused() {
			w.log.Info("resumed")
			return false
		}
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		}
	}
}

// Clear removes signal files and resets the stop flag.
func (w *Watcher) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stop = false
	for _, name := range []string{StopFile, PauseFile} {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.log.Warn("failed to remove signal", "file", name, "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

// Send writes the named signal file into dir.
func Send(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(time.Now().Format(time.RFC3339)), 0o644)
}

// Remove deletes the named signal file from dir. A missing file is not an error.
func Remove(dir, name string) error {
	err := os.Remove(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
