package signals

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := NewWatcher(filepath.Join(t.TempDir(), "signals"), nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

// waitForStop polls ShouldStop until it is set or the deadline passes, since
// the watcher latches the flag from an fsnotify event delivered asynchronously.
func waitForStop(t *testing.T, w *Watcher) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.ShouldStop() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return w.ShouldStop()
}

func TestShouldStop(t *testing.T) {
	w := newTestWatcher(t)
	if w.ShouldStop() {
		t.Fatal("stop set before any signal")
	}
	if err := Send(w.Dir(), StopFile); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !waitForStop(t, w) {
		t.Fatal("stop not detected")
	}

	// The flag is sticky even if the file disappears.
	if err := Remove(w.Dir(), StopFile); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !w.ShouldStop() {
		t.Error("stop flag must stay set")
	}

	w.Clear()
	if w.ShouldStop() {
		t.Error("Clear must reset the stop flag")
	}
}

func TestShouldStop_ExistingFileLatchedAtStart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	if err := Send(dir, StopFile); err != nil {
		t.Fatalf("Send: %v", err)
	}
	w, err := NewWatcher(dir, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	// Removed before the loop ever asks; the signal must not be lost.
	if err := Remove(dir, StopFile); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !w.ShouldStop() {
		t.Error("stop file present at start must be latched")
	}
}

func TestShouldStop_TransientFileLatched(t *testing.T) {
	w := newTestWatcher(t)
	if w.watcher == nil {
		t.Skip("fsnotify unavailable")
	}
	if err := Send(w.Dir(), StopFile); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := Remove(w.Dir(), StopFile); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !waitForStop(t, w) {
		t.Error("a stop file that came and went must still stop the loop")
	}
}

func TestWaitWhilePaused(t *testing.T) {
	w := newTestWatcher(t)
	if w.WaitWhilePaused(context.Background()) {
		t.Fatal("not paused, should not stop")
	}

	if err := Send(w.Dir(), PauseFile); err != nil {
		t.Fatal(err)
	}
	if !w.Paused() {
		t.Fatal("pause not detected")
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = Remove(w.Dir(), PauseFile)
	}()
	if w.WaitWhilePaused(context.Background()) {
		t.Error("resume should not request a stop")
	}
}

func TestWaitWhilePaused_Cancelled(t *testing.T) {
	w := newTestWatcher(t)
	if err := Send(w.Dir(), PauseFile); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !w.WaitWhilePaused(ctx) {
		t.Error("cancelled context should stop")
	}
}

func TestRemoveMissing(t *testing.T) {
	if err := Remove(t.TempDir(), StopFile); err != nil {
		t.Errorf("Remove missing file: %v", err)
	}
}

func TestCloseTwice(t *testing.T) {
	w := newTestWatcher(t)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
