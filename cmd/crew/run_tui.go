package main

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/crew/internal/manager"
	"github.com/ShayCichocki/crew/internal/signals"
	"github.com/ShayCichocki/crew/internal/tui"
)

// runWithTUI runs the manager behind the bubbletea monitor.
func runWithTUI(ctx context.Context, a *app, mgr *manager.Manager, description string) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runWithTUI: %v", r)
		}
	}()

	program, monitor := tui.NewMonitorProgram()
	monitor.SetControlHandler(controlHandler(a.signals.Dir()))

	go tui.Forward(program, mgr.Events())

	runDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				runDone <- fmt.Errorf("PANIC in manager: %v", r)
			}
		}()
		sum, err := mgr.Run(ctx, description)
		program.Send(tui.DoneMsg{Summary: sum, Err: err})
		runDone <- err
	}()

	tuiDone := make(chan error, 1)
	go func() {
		_, err := program.Run()
		tuiDone <- err
	}()

	select {
	case err := <-runDone:
		// Leave the final state on screen until the user quits.
		<-tuiDone
		return err
	case err := <-tuiDone:
		// The monitor was closed while the run continues; ask it to stop.
		if serr := signals.Send(a.signals.Dir(), signals.StopFile); serr != nil {
			a.logger.Warn("failed to request stop", "error", serr)
		}
		if rerr := <-runDone; rerr != nil {
			return rerr
		}
		return err
	}
}

// controlHandler maps monitor actions onto signal files in dir.
func controlHandler(dir string) tui.ControlHandler {
	return func(action string) error {
		switch action {
		case tui.ActionPause:
			return signals.Send(dir, signals.PauseFile)
		case tui.ActionResume:
			return signals.Remove(dir, signals.PauseFile)
		case tui.ActionStop:
			return signals.Send(dir, signals.StopFile)
		default:
			return fmt.Errorf("unknown action %q", action)
		}
	}
}
