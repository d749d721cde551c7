// Package tui provides the terminal monitor for crew runs.
//
// The monitor is read-only with respect to the run itself. It displays:
//   - Feature progress (e.g. 2/5 features done)
//   - The current feature, planning round and dispatched step
//   - Step and failure counters
//   - An activity log of recent manager events
//
// Operators can pause, resume or stop the run through the control handler,
// which writes the same signal files the CLI commands use.
//
// Usage:
//
//	program, app := tui.NewMonitorProgram()
//	app.SetControlHandler(handler)
//	go tui.Forward(program, mgr.Events())
//	go program.Run()
//
//	// Signal completion
//	program.Send(tui.DoneMsg{Summary: sum, Err: err})
package tui
