package engine

import (
	"errors"
	"fmt"
)

// ErrNotAttached is returned by Run when no browser client was attached.
var ErrNotAttached = errors.New("engine: no browser client attached")

// ErrRunning is returned when the engine is changed or started while a run
// is in progress.
var ErrRunning = errors.New("engine: run in progress")

// ScriptError reports a script the engine cannot run.
type ScriptError struct {
	Path   string
	Reason string
}

func (e *ScriptError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("script %s: %s", e.Path, e.Reason)
	}
	return "script: " + e.Reason
}

// Step error kinds.
const (
	KindAction    = "action"
	KindCondition = "condition"
	KindPanic     = "panic"
	KindBrowser   = "browser"
)

// StepError is a fatal, non-assertion failure inside a step. It aborts the
// run and names the step it came from.
type StepError struct {
	Step string
	Kind string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
