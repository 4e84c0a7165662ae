package script

import (
	"fmt"
	"runtime"
	"strings"
)

// AssertionName is the name recorded for failed script assertions.
const AssertionName = "AssertionError"

// AssertionError is a failed check inside a step action. It is not fatal to
// a run: the engine records it and moves to the next step.
//
// Stack lists the frames that locate the failure, most specific first.
type AssertionError struct {
	Name    string
	Message string
	Stack   []string
}

func (e *AssertionError) Error() string {
	if len(e.Stack) > 0 {
		return fmt.Sprintf("%s: %s at %s", e.Name, e.Message, e.Stack[0])
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Failf builds an AssertionError whose stack starts at the caller. Frames
// inside the Go runtime and this package are dropped.
func Failf(format string, args ...interface{}) *AssertionError {
	return &AssertionError{
		Name:    AssertionName,
		Message: fmt.Sprintf(format, args...),
		Stack:   callerFrames(3),
	}
}

// Equal fails unless got == want, mirroring assert.equal message shape.
func Equal(got, want string) error {
	if got == want {
		return nil
	}
	return &AssertionError{
		Name:    AssertionName,
		Message: fmt.Sprintf("%q == %q", got, want),
		Stack:   callerFrames(3),
	}
}

// Frame renders the script location of a step action.
func Frame(step, file string, line, column int) string {
	return fmt.Sprintf("step %q (%s:%d:%d)", step, file, line, column)
}

const maxFrames = 32

func callerFrames(skip int) []string {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []string
	for {
		frame, more := frames.Next()
		if keepFrame(frame.Function) {
			out = append(out, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return out
}

func keepFrame(fn string) bool {
	switch {
	case fn == "":
		return false
	case strings.HasPrefix(fn, "runtime."), strings.HasPrefix(fn, "testing."):
		return false
	case strings.HasPrefix(fn, "github.com/torosent/pagerunner/internal/script."):
		return false
	case strings.HasPrefix(fn, "github.com/torosent/pagerunner/internal/engine."):
		return false
	}
	return true
}
