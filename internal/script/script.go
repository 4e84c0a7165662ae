// Package script defines compiled test scripts: an ordered list of steps
// plus the raw settings record the script declared.
package script

import (
	"context"
	"fmt"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
	"github.com/torosent/pagerunner/internal/condition"
)

// Action is the behaviour of one step. It drives the browser through client
// and returns an *AssertionError when a check fails.
type Action func(ctx context.Context, client browser.Client) error

// Step is one compiled unit of script behaviour. Steps are immutable once
// compiled.
type Step struct {
	Name       string
	Action     Action
	Conditions []condition.Condition
	// Timeout overrides the settings waitTimeout for this step's conditions.
	Timeout time.Duration
	Skip    bool
}

// Script is the output of a compiler.
type Script struct {
	Path     string
	Settings map[string]interface{}
	Steps    []Step
}

// Compiler turns a script source into a Script. Every call returns fresh
// condition instances, so one Script must never be shared by two engines.
type Compiler interface {
	Compile(path string, src []byte) (*Script, error)
}

// CompileError locates a problem in a script source.
type CompileError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
