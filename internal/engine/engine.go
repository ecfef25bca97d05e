// Package engine defines the capability surface of the singleton execution
// engine. The engine itself is opaque; the kernel only drives it from a single
// goroutine and exchanges output, input, and idle callbacks through Hooks.
package engine

import "replhost/go-kernel/pkg/models"

// Result is the displayable outcome of one evaluation.
type Result struct {
	Text string
	// HTML holds an optional rich representation; empty when the engine has
	// only a plain-text rendering of the value.
	HTML string
}

// Hooks connect an engine to its host. All hooks are invoked from the
// engine-driving goroutine while an evaluation is in progress.
type Hooks struct {
	// WriteConsole receives console output as the engine produces it.
	WriteConsole func(text string, stream models.Stream)
	// ReadInput blocks until the front end answers the prompt.
	ReadInput func(prompt string, password bool) (string, error)
}

// Engine is a single-threaded-safe computation resource. Evaluate and
// SetHooks must only be called from the driving goroutine; IsComplete and
// Version must be safe for concurrent use. IdleHook and SetIdleHook are
// reserved for the driving goroutine and for access-token guards running on
// goroutines the driver has yielded to.
type Engine interface {
	Version() string
	SetHooks(h Hooks)
	// IsComplete reports whether code parses as a complete fragment.
	IsComplete(code string) bool
	// Evaluate runs code to completion, calling the idle hook at safe points.
	Evaluate(code string) (Result, error)

	IdleHook() func()
	SetIdleHook(fn func())
}
