package engine

import (
	"fmt"
	"strings"
	"sync"

	"replhost/go-kernel/pkg/models"
)

// Mock is an in-process engine used by tests and by kerneld when no real
// engine backend is linked in. It echoes expressions and understands a small
// set of directives ("print", "warn", "input", "html", "fail") so callers can
// exercise output, input, and failure paths.
type Mock struct {
	version string
	banner  []string

	mu    sync.Mutex
	hooks Hooks
	idle  func()
}

func NewMock() *Mock {
	return &Mock{
		version: "mock-engine 0.1",
		banner: []string{
			"mock-engine 0.1\n",
			"Type code to evaluate it.\n",
		},
	}
}

func (m *Mock) Version() string { return m.version }

func (m *Mock) SetHooks(h Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// EmitBanner writes the startup banner through the console hook. The host
// treats everything written before initialization completes as banner text.
func (m *Mock) EmitBanner() {
	hooks := m.currentHooks()
	if hooks.WriteConsole == nil {
		return
	}
	for _, line := range m.banner {
		hooks.WriteConsole(line, models.StreamStdout)
	}
}

// IsComplete reports whether code has balanced brackets and no trailing
// continuation. Safe for concurrent use.
func (m *Mock) IsComplete(code string) bool {
	trimmed := strings.TrimRight(code, " \t\n")
	if strings.HasSuffix(trimmed, "\\") {
		return false
	}
	depth := 0
	for _, r := range code {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
	}
	return depth <= 0
}

func (m *Mock) Evaluate(code string) (Result, error) {
	m.pollIdle()
	hooks := m.currentHooks()

	directive, rest, _ := strings.Cut(strings.TrimSpace(code), " ")
	switch directive {
	case "print":
		if hooks.WriteConsole != nil {
			hooks.WriteConsole(rest+"\n", models.StreamStdout)
		}
		return Result{Text: ""}, nil
	case "warn":
		if hooks.WriteConsole != nil {
			hooks.WriteConsole(rest+"\n", models.StreamStderr)
		}
		return Result{Text: ""}, nil
	case "input":
		if hooks.ReadInput == nil {
			return Result{}, fmt.Errorf("no input hook registered")
		}
		answer, err := hooks.ReadInput(rest, false)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: answer}, nil
	case "html":
		return Result{
			Text: rest,
			HTML: "<pre>" + rest + "</pre>",
		}, nil
	case "fail":
		return Result{}, fmt.Errorf("%s", rest)
	}

	m.pollIdle()
	return Result{Text: strings.TrimSpace(code)}, nil
}

func (m *Mock) IdleHook() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

func (m *Mock) SetIdleHook(fn func()) {
	m.mu.Lock()
	m.idle = fn
	m.mu.Unlock()
}

func (m *Mock) currentHooks() Hooks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hooks
}

func (m *Mock) pollIdle() {
	if idle := m.IdleHook(); idle != nil {
		idle()
	}
}
