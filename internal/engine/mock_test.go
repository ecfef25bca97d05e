package engine

import (
	"testing"

	"replhost/go-kernel/pkg/models"
)

func TestMockIsComplete(t *testing.T) {
	cases := []struct {
		code     string
		complete bool
	}{
		{"1+1", true},
		{"f(1, 2)", true},
		{"f(1, 2", false},
		{"[1, 2, {3: 4}]", true},
		{"{unclosed", false},
		{"line \\", false},
		{"", true},
	}
	m := NewMock()
	for _, tc := range cases {
		if got := m.IsComplete(tc.code); got != tc.complete {
			t.Errorf("IsComplete(%q) = %v, want %v", tc.code, got, tc.complete)
		}
	}
}

func TestMockEvaluateDirectives(t *testing.T) {
	m := NewMock()

	var written []string
	var streams []models.Stream
	m.SetHooks(Hooks{
		WriteConsole: func(text string, stream models.Stream) {
			written = append(written, text)
			streams = append(streams, stream)
		},
		ReadInput: func(prompt string, password bool) (string, error) {
			return "answer:" + prompt, nil
		},
	})

	if res, err := m.Evaluate("print hello"); err != nil || res.Text != "" {
		t.Fatalf("print: %+v %v", res, err)
	}
	if len(written) != 1 || written[0] != "hello\n" || streams[0] != models.StreamStdout {
		t.Fatalf("unexpected console output: %v %v", written, streams)
	}

	if _, err := m.Evaluate("warn careful"); err != nil {
		t.Fatalf("warn: %v", err)
	}
	if streams[1] != models.StreamStderr {
		t.Fatalf("warn should write to stderr, got %v", streams[1])
	}

	res, err := m.Evaluate("input name?")
	if err != nil || res.Text != "answer:name?" {
		t.Fatalf("input: %+v %v", res, err)
	}

	res, err = m.Evaluate("html <b>x</b>")
	if err != nil || res.HTML == "" {
		t.Fatalf("html: %+v %v", res, err)
	}

	if _, err := m.Evaluate("fail broken"); err == nil || err.Error() != "broken" {
		t.Fatalf("fail: %v", err)
	}

	res, err = m.Evaluate("  echo me  ")
	if err != nil || res.Text != "echo me" {
		t.Fatalf("echo: %+v %v", res, err)
	}
}

func TestMockIdleHookCalledDuringEvaluate(t *testing.T) {
	m := NewMock()
	calls := 0
	m.SetIdleHook(func() { calls++ })
	if _, err := m.Evaluate("x"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if calls == 0 {
		t.Fatal("idle hook never polled during evaluation")
	}
}
