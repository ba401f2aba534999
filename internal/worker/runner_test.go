package worker

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type sink struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (s *sink) add(c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
	return nil
}

func (s *sink) data() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, string(c.Data))
	}
	return out
}

func TestStarlarkPrintStreamsFragments(t *testing.T) {
	r := &Runner{}
	var out sink
	script := `
for i in range(1, 3):
    print(i)
print("host=" + env["host"])
`
	res, err := r.Execute(context.Background(), Job{ID: "run-1", Script: script, Env: map[string]string{"host": "staging"}}, out.add)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 0 || res.Err != nil || res.Engine != EngineStarlark {
		t.Fatalf("result=%+v", res)
	}
	if diff := cmp.Diff([]string{"1\n", "2\n", "host=staging\n"}, out.data()); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}
	if res.Completed.Before(res.Started) {
		t.Fatalf("completed before started")
	}
}

func TestStarlarkFailureAndFrozenEnv(t *testing.T) {
	r := &Runner{}
	var out sink
	res, err := r.Execute(context.Background(), Job{ID: "run-2", Script: "print('before')\nenv['x'] = '1'\n"}, out.add)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 1 || res.Err == nil {
		t.Fatalf("result=%+v", res)
	}
	if diff := cmp.Diff([]string{"before\n"}, out.data()); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}

	res, err = r.Execute(context.Background(), Job{ID: "run-3", Script: "print(("}, nil)
	if err != nil || res.ExitCode != 1 {
		t.Fatalf("syntax error: %+v %v", res, err)
	}
}

func TestStarlarkCancelledByContext(t *testing.T) {
	r := &Runner{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := r.Execute(ctx, Job{ID: "spin", Script: "while True:\n    pass\n"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 1 || res.Err == nil || !strings.Contains(res.Err.Error(), "deadline") {
		t.Fatalf("result=%+v", res)
	}
}

func TestUnknownEngineAndMissingID(t *testing.T) {
	r := &Runner{}
	if _, err := r.Execute(context.Background(), Job{ID: "x", Engine: "lua"}, nil); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("engine: %v", err)
	}
	if _, err := r.Execute(context.Background(), Job{}, nil); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

func TestCommandEngineStreamsLines(t *testing.T) {
	requireShell(t)
	r := &Runner{WorkspaceRoot: t.TempDir()}
	var out sink
	script := "echo one\necho \"$GREETING\"\nexit 3\n"
	res, err := r.Execute(context.Background(), Job{ID: "cmd-1", Engine: EngineCommand, Script: script, Env: map[string]string{"GREETING": "hi"}}, out.add)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 3 || res.Engine != EngineCommand {
		t.Fatalf("result=%+v", res)
	}
	if diff := cmp.Diff([]string{"one\n", "hi\n"}, out.data()); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}
	for _, c := range out.chunks {
		if c.Stream != "stdout" {
			t.Fatalf("stream=%q", c.Stream)
		}
	}
}

func TestCommandEngineStderrAndWorkspace(t *testing.T) {
	requireShell(t)
	root := t.TempDir()
	r := &Runner{WorkspaceRoot: root, DefaultEngine: EngineCommand}
	var out sink
	res, err := r.Execute(context.Background(), Job{ID: "cmd-2", Script: "pwd\necho oops >&2\n"}, out.add)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("result=%+v", res)
	}
	var sawStderr, sawWorkspace bool
	for _, c := range out.chunks {
		switch {
		case c.Stream == "stderr" && string(c.Data) == "oops\n":
			sawStderr = true
		case c.Stream == "stdout" && strings.Contains(string(c.Data), "cmd-2"):
			sawWorkspace = true
		}
	}
	if !sawStderr || !sawWorkspace {
		t.Fatalf("chunks=%v", out.data())
	}
}

func TestCommandEngineMissingInterpreter(t *testing.T) {
	r := &Runner{WorkspaceRoot: t.TempDir(), Interpreter: []string{"/nonexistent/interpreter"}}
	if _, err := r.Execute(context.Background(), Job{ID: "cmd-3", Engine: EngineCommand, Script: "x"}, nil); err == nil {
		t.Fatalf("expected start error")
	}
}

func TestCommandEnginePTY(t *testing.T) {
	requireShell(t)
	r := &Runner{WorkspaceRoot: t.TempDir(), PTY: true}
	var out sink
	res, err := r.Execute(context.Background(), Job{ID: "pty-1", Engine: EngineCommand, Script: "if [ -t 1 ]; then echo tty; else echo pipe; fi\n"}, out.add)
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("result=%+v", res)
	}
	if diff := cmp.Diff([]string{"tty\n"}, out.data()); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}
}
