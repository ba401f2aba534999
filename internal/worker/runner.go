// Package worker runs prepared scripts and streams their output.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/antonkrylov/livecon/internal/logging"
)

// Engine names.
const (
	EngineStarlark = "starlark"
	EngineCommand  = "command"
)

// ErrUnknownEngine is returned for jobs naming an engine the runner lacks.
var ErrUnknownEngine = errors.New("unknown engine")

// Job is one script run.
type Job struct {
	ID     string
	Name   string
	Engine string
	Script string
	Env    map[string]string
}

// Chunk is a piece of output in the order it was produced.
type Chunk struct {
	Time   time.Time
	Stream string
	Data   []byte
}

// Result describes a finished run. Err carries the script failure, if
// any; it is distinct from the error Execute returns when the job could
// not be started at all.
type Result struct {
	Engine    string
	ExitCode  int
	Started   time.Time
	Completed time.Time
	Err       error
}

// Runner executes jobs with the builtin Starlark engine or an external
// interpreter fed the script on stdin.
type Runner struct {
	DefaultEngine string
	// Interpreter is the argv of the command engine; the script is its stdin.
	Interpreter   []string
	PTY           bool
	WorkspaceRoot string
	Logger        *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return logging.Discard()
	}
	return r.Logger
}

// Execute runs the job, forwarding output chunks to onChunk one at a time.
func (r *Runner) Execute(ctx context.Context, job Job, onChunk func(Chunk) error) (*Result, error) {
	if job.ID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	engine := job.Engine
	if engine == "" {
		engine = r.DefaultEngine
	}
	if engine == "" {
		engine = EngineStarlark
	}

	var mu sync.Mutex
	forward := func(chunk Chunk) {
		if onChunk == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := onChunk(chunk); err != nil {
			r.logger().Warn("forward output chunk failed", "run", job.ID, "err", err)
		}
	}

	var (
		res *Result
		err error
	)
	switch engine {
	case EngineStarlark:
		res = r.runStarlark(ctx, job, forward)
	case EngineCommand:
		res, err = r.runCommand(ctx, job, forward)
	default:
		return nil, fmt.Errorf("%q: %w", engine, ErrUnknownEngine)
	}
	if err != nil {
		return nil, err
	}
	res.Engine = engine
	r.logger().Info("job finished",
		"run", job.ID,
		"engine", engine,
		"exit", res.ExitCode,
		"elapsed", res.Completed.Sub(res.Started),
	)
	return res, nil
}

func (r *Runner) runCommand(ctx context.Context, job Job, forward func(Chunk)) (*Result, error) {
	argv := r.Interpreter
	if len(argv) == 0 {
		argv = []string{"sh", "-s"}
	}
	workspace, err := r.prepareWorkspace(job.ID)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = composeEnv(job.Env)
	cmd.Dir = workspace
	cmd.Stdin = strings.NewReader(job.Script)

	if r.PTY {
		return r.runPTY(cmd, job, forward)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go r.collectStream(&wg, "stdout", stdoutPipe, forward)
	go r.collectStream(&wg, "stderr", stderrPipe, forward)
	wg.Wait()

	runErr := cmd.Wait()
	return &Result{
		ExitCode:  exitCodeFromError(runErr),
		Started:   started,
		Completed: time.Now(),
		Err:       runErr,
	}, nil
}

func (r *Runner) prepareWorkspace(id string) (string, error) {
	root := r.WorkspaceRoot
	if root == "" {
		root = filepath.Join(os.TempDir(), "livecon")
	}
	workspace := filepath.Join(root, id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", err
	}
	return workspace, nil
}

func composeEnv(jobEnv map[string]string) []string {
	env := os.Environ()
	for k, v := range jobEnv {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func (r *Runner) collectStream(wg *sync.WaitGroup, stream string, pipe io.Reader, forward func(Chunk)) {
	defer wg.Done()
	reader := bufio.NewReader(pipe)
	for {
		data, err := reader.ReadBytes('\n')
		if len(data) > 0 {
			forward(Chunk{
				Time:   time.Now(),
				Stream: stream,
				Data:   append([]byte{}, data...),
			})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger().Error("output read", "stream", stream, "err", err)
			}
			return
		}
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			return status.ExitStatus()
		}
	}
	return 1
}
