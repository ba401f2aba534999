package worker

import (
	"context"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// runStarlark executes the script in a fresh thread. Each print call
// becomes one stdout chunk; the job environment is the frozen dict env.
func (r *Runner) runStarlark(ctx context.Context, job Job, forward func(Chunk)) *Result {
	thread := &starlark.Thread{
		Name: job.ID,
		Print: func(_ *starlark.Thread, msg string) {
			forward(Chunk{Time: time.Now(), Stream: "stdout", Data: []byte(msg + "\n")})
		},
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	predeclared := starlark.StringDict{"env": envDict(job.Env)}
	name := job.Name
	if name == "" {
		name = job.ID
	}

	started := time.Now()
	_, err := starlark.ExecFileOptions(&syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
	}, thread, name, job.Script, predeclared)
	res := &Result{Started: started, Completed: time.Now(), Err: err}
	if err != nil {
		res.ExitCode = 1
	}
	return res
}

func envDict(env map[string]string) *starlark.Dict {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := starlark.NewDict(len(keys))
	for _, k := range keys {
		_ = d.SetKey(starlark.String(k), starlark.String(env[k]))
	}
	d.Freeze()
	return d
}
