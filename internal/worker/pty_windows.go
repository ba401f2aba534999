package worker

import (
	"errors"
	"os/exec"
)

func (r *Runner) runPTY(*exec.Cmd, Job, func(Chunk)) (*Result, error) {
	return nil, errors.New("pty mode is not supported on windows")
}
