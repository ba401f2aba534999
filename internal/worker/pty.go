//go:build !windows

package worker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// runPTY starts cmd with stdout and stderr on a pseudo terminal and streams
// the merged output. Stdin keeps the script reader, so the child gets no
// controlling terminal.
func (r *Runner) runPTY(cmd *exec.Cmd, job Job, forward func(Chunk)) (*Result, error) {
	started := time.Now()
	ptmx, err := pty.StartWithAttrs(cmd, &pty.Winsize{Rows: 40, Cols: 120}, &syscall.SysProcAttr{Setsid: true})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	defer ptmx.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go r.collectStream(&wg, "tty", ptyReader{ptmx}, func(c Chunk) {
		c.Data = bytes.ReplaceAll(c.Data, []byte("\r\n"), []byte("\n"))
		forward(c)
	})
	runErr := cmd.Wait()
	wg.Wait()
	return &Result{
		ExitCode:  exitCodeFromError(runErr),
		Started:   started,
		Completed: time.Now(),
		Err:       runErr,
	}, nil
}

// ptyReader reports the EIO a Linux pty master returns after the child
// exits as a plain EOF.
type ptyReader struct{ f *os.File }

func (p ptyReader) Read(b []byte) (int, error) {
	n, err := p.f.Read(b)
	if errors.Is(err, syscall.EIO) {
		err = io.EOF
	}
	return n, err
}
