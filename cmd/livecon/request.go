package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/antonkrylov/livecon/internal/client"
	"github.com/antonkrylov/livecon/internal/console"
	"github.com/antonkrylov/livecon/internal/protocol"
)

type requestFlags struct {
	scope       string
	environment string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scope, "scope", "", "override scope: config or temp (defaults to context)")
	cmd.Flags().StringVar(&f.environment, "env", "", "target environment (defaults to context, then the server default)")
}

func (f *requestFlags) payload(root *rootOptions, path, title string) protocol.RequestPayload {
	return protocol.RequestPayload{
		Path:        path,
		Title:       title,
		Scope:       pick(f.scope, root.scope),
		Environment: pick(f.environment, root.environment),
	}
}

func newViewCmd(root *rootOptions) *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "view [<path> <title>]",
		Short: "Print a prepared script without running it",
		Long:  "Print a prepared script without running it. With no arguments, pick the request interactively.",
		Args:  requestArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, title, err := resolveTarget(cmd.Context(), root, args, nil)
			if err != nil {
				return err
			}
			c := newConsoleClient(root, os.Stdout, nil, isTerminal(os.Stdout), false)
			req := protocol.RequestEnvelope{
				Command: protocol.RequestView,
				Payload: flags.payload(root, path, title),
			}
			return c.runOnce(cmd.Context(), req, 0, false)
		},
	}
	flags.register(cmd)
	return cmd
}

func newExecCmd(root *rootOptions) *cobra.Command {
	flags := &requestFlags{}
	var idle time.Duration
	var follow bool
	cmd := &cobra.Command{
		Use:   "exec [<path> <title>]",
		Short: "Run a script and stream its output",
		Long: "Run a script and stream its output. The server sends no completion signal, " +
			"so exec returns once no output has arrived for --idle, or keeps streaming with --follow. " +
			"With no arguments, pick the request interactively.",
		Args: requestArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if idle <= 0 {
				return fmt.Errorf("--idle must be positive")
			}
			path, title, err := resolveTarget(cmd.Context(), root, args, nil)
			if err != nil {
				return err
			}
			c := newConsoleClient(root, os.Stdout, nil, isTerminal(os.Stdout), false)
			req := protocol.RequestEnvelope{
				Command: protocol.RequestExec,
				Payload: flags.payload(root, path, title),
			}
			return c.runOnce(cmd.Context(), req, idle, follow)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&idle, "idle", 3*time.Second, "return after this long without output")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming until interrupted")
	return cmd
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	flags := &requestFlags{}
	var reconnect bool
	var idle time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Read view/exec lines from stdin and render the console",
		Long: "Read commands from stdin, one per line:\n\n" +
			"  view <path> <title>\n  exec <path> <title>\n  scope <config|temp>\n  env <environment>\n\n" +
			"Output is redrawn in place on a terminal.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newConsoleClient(root, os.Stdout, os.Stderr, isTerminal(os.Stdout), reconnect || root.reconnect)
			lc := &console.LineContext{
				Scope:       pick(flags.scope, root.scope),
				Environment: pick(flags.environment, root.environment),
			}
			return c.watch(cmd.Context(), os.Stdin, lc, idle)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "redial with backoff when the connection drops")
	cmd.Flags().DurationVar(&idle, "idle", 3*time.Second, "after stdin ends, exit once output has been quiet this long")
	return cmd
}

func joinTitle(words []string) string {
	return strings.Join(words, " ")
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// consoleClient wires a Session, a Controller and a surfacePrinter.
type consoleClient struct {
	root    *rootOptions
	printer *surfacePrinter
	status  io.Writer
	session *client.Session
	ctrl    *console.Controller

	onOpen    func()
	activity  chan struct{}
	lastState console.State
}

func newConsoleClient(root *rootOptions, out, status io.Writer, interactive, reconnect bool) *consoleClient {
	c := &consoleClient{
		root:      root,
		printer:   newSurfacePrinter(out, interactive),
		status:    status,
		activity:  make(chan struct{}, 1),
		lastState: console.StateConnecting,
	}
	c.session = client.NewSession(client.SessionOptions{
		URL:       root.serverURL,
		Reconnect: reconnect,
		Logger:    root.logger,
		Socket:    client.SocketOptions{HandshakeTimeout: root.timeout},
	})
	c.ctrl = console.New(c.session, console.WithLogger(root.logger), console.WithObserver(c.observe))
	return c
}

// observe runs on the session goroutine.
func (c *consoleClient) observe(u console.Update) {
	if u.Command != nil {
		c.printer.Apply(*u.Command)
		select {
		case c.activity <- struct{}{}:
		default:
		}
		return
	}
	if u.State == c.lastState {
		return
	}
	c.lastState = u.State
	if c.status != nil {
		fmt.Fprintf(c.status, "livecon: %s\n", u.State)
	}
	if u.State == console.StateOpen && c.onOpen != nil {
		c.onOpen()
	}
}

// runOnce sends req as soon as the connection opens. With idle zero it
// returns after the first render command; otherwise after idle without
// output, or never when follow is set.
func (c *consoleClient) runOnce(parent context.Context, req protocol.RequestEnvelope, idle time.Duration, follow bool) error {
	if err := req.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var sendErr error
	c.onOpen = func() {
		if err := c.ctrl.Request(req); err != nil {
			sendErr = err
			cancel()
		}
	}
	done := make(chan error, 1)
	go func() { done <- c.session.Run(ctx, c.ctrl) }()

	timer := time.NewTimer(c.root.timeout)
	defer timer.Stop()
	var timeoutErr error
	got := false
	for {
		select {
		case err := <-done:
			c.printer.Finish()
			switch {
			case err != nil:
				return err
			case sendErr != nil:
				return sendErr
			case timeoutErr != nil:
				return timeoutErr
			}
			return nil
		case <-c.activity:
			got = true
			switch {
			case idle == 0:
				cancel()
			case follow:
				timer.Stop()
			default:
				timer.Reset(idle)
			}
		case <-timer.C:
			if !got {
				timeoutErr = fmt.Errorf("%s %s: no response within %s", req.Command, req.Payload.Path, c.root.timeout)
			}
			cancel()
		}
	}
}

// watch keeps a session open while requests are read from in, starting
// once the first connection is up. After in is exhausted it waits for the
// output to stay quiet for idle before closing.
func (c *consoleClient) watch(parent context.Context, in io.Reader, lc *console.LineContext, idle time.Duration) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	opened := make(chan struct{}, 1)
	c.onOpen = func() {
		select {
		case opened <- struct{}{}:
		default:
		}
	}
	done := make(chan error, 1)
	go func() { done <- c.session.Run(ctx, c.ctrl) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		select {
		case <-opened:
		case <-ctx.Done():
			return
		}
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var quiet <-chan time.Time
	for {
		select {
		case err := <-done:
			c.printer.Finish()
			return err
		case line, ok := <-lines:
			if !ok {
				lines = nil
				quiet = time.After(idle)
				continue
			}
			req, err := lc.Parse(line)
			if err != nil {
				fmt.Fprintf(c.status, "livecon: %v\n", err)
				continue
			}
			if req == nil {
				continue
			}
			if err := c.ctrl.Request(*req); err != nil {
				fmt.Fprintf(c.status, "livecon: %v\n", err)
			}
		case <-c.activity:
			if lines == nil {
				quiet = time.After(idle)
			}
		case <-quiet:
			cancel()
		}
	}
}
