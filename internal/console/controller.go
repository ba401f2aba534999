// Package console implements the client side of the live-coding protocol:
// a controller that sends view/exec envelopes and applies the server's
// render commands, in receipt order, to one owned surface.
package console

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/antonkrylov/livecon/internal/logging"
	"github.com/antonkrylov/livecon/internal/protocol"
)

// Transport carries outbound frames. Send must not block on the network.
type Transport interface {
	Send(frame []byte) error
}

// State is the connection state as observed by the controller.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotOpen is returned by requests issued while no connection is open.
var ErrNotOpen = errors.New("connection is not open")

// Update describes one observable change of the controller.
type Update struct {
	State   State
	Content string
	// Command is set when the update was caused by a render command.
	Command *protocol.RenderCommand
	Err     error
}

// Stats counts inbound frame outcomes.
type Stats struct {
	Applied uint64
	Dropped uint64
}

// Controller owns one surface per connection. Event methods (OnOpen,
// OnMessage, OnClose, OnError) must be called from a single goroutine in
// the order the transport observed them; readers such as Content may run
// concurrently.
type Controller struct {
	transport Transport
	logger    *slog.Logger
	observer  func(Update)

	mu      sync.Mutex
	state   State
	surface Surface
	stats   Stats
	lastErr error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for dropped frames and transport events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers a callback invoked after every state or surface
// change. It runs on the goroutine delivering the event.
func WithObserver(fn func(Update)) Option {
	return func(c *Controller) { c.observer = fn }
}

var discardLogger = logging.Discard()

// New creates a controller bound to the given transport.
func New(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		logger:    discardLogger,
		state:     StateConnecting,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestView asks the server for a non-executing preview of a script.
func (c *Controller) RequestView(path, title, scope, environment string) error {
	return c.send(protocol.NewView(path, title, scope, environment))
}

// RequestExec asks the server to run a script. Output arrives later as
// render commands; there is no completion signal.
func (c *Controller) RequestExec(path, title, scope, environment string) error {
	return c.send(protocol.NewExec(path, title, scope, environment))
}

func (c *Controller) send(env protocol.RequestEnvelope) error {
	frame, err := protocol.EncodeRequest(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StateOpen {
		c.logger.Warn("request dropped", "command", env.Command, "path", env.Payload.Path, "state", state.String())
		return fmt.Errorf("%s %s: %w", env.Command, env.Payload.Path, ErrNotOpen)
	}
	if err := c.transport.Send(frame); err != nil {
		c.logger.Error("send request", "command", env.Command, "path", env.Payload.Path, "err", err)
		return fmt.Errorf("%s %s: %w", env.Command, env.Payload.Path, err)
	}
	c.logger.Debug("request sent", "command", env.Command, "path", env.Payload.Path, "title", env.Payload.Title)
	return nil
}

// OnOpen starts a fresh surface for a newly opened connection.
func (c *Controller) OnOpen() {
	c.mu.Lock()
	c.state = StateOpen
	c.surface.Reset()
	c.lastErr = nil
	u := c.snapshotLocked(nil)
	c.mu.Unlock()
	c.logger.Debug("connection opened")
	c.notify(u)
}

// OnMessage decodes one inbound frame and applies it. Rejected frames are
// logged and leave the surface untouched.
func (c *Controller) OnMessage(frame []byte) {
	cmd, err := protocol.DecodeRender(frame)
	if err != nil {
		c.mu.Lock()
		c.stats.Dropped++
		c.mu.Unlock()
		c.logger.Warn("render frame dropped", "err", err)
		return
	}
	c.mu.Lock()
	c.surface.Apply(cmd)
	c.stats.Applied++
	u := c.snapshotLocked(&cmd)
	c.mu.Unlock()
	c.notify(u)
}

// OnClose marks the connection as gone. The surface content is kept so the
// last output stays visible; it is reset by the next OnOpen.
func (c *Controller) OnClose(code int, reason string, clean bool) {
	c.mu.Lock()
	c.state = StateDisconnected
	u := c.snapshotLocked(nil)
	c.mu.Unlock()
	if clean {
		c.logger.Info("connection closed", "code", code, "reason", reason)
	} else {
		c.logger.Error("connection died", "code", code, "reason", reason)
	}
	c.notify(u)
}

// OnError records a transport error. It does not change the state; the
// transport follows up with OnClose when the connection is lost.
func (c *Controller) OnError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	u := c.snapshotLocked(nil)
	c.mu.Unlock()
	c.logger.Error("transport error", "err", err)
	c.notify(u)
}

// Content returns the current surface markup.
func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface.Content()
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns frame counters since the controller was created.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Err returns the last transport error seen on the current connection.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) snapshotLocked(cmd *protocol.RenderCommand) Update {
	return Update{
		State:   c.state,
		Content: c.surface.Content(),
		Command: cmd,
		Err:     c.lastErr,
	}
}

func (c *Controller) notify(u Update) {
	if c.observer != nil {
		c.observer(u)
	}
}
