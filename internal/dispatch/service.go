// Package dispatch is the server side of the live-coding protocol. It turns
// view and exec requests into ordered render commands on the requesting
// connection.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/livecon/internal/history"
	"github.com/antonkrylov/livecon/internal/logging"
	"github.com/antonkrylov/livecon/internal/protocol"
	"github.com/antonkrylov/livecon/internal/scripts"
	"github.com/antonkrylov/livecon/internal/worker"
)

// ErrCanceled is reported for an exec stopped through Cancel or CancelAll.
var ErrCanceled = errors.New("run canceled")

// Emitter delivers render commands to one client in call order.
type Emitter interface {
	Emit(cmd protocol.RenderCommand) error
}

// Config holds server-wide script settings.
type Config struct {
	// DefaultEnvironment is used when a request names none.
	DefaultEnvironment string
	// Environment holds server-side values per environment. They override
	// a collection's values and are overridden by temp-scope overrides.
	Environment map[string]map[string]string
}

// Service resolves, prepares and runs scripts for requests.
type Service struct {
	catalog   scripts.Catalog
	overrides *scripts.Overrides
	runner    *worker.Runner
	history   *history.Store
	cfg       Config
	logger    *slog.Logger
	clockFn   func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewService wires the collaborators of a dispatcher.
func NewService(catalog scripts.Catalog, overrides *scripts.Overrides, runner *worker.Runner, hist *history.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if overrides == nil {
		overrides = scripts.NewOverrides()
	}
	return &Service{
		catalog:   catalog,
		overrides: overrides,
		runner:    runner,
		history:   hist,
		cfg:       cfg,
		logger:    logger,
		clockFn:   time.Now,
		running:   make(map[string]context.CancelFunc),
	}
}

// Catalog returns the collection catalog served by s.
func (s *Service) Catalog() scripts.Catalog { return s.catalog }

// Overrides returns the temp-scope override store.
func (s *Service) Overrides() *scripts.Overrides { return s.overrides }

// History returns the run history, which may be nil.
func (s *Service) History() *history.Store { return s.history }

// Running returns the run IDs of execs in flight, sorted.
func (s *Service) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cancel stops the exec with the given run ID. It reports whether such a
// run was in flight.
func (s *Service) Cancel(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CancelAll stops every exec in flight and returns their run IDs, sorted.
func (s *Service) CancelAll() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.running))
	for id, cancel := range s.running {
		ids = append(ids, id)
		cancel()
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (s *Service) track(runID string, cancel context.CancelFunc) func() {
	s.mu.Lock()
	s.running[runID] = cancel
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.running, runID)
		s.mu.Unlock()
		cancel()
	}
}

// Handle processes one request to completion. View emits a single Replace;
// exec emits Clear followed by one Append per output chunk. Failures are
// reported to the client as an Append of "error: <msg>\n".
func (s *Service) Handle(ctx context.Context, connID string, req protocol.RequestEnvelope, emit Emitter) {
	logger := s.logger.With("conn", connID, "command", string(req.Command), "path", req.Payload.Path, "title", req.Payload.Title)
	rec := s.begin(connID, req)
	started := s.clockFn()

	var (
		exitCode int
		err      error
	)
	switch req.Command {
	case protocol.RequestView:
		err = s.view(req.Payload, emit, rec)
	case protocol.RequestExec:
		exitCode, err = s.exec(ctx, req.Payload, emit, rec)
	default:
		err = fmt.Errorf("unrecognized command: %s", req.Command)
	}

	if err != nil {
		if exitCode == 0 {
			exitCode = 1
		}
		logger.Warn("request failed", "err", err)
		if emitErr := s.emitFragment(emit, rec, "error: "+err.Error()+"\n"); emitErr != nil {
			logger.Debug("report error to client", "err", emitErr)
		}
	}
	rec.finish(exitCode, err)
	logger.Info("request handled", "exit", exitCode, "elapsed", s.clockFn().Sub(started))
}

func (s *Service) view(p protocol.RequestPayload, emit Emitter, rec *recorder) error {
	prepared, err := s.prepare(p)
	if err != nil {
		return err
	}
	if err := emit.Emit(protocol.Replace(prepared.Script)); err != nil {
		return err
	}
	rec.append(prepared.Script)
	return nil
}

func (s *Service) exec(ctx context.Context, p protocol.RequestPayload, emit Emitter, rec *recorder) (int, error) {
	if err := emit.Emit(protocol.Clear()); err != nil {
		return 0, err
	}
	prepared, err := s.prepare(p)
	if err != nil {
		return 0, err
	}
	if s.runner == nil {
		return 0, errors.New("no script runner configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	untrack := s.track(rec.id(), cancel)
	defer untrack()

	job := worker.Job{
		ID:     rec.id(),
		Name:   prepared.Collection + ":" + prepared.Request.Title,
		Engine: prepared.Request.Engine,
		Script: prepared.Script,
		Env:    prepared.Env,
	}
	res, err := s.runner.Execute(runCtx, job, func(chunk worker.Chunk) error {
		return s.emitFragment(emit, rec, string(chunk.Data))
	})
	if err != nil {
		return 0, err
	}
	if runCtx.Err() != nil && ctx.Err() == nil {
		return res.ExitCode, ErrCanceled
	}
	if res.Err != nil {
		return res.ExitCode, res.Err
	}
	return res.ExitCode, nil
}

func (s *Service) prepare(p protocol.RequestPayload) (*scripts.Prepared, error) {
	env := p.Environment
	if env == "" {
		env = s.cfg.DefaultEnvironment
	}
	overrides, err := s.overrides.ForScope(p.Scope, env)
	if err != nil {
		return nil, err
	}
	coll, err := s.catalog.Load(p.Path)
	if err != nil {
		return nil, err
	}
	prepared, err := scripts.Prepare(coll, p.Title, env, s.cfg.Environment[env], overrides)
	if err != nil {
		return nil, fmt.Errorf("error occurred during script preparation: %w", err)
	}
	return prepared, nil
}

func (s *Service) emitFragment(emit Emitter, rec *recorder, fragment string) error {
	if err := emit.Emit(protocol.AppendFragment(fragment)); err != nil {
		return err
	}
	rec.append(fragment)
	return nil
}

func (s *Service) begin(connID string, req protocol.RequestEnvelope) *recorder {
	r := &recorder{store: s.history, logger: s.logger}
	if s.history == nil {
		r.run.ID = uuid.NewString()
		return r
	}
	r.run = s.history.Begin(history.RunSpec{
		Conn:        connID,
		Command:     string(req.Command),
		Path:        req.Payload.Path,
		Title:       req.Payload.Title,
		Scope:       req.Payload.Scope,
		Environment: req.Payload.Environment,
	})
	return r
}

// recorder mirrors what a request emitted into the history store.
type recorder struct {
	store  *history.Store
	logger *slog.Logger
	run    history.Run
}

func (r *recorder) id() string { return r.run.ID }

func (r *recorder) append(fragment string) {
	if r.store == nil {
		return
	}
	if err := r.store.Append(r.run.ID, fragment); err != nil {
		r.logger.Warn("record fragment", "run", r.run.ID, "err", err)
	}
}

func (r *recorder) finish(exitCode int, err error) {
	if r.store == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if _, ferr := r.store.Finish(r.run.ID, exitCode, msg); ferr != nil {
		r.logger.Warn("record finish", "run", r.run.ID, "err", ferr)
	}
}
