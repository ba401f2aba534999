package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/livecon/internal/logging"
)

var (
	// ErrNotFound marks a missing run.
	ErrNotFound = errors.New("run not found")
	// ErrFinished is returned when output is appended to a finished run.
	ErrFinished = errors.New("run already finished")
)

var discardLogger = logging.Discard()

// Store keeps runs and their output in memory, optionally persisting
// finished runs to bbolt and mirroring every change to JetStream.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	order  []string
	output map[string][]string

	opts   Options
	logger *slog.Logger
	db     *boltStore
	js     *jetStreamMirror
	now    func() time.Time
}

// New creates a Store. Persisted runs are loaded from the bbolt file first
// and JetStream snapshots are replayed on top of them.
func New(ctx context.Context, opts *Options) (*Store, error) {
	cfg := Options{}
	if opts != nil {
		cfg = *opts
	}
	cfg.setDefaults()
	logger := discardLogger
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	st := &Store{
		runs:   make(map[string]*Run),
		output: make(map[string][]string),
		opts:   cfg,
		logger: logger,
		now:    time.Now,
	}
	if cfg.Path != "" {
		db, err := openBolt(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open history %s: %w", cfg.Path, err)
		}
		st.db = db
		if err := st.loadPersisted(); err != nil {
			db.Close()
			return nil, err
		}
	}
	if cfg.JetStream != nil {
		mirror, err := newJetStreamMirror(ctx, cfg.JetStream, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		if err := mirror.hydrate(ctx, st); err != nil {
			mirror.Close()
			st.Close()
			return nil, err
		}
		st.js = mirror
	}
	return st, nil
}

// Close releases the bbolt file and the NATS connection.
func (s *Store) Close() error {
	if s.js != nil {
		s.js.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Begin records the start of a run and returns its snapshot.
func (s *Store) Begin(spec RunSpec) Run {
	run := &Run{
		ID:      uuid.NewString(),
		RunSpec: spec,
		Status:  StatusRunning,
		Started: s.now(),
		Version: 1,
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	s.output[run.ID] = nil
	snapshot := *run
	s.mu.Unlock()
	s.publishRun(snapshot)
	return snapshot
}

// Append adds one emitted fragment to a running run.
func (s *Store) Append(id, fragment string) error {
	s.mu.Lock()
	run, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if run.Done() {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrFinished)
	}
	s.output[id] = append(s.output[id], fragment)
	run.Fragments++
	run.Bytes += int64(len(fragment))
	offset := uint64(run.Fragments)
	s.mu.Unlock()
	if s.js != nil {
		if err := s.js.publishFragment(id, offset, fragment); err != nil {
			s.logger.Error("jetstream publish fragment", "run", id, "err", err)
		}
	}
	return nil
}

// Finish closes a run. A zero exit code with no message counts as success.
func (s *Store) Finish(id string, exitCode int, message string) (Run, error) {
	s.mu.Lock()
	run, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return Run{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if run.Done() {
		s.mu.Unlock()
		return Run{}, fmt.Errorf("%s: %w", id, ErrFinished)
	}
	run.ExitCode = exitCode
	run.Message = message
	run.Finished = s.now()
	run.Version++
	run.Status = StatusSucceeded
	if exitCode != 0 || message != "" {
		run.Status = StatusFailed
	}
	snapshot := *run
	output := append([]string(nil), s.output[id]...)
	s.evictLocked()
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.putRun(snapshot, output); err != nil {
			s.logger.Error("persist run", "run", id, "err", err)
		}
	}
	s.publishRun(snapshot)
	return snapshot, nil
}

// Get returns a run snapshot.
func (s *Store) Get(id string) (Run, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	var snapshot Run
	if ok {
		snapshot = *run
	}
	s.mu.RUnlock()
	if ok {
		return snapshot, nil
	}
	if s.db != nil {
		run, found, err := s.db.run(id)
		if err != nil {
			return Run{}, err
		}
		if found {
			return run, nil
		}
	}
	return Run{}, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// List returns the runs held in memory, oldest first.
func (s *Store) List() []Run {
	s.mu.RLock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	s.mu.RUnlock()
	sortRuns(out)
	return out
}

// Output returns the fragments recorded for a run, in emission order.
func (s *Store) Output(id string) ([]string, error) {
	s.mu.RLock()
	_, ok := s.runs[id]
	out := append([]string(nil), s.output[id]...)
	s.mu.RUnlock()
	if ok {
		return out, nil
	}
	if s.db != nil {
		out, err := s.db.output(id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return out, err
		}
	}
	return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
}

func (s *Store) publishRun(run Run) {
	if s.js == nil {
		return
	}
	if err := s.js.publishRun(run); err != nil {
		s.logger.Error("jetstream publish run", "run", run.ID, "err", err)
	}
}

// evictLocked drops the oldest finished runs from memory once MaxRuns is
// exceeded. Persisted copies stay readable through Get and Output.
func (s *Store) evictLocked() {
	excess := len(s.runs) - s.opts.MaxRuns
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		run, ok := s.runs[id]
		if !ok {
			continue
		}
		if excess > 0 && run.Done() {
			delete(s.runs, id)
			delete(s.output, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *Store) loadPersisted() error {
	var runs []Run
	if err := s.db.eachRun(func(r Run) { runs = append(runs, r) }); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	sortRuns(runs)
	if len(runs) > s.opts.MaxRuns {
		runs = runs[len(runs)-s.opts.MaxRuns:]
	}
	for _, r := range runs {
		out, err := s.db.output(r.ID)
		if err != nil {
			s.logger.Warn("load run output", "run", r.ID, "err", err)
		}
		run := r
		s.runs[r.ID] = &run
		s.order = append(s.order, r.ID)
		s.output[r.ID] = out
	}
	return nil
}

func (s *Store) applyReplayedRun(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if ok && existing.Version >= run.Version {
		return
	}
	if ok {
		// counters follow the fragments actually held
		run.Fragments = existing.Fragments
		run.Bytes = existing.Bytes
	} else {
		run.Fragments = 0
		run.Bytes = 0
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = &run
}

func (s *Store) applyReplayedFragment(id string, offset uint64, fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return
	}
	have := uint64(len(s.output[id]))
	if offset <= have {
		return
	}
	if offset != have+1 {
		s.logger.Warn("output replay gap", "run", id, "have", have, "offset", offset)
	}
	s.output[id] = append(s.output[id], fragment)
	run.Fragments = len(s.output[id])
	run.Bytes += int64(len(fragment))
}

func sortRuns(runs []Run) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Started.Equal(runs[j].Started) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].Started.Before(runs[j].Started)
	})
}
