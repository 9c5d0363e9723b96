package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/suniash/yolo-playground/internal/artifacts"
	"github.com/suniash/yolo-playground/internal/jobs"
)

// Kind says how a session reaches its job.
type Kind string

const (
	// KindJob follows a job by id with tracking and rerun.
	KindJob Kind = "job"
	// KindShare reads a job through a share link. It is read-only.
	KindShare Kind = "share"
)

type sourceKey struct {
	kind Kind
	id   string
}

// rerunFunc asks the backend to reprocess a job.
type rerunFunc func(ctx context.Context, id string) (jobs.Snapshot, error)

// source is the job pipeline shared by every session on the same job or
// share link: status tracking, artifact loading and the installed bundle.
// Sessions attach a redraw callback and hold a reference; the Service closes
// the source when the last reference is released.
//
// Every tracking or loading run carries a generation number. A run whose
// generation is stale (after Reload, Rerun or close) never touches state.
type source struct {
	key      sourceKey
	tracker  jobs.Tracker
	status   jobs.StatusFetcher
	loader   *artifacts.Loader
	rerun    rerunFunc
	log      *slog.Logger
	observer Observer

	holder artifacts.Holder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	phase     Phase
	job       *jobs.Snapshot
	err       error
	gen       uint64
	runCancel context.CancelFunc
	closed    bool
	listeners map[int]func()
	nextID    int
	// refs is changed only with the Service lock held as well.
	refs int

	closeOnce sync.Once
}

// sourceState is the pipeline part of a session State.
type sourceState struct {
	phase   Phase
	job     *jobs.Snapshot
	err     error
	viewers int
}

func newJobSource(id string, tracker jobs.Tracker, loader *artifacts.Loader, rerun rerunFunc, log *slog.Logger, observer Observer) *source {
	src := newSource(sourceKey{kind: KindJob, id: id}, loader, log.With(slog.String("job_id", id)), observer)
	src.tracker = tracker
	src.rerun = rerun
	return src
}

func newShareSource(id string, status jobs.StatusFetcher, loader *artifacts.Loader, log *slog.Logger, observer Observer) *source {
	src := newSource(sourceKey{kind: KindShare, id: id}, loader, log.With(slog.String("share_id", id)), observer)
	src.status = status
	return src
}

func newSource(key sourceKey, loader *artifacts.Loader, log *slog.Logger, observer Observer) *source {
	ctx, cancel := context.WithCancel(context.Background())
	return &source{
		key:       key,
		loader:    loader,
		log:       log,
		observer:  observer,
		ctx:       ctx,
		cancel:    cancel,
		phase:     PhaseLoading,
		listeners: make(map[int]func()),
	}
}

func (s *source) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.restartLocked()
	}
}

// attach registers fn to run after each bundle install.
func (s *source) attach(fn func()) (detach func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

func (s *source) state() sourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := sourceState{phase: s.phase, err: s.err, viewers: s.refs}
	if s.job != nil {
		j := *s.job
		st.job = &j
	}
	return st
}

// Reload retries artifact loading for a completed job and waits for the
// result. For a job that is not terminal yet, or whose tracking failed, it
// restarts tracking and returns at once. A failed job returns
// ErrJobNotCompleted; only Rerun helps there.
func (s *source) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.job == nil || s.job.Status != jobs.StatusCompleted {
		if s.job != nil && s.job.Status == jobs.StatusFailed {
			s.mu.Unlock()
			return ErrJobNotCompleted
		}
		s.restartLocked()
		s.mu.Unlock()
		return nil
	}

	if s.runCancel != nil {
		s.runCancel()
	}
	s.gen++
	gen := s.gen
	lctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	s.runCancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer stop()
	defer cancel()
	return s.load(lctx, gen)
}

// Rerun asks the backend to reprocess the job and starts tracking it again.
// The current bundle stays installed until the rerun's artifacts replace it.
func (s *source) Rerun(ctx context.Context) error {
	if s.rerun == nil {
		return ErrReadOnly
	}
	if s.isClosed() {
		return ErrSessionClosed
	}
	snap, err := s.rerun(ctx, s.key.id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.job = &snap
	s.restartLocked()
	s.log.Info("job rerun requested", slog.String("status", string(snap.Status)))
	return nil
}

// close stops tracking and loading and drops the bundle. Once it returns no
// listener fires.
func (s *source) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.phase = PhaseClosed
		s.gen++
		s.listeners = make(map[int]func())
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
		s.holder.Clear()
		s.log.Info("job source closed")
	})
}

func (s *source) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// restartLocked cancels the current run and starts over.
// Caller must hold s.mu and have checked s.closed.
func (s *source) restartLocked() {
	if s.runCancel != nil {
		s.runCancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.runCancel = cancel
	s.phase = PhaseLoading
	s.err = nil

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(ctx, gen)
	}()
}

func (s *source) run(ctx context.Context, gen uint64) {
	final, err := s.track(ctx, gen)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("job tracking failed", slog.String("error", err.Error()))
		s.settle(gen, PhaseError, err)
		return
	}

	switch final.Status {
	case jobs.StatusFailed:
		msg := final.Error
		if msg == "" {
			msg = "job failed"
		}
		s.log.Info("job failed", slog.String("error", msg))
		s.settle(gen, PhaseFailed, errors.New(msg))
	case jobs.StatusCompleted:
		_ = s.load(ctx, gen)
	}
}

// track follows a job to a terminal status. A share link is read once: the
// shared job is expected to be finished, and one that is not ends the run
// with ErrJobNotCompleted.
func (s *source) track(ctx context.Context, gen uint64) (jobs.Snapshot, error) {
	record := func(js jobs.Snapshot) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return
		}
		s.job = &js
		if !js.Status.IsTerminal() {
			s.phase = PhaseLoading
		}
	}
	if s.tracker != nil {
		return s.tracker.Track(ctx, s.key.id, record)
	}

	js, err := s.status.GetJob(ctx, s.key.id)
	if err != nil {
		return jobs.Snapshot{}, err
	}
	record(js)
	if !js.Status.IsTerminal() {
		return js, fmt.Errorf("%w: status %s", ErrJobNotCompleted, js.Status)
	}
	return js, nil
}

// load fetches the artifact bundle and installs it atomically. On failure
// nothing is installed and the source moves to PhaseError.
func (s *source) load(ctx context.Context, gen uint64) error {
	if !s.settle(gen, PhaseFetching, nil) {
		return ErrSessionClosed
	}

	b, err := s.loader.Load(ctx, s.key.id)
	if ctx.Err() == nil && s.observer != nil {
		s.observer.ObserveArtifactLoad(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.gen != gen {
		s.mu.Unlock()
		return context.Canceled
	}
	if err != nil {
		if ctx.Err() != nil {
			s.mu.Unlock()
			return ctx.Err()
		}
		s.phase = PhaseError
		s.err = err
		s.mu.Unlock()
		s.log.Warn("artifact load failed", slog.String("error", err.Error()))
		return err
	}
	s.holder.Install(b)
	s.phase = PhaseReady
	s.err = nil
	notify := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		notify = append(notify, fn)
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// settle moves a current run to phase p. It reports false when the run is
// stale or the source closed.
func (s *source) settle(gen uint64, p Phase, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		return false
	}
	s.phase = p
	s.err = err
	return true
}
