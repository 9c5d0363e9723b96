package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/suniash/yolo-playground/internal/artifacts"
	"github.com/suniash/yolo-playground/internal/jobs"
	"github.com/suniash/yolo-playground/internal/overlay"
)

// Options configures a Service. Backend, Tracker and Log are required.
type Options struct {
	Backend  Backend
	Tracker  jobs.Tracker
	Renderer overlay.Renderer
	// Shares reads jobs through share links. Nil disables OpenShare.
	Shares ShareBackend
	// Jobs is the live job list kept by a jobs.Feed. Nil disables it.
	Jobs     *jobs.List
	Filters  overlay.Filters
	Log      *slog.Logger
	Observer Observer
	// IdleTTL is how long a session may go without requests or stream
	// subscribers before Reap closes it. Zero disables reaping.
	IdleTTL time.Duration
	// MaxSurface caps each side of a render surface in pixels. Zero means
	// no limit.
	MaxSurface int
}

// Service opens, finds and closes sessions, and answers job queries.
// Sessions on the same job (or share link) share one tracking and loading
// pipeline, which closes with the last of them.
type Service struct {
	registry    *Registry
	opts        Options
	jobLoader   *artifacts.Loader
	shareLoader *artifacts.Loader
	log         *slog.Logger

	mu      sync.Mutex
	sources map[sourceKey]*source
}

// NewService returns a Service that keeps its sessions in registry.
func NewService(registry *Registry, opts Options) *Service {
	s := &Service{
		registry:  registry,
		opts:      opts,
		jobLoader: artifacts.NewLoader(opts.Backend, opts.Log),
		log:       opts.Log,
		sources:   make(map[sourceKey]*source),
	}
	if opts.Shares != nil {
		s.shareLoader = artifacts.NewLoader(opts.Shares, opts.Log)
	}
	return s
}

// Open starts a new viewer session on jobID. Every call returns a distinct
// session; the job is tracked once however many are open.
func (s *Service) Open(jobID string) *Session {
	sess := s.open(sourceKey{kind: KindJob, id: jobID}, s.opts.Filters)
	s.log.Info("session opened", slog.String("session_id", sess.ID()), slog.String("job_id", jobID))
	return sess
}

// OpenShare starts a read-only viewer session on a share link. Share
// sessions start with players and ball shown and the trail hidden.
func (s *Service) OpenShare(shareID string) (*Session, error) {
	if s.opts.Shares == nil {
		return nil, ErrSharesDisabled
	}
	f := s.opts.Filters
	f.ShowPlayers, f.ShowBall, f.ShowTrail = true, true, false
	sess := s.open(sourceKey{kind: KindShare, id: shareID}, f)
	s.log.Info("share session opened", slog.String("session_id", sess.ID()), slog.String("share_id", shareID))
	return sess, nil
}

func (s *Service) open(key sourceKey, filters overlay.Filters) *Session {
	src := s.acquire(key)
	sess := newSession(src, viewerOpts{
		renderer:   s.opts.Renderer,
		log:        s.log,
		observer:   s.opts.Observer,
		filters:    filters,
		maxSurface: s.opts.MaxSurface,
	}, func() { s.release(src) })
	s.registry.Add(sess)
	return sess
}

// acquire returns the source for key with one more reference, starting it
// when it is new.
func (s *Service) acquire(key sourceKey) *source {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[key]
	if !ok {
		switch key.kind {
		case KindShare:
			src = newShareSource(key.id, s.opts.Shares, s.shareLoader, s.log, s.opts.Observer)
		default:
			src = newJobSource(key.id, s.opts.Tracker, s.jobLoader, s.opts.Backend.Rerun, s.log, s.opts.Observer)
		}
		s.sources[key] = src
		src.start()
	}
	src.mu.Lock()
	src.refs++
	src.mu.Unlock()
	return src
}

// release drops one reference to src and closes it when none remain.
func (s *Service) release(src *source) {
	s.mu.Lock()
	src.mu.Lock()
	src.refs--
	last := src.refs <= 0
	src.mu.Unlock()
	if last && s.sources[src.key] == src {
		delete(s.sources, src.key)
	}
	s.mu.Unlock()

	if last {
		src.close()
	}
}

// Get returns the open session with the given id and records the access.
func (s *Service) Get(id string) (*Session, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	sess.touch(time.Now())
	return sess, nil
}

// List returns the state of every open session, ordered by session id.
func (s *Service) List() []State {
	ids := s.registry.IDs()
	out := make([]State, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.registry.Get(id); ok {
			out = append(out, sess.State())
		}
	}
	return out
}

// Close tears down the session with the given id.
func (s *Service) Close(id string) error {
	sess, ok := s.registry.Remove(id)
	if !ok {
		return ErrNotFound
	}
	sess.Close()
	return nil
}

// CloseAll tears down every open session. Used on shutdown.
func (s *Service) CloseAll() {
	var wg sync.WaitGroup
	for _, sess := range s.registry.RemoveAll() {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			sess.Close()
		}(sess)
	}
	wg.Wait()
}

// Reap closes every session idle for at least IdleTTL at now and returns how
// many it closed.
func (s *Service) Reap(now time.Time) int {
	if s.opts.IdleTTL <= 0 {
		return 0
	}
	n := 0
	for _, id := range s.registry.IDs() {
		sess, ok := s.registry.Get(id)
		if !ok || !sess.idle(now, s.opts.IdleTTL) {
			continue
		}
		if s.Close(id) == nil {
			n++
			s.log.Info("idle session reaped", slog.String("session_id", id))
		}
	}
	return n
}

// RunReaper calls Reap every interval until ctx is done.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) {
	if s.opts.IdleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Reap(now)
		}
	}
}

// ActiveSessions returns the number of open sessions.
func (s *Service) ActiveSessions() int {
	return s.registry.Len()
}

// ActiveSources returns the number of jobs and share links being followed.
func (s *Service) ActiveSources() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

// Jobs returns the job list, newest first. It reads the live list when a
// feed keeps one and asks the backend otherwise.
func (s *Service) Jobs(ctx context.Context) ([]jobs.Snapshot, error) {
	if s.opts.Jobs == nil {
		return s.opts.Backend.ListJobs(ctx)
	}
	return s.opts.Jobs.Snapshot(), nil
}

// Job returns the latest snapshot of a job, from the live list when it knows
// the job and from the backend otherwise.
func (s *Service) Job(ctx context.Context, id string) (jobs.Snapshot, error) {
	if s.opts.Jobs != nil {
		if js, ok := s.opts.Jobs.Get(id); ok {
			return js, nil
		}
	}
	return s.opts.Backend.GetJob(ctx, id)
}
