package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/suniash/yolo-playground/internal/artifacts"
	"github.com/suniash/yolo-playground/internal/overlay"
	"github.com/suniash/yolo-playground/internal/playback"
)

// Session is one viewer's overlay state: its own playback clock, filters,
// render loop and subscribers. The job pipeline underneath is shared with
// every other session on the same job or share link, so one viewer's seeks
// and toggles never reach another.
type Session struct {
	id         string
	src        *source
	renderer   overlay.Renderer
	log        *slog.Logger
	maxSurface int

	clock   *playback.Clock
	sched   *overlay.Scheduler
	hub     *hub
	detach  []func()
	release func()

	// lastSeen is the unix nano time of the last request on the session.
	lastSeen atomic.Int64

	mu      sync.Mutex
	filters overlay.Filters
	closed  bool

	closeOnce sync.Once
}

type viewerOpts struct {
	renderer   overlay.Renderer
	log        *slog.Logger
	observer   Observer
	filters    overlay.Filters
	maxSurface int
}

// newSession attaches a viewer to src. release runs once after Close has
// torn the viewer down.
func newSession(src *source, o viewerOpts, release func()) *Session {
	id := uuid.NewString()
	s := &Session{
		id:         id,
		src:        src,
		renderer:   o.renderer,
		log:        o.log.With(slog.String("session_id", id), slog.String(string(src.key.kind)+"_id", src.key.id)),
		maxSurface: o.maxSurface,
		clock:      playback.NewClock(),
		hub:        newHub(),
		release:    release,
		filters:    o.filters,
	}
	var ro overlay.RenderObserver
	if o.observer != nil {
		ro = o.observer
	}
	s.sched = overlay.NewScheduler(o.renderer, src.holder.Dataset, o.filters, s.hub.publish, ro)
	s.detach = []func(){s.clock.Attach(s.sched), src.attach(s.sched.Invalidate)}
	s.touch(time.Now())
	s.sched.Start()
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Kind reports whether the session follows a job or a share link.
func (s *Session) Kind() Kind {
	return s.src.key.kind
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	ss := s.src.state()
	st := State{
		ID:      s.id,
		Kind:    s.src.key.kind,
		Phase:   ss.phase,
		Job:     ss.job,
		Viewers: ss.viewers,
	}
	switch s.src.key.kind {
	case KindShare:
		st.ShareID = s.src.key.id
		if ss.job != nil {
			st.JobID = ss.job.ID
		}
	default:
		st.JobID = s.src.key.id
	}
	if ss.err != nil {
		st.Error = ss.err.Error()
	}

	s.mu.Lock()
	st.Filters = s.filters
	if s.closed {
		st.Phase = PhaseClosed
	}
	s.mu.Unlock()

	if b := s.src.holder.Current(); b != nil {
		meta := b.Tracks.Meta()
		loaded := b.LoadedAt
		st.Meta = &meta
		st.LoadedAt = &loaded
	}
	st.Time = s.clock.Now()
	size := s.clock.Size()
	st.Surface = overlay.Surface{Width: size.Width, Height: size.Height}
	st.Subscribers = s.hub.len()
	return st
}

// Reload retries the shared pipeline. See source.Reload.
func (s *Session) Reload(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.src.Reload(ctx)
}

// Rerun asks the backend to reprocess the job. Share sessions return
// ErrReadOnly.
func (s *Session) Rerun(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.src.Rerun(ctx)
}

// Render paints the installed dataset at t on demand, independent of the
// session clock.
func (s *Session) Render(t float64, surface overlay.Surface, filters overlay.Filters) (overlay.Scene, error) {
	if s.isClosed() {
		return overlay.Scene{}, ErrSessionClosed
	}
	return s.renderer.Render(t, s.src.holder.Dataset(), surface, filters), nil
}

// Post forwards a media element or surface signal to the session clock.
// A resize beyond the configured maximum side is rejected.
func (s *Session) Post(ev playback.Event) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if ev.Kind == playback.Resize && s.maxSurface > 0 && (ev.Width > s.maxSurface || ev.Height > s.maxSurface) {
		return fmt.Errorf("%w: %dx%d exceeds %d", ErrSurfaceTooLarge, ev.Width, ev.Height, s.maxSurface)
	}
	return s.clock.Post(ev)
}

// MaxSurface returns the largest accepted surface side, or 0 for no limit.
func (s *Session) MaxSurface() int {
	return s.maxSurface
}

// Filters returns the session's visibility toggles.
func (s *Session) Filters() overlay.Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// SetFilters replaces the visibility toggles and schedules a redraw.
func (s *Session) SetFilters(f overlay.Filters) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.filters = f
	s.mu.Unlock()
	s.sched.SetFilters(f)
	return nil
}

// Subscribe returns a channel that receives every scene the session renders.
// A slow reader only sees the latest one. The channel closes on cancel or
// when the session closes.
func (s *Session) Subscribe() (<-chan overlay.Scene, func(), error) {
	ch, cancel, ok := s.hub.subscribe()
	if !ok {
		return nil, cancel, ErrSessionClosed
	}
	return ch, cancel, nil
}

// Bundle returns the installed artifacts.
func (s *Session) Bundle() (*artifacts.Bundle, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	b := s.src.holder.Current()
	if b == nil {
		return nil, ErrNotReady
	}
	return b, nil
}

// Close detaches from the clock and the job pipeline, stops the render loop,
// closes every subscriber and releases the pipeline. It is idempotent; once
// it returns no callback fires.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		for _, d := range s.detach {
			d()
		}
		s.clock.Close()
		s.sched.Stop()
		s.hub.close()
		if s.release != nil {
			s.release()
		}
		s.log.Info("session closed")
	})
}

// touch records activity at now.
func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// idle reports whether the session saw no activity for ttl before now.
// A session with a live subscriber is never idle.
func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	if s.hub.len() > 0 {
		return false
	}
	return now.Sub(time.Unix(0, s.lastSeen.Load())) >= ttl
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
