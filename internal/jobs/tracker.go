package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultInterval is the wait between status polls and between stream reconnects.
const DefaultInterval = 2 * time.Second

// ErrNotFound is returned when the backend does not know the job.
// Unlike other fetch failures it is not retried.
var ErrNotFound = errors.New("job not found")

// StatusFetcher fetches the current snapshot of a job.
type StatusFetcher interface {
	GetJob(ctx context.Context, id string) (Snapshot, error)
}

// Subscriber delivers push updates to fn until ctx is done or the stream breaks.
// fn is called on the Subscribe goroutine.
type Subscriber interface {
	Subscribe(ctx context.Context, fn func(Update)) error
}

// Tracker follows a job until it reaches a terminal status.
//
// Track calls onSnapshot for every accepted observation and returns the
// terminal snapshot, which is also the last one passed to onSnapshot. It
// returns early with ctx.Err() on cancellation, and with ErrNotFound when the
// job does not exist. Timers and subscriptions are released before it returns.
type Tracker interface {
	Track(ctx context.Context, id string, onSnapshot func(Snapshot)) (Snapshot, error)
}

// PollObserver is notified of every status fetch outcome.
type PollObserver interface {
	ObservePoll(err error)
}

// watermark rejects observations that would move a job backwards.
type watermark struct {
	rank int
}

func (w *watermark) accept(s Snapshot) bool {
	r := s.Status.Rank()
	if r < w.rank {
		return false
	}
	w.rank = r
	return true
}

// Poller tracks a job by fetching its status every interval.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	log      *slog.Logger
	observer PollObserver
}

// NewPoller returns a polling Tracker. If interval <= 0, DefaultInterval is
// used. observer may be nil.
func NewPoller(fetcher StatusFetcher, interval time.Duration, log *slog.Logger, observer PollObserver) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{fetcher: fetcher, interval: interval, log: log, observer: observer}
}

// Track implements Tracker.
func (p *Poller) Track(ctx context.Context, id string, onSnapshot func(Snapshot)) (Snapshot, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	var w watermark
	for {
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-timer.C:
		}

		s, err := p.fetcher.GetJob(ctx, id)
		if p.observer != nil {
			p.observer.ObservePoll(err)
		}
		switch {
		case err == nil:
			if w.accept(s) {
				onSnapshot(s)
				if s.Status.IsTerminal() {
					return s, nil
				}
			}
		case errors.Is(err, ErrNotFound):
			return Snapshot{}, err
		case ctx.Err() != nil:
			return Snapshot{}, ctx.Err()
		default:
			p.log.Warn("job status poll failed",
				slog.String("job_id", id),
				slog.String("error", err.Error()))
		}

		timer.Reset(p.interval)
	}
}

// StreamTracker tracks a job through the push channel. It seeds each
// subscription with one status fetch, since the job may already be terminal,
// and re-subscribes after retry when the stream breaks.
type StreamTracker struct {
	fetcher  StatusFetcher
	sub      Subscriber
	retry    time.Duration
	log      *slog.Logger
	observer PollObserver
}

// NewStreamTracker returns a push-based Tracker. If retry <= 0,
// DefaultInterval is used. observer sees the seeding fetches and may be nil.
func NewStreamTracker(fetcher StatusFetcher, sub Subscriber, retry time.Duration, log *slog.Logger, observer PollObserver) *StreamTracker {
	if retry <= 0 {
		retry = DefaultInterval
	}
	return &StreamTracker{fetcher: fetcher, sub: sub, retry: retry, log: log, observer: observer}
}

// Track implements Tracker.
func (t *StreamTracker) Track(ctx context.Context, id string, onSnapshot func(Snapshot)) (Snapshot, error) {
	var w watermark
	for {
		s, err := t.fetcher.GetJob(ctx, id)
		if t.observer != nil {
			t.observer.ObservePoll(err)
		}
		switch {
		case err == nil:
			if w.accept(s) {
				onSnapshot(s)
				if s.Status.IsTerminal() {
					return s, nil
				}
			}
		case errors.Is(err, ErrNotFound):
			return Snapshot{}, err
		case ctx.Err() != nil:
			return Snapshot{}, ctx.Err()
		default:
			t.log.Warn("job status fetch failed", slog.String("job_id", id), slog.String("error", err.Error()))
		}

		final, ok, err := t.subscribeOnce(ctx, id, &w, onSnapshot)
		if ok {
			return final, nil
		}
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		t.log.Warn("job update stream interrupted",
			slog.String("job_id", id),
			slog.Any("error", err),
			slog.Duration("retry_in", t.retry))

		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-time.After(t.retry):
		}
	}
}

func (t *StreamTracker) subscribeOnce(parent context.Context, id string, w *watermark, onSnapshot func(Snapshot)) (Snapshot, bool, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var final Snapshot
	var done bool
	err := t.sub.Subscribe(ctx, func(u Update) {
		if done {
			return
		}
		s, ok := u.Find(id)
		if !ok || !w.accept(s) {
			return
		}
		onSnapshot(s)
		if s.Status.IsTerminal() {
			final, done = s, true
			cancel()
		}
	})
	return final, done, err
}
