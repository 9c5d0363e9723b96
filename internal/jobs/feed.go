package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Lister fetches the full job list.
type Lister interface {
	ListJobs(ctx context.Context) ([]Snapshot, error)
}

// Feed keeps a List current from the push channel: list messages replace it,
// job messages are upserted. Each (re)subscription is seeded from lister.
type Feed struct {
	lister Lister
	sub    Subscriber
	list   *List
	retry  time.Duration
	log    *slog.Logger
}

// NewFeed returns a Feed writing into list. If retry <= 0, DefaultInterval is used.
func NewFeed(lister Lister, sub Subscriber, list *List, retry time.Duration, log *slog.Logger) *Feed {
	if retry <= 0 {
		retry = DefaultInterval
	}
	return &Feed{lister: lister, sub: sub, list: list, retry: retry, log: log}
}

// List returns the list maintained by the feed.
func (f *Feed) List() *List {
	return f.list
}

// Run blocks until ctx is done, reconnecting after every stream failure.
func (f *Feed) Run(ctx context.Context) {
	for {
		if all, err := f.lister.ListJobs(ctx); err == nil {
			f.list.Replace(all)
		} else if ctx.Err() == nil {
			f.log.Warn("job list fetch failed", slog.String("error", err.Error()))
		}

		err := f.sub.Subscribe(ctx, f.list.Apply)
		if ctx.Err() != nil {
			return
		}
		f.log.Warn("job feed interrupted", slog.Any("error", err), slog.Duration("retry_in", f.retry))

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.retry):
		}
	}
}
