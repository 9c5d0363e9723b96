package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/suniash/yolo-playground/internal/tracks"
)

// Artifact names served by the backend for a completed job.
const (
	Tracks  = "tracks"
	Metrics = "metrics"
	Events  = "events"
)

var errInvalidJSON = errors.New("invalid JSON")

// Fetcher returns the raw JSON of one artifact of a job.
type Fetcher interface {
	FetchArtifact(ctx context.Context, jobID, name string) ([]byte, error)
}

// LoadError reports which artifact failed to load.
type LoadError struct {
	JobID    string
	Artifact string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s for job %s: %v", e.Artifact, e.JobID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Bundle is the complete artifact triple of a job. It is never mutated after
// Load returns it.
type Bundle struct {
	JobID    string
	Tracks   *tracks.Dataset
	Metrics  json.RawMessage
	Events   []json.RawMessage
	LoadedAt time.Time
}

// Loader fetches the artifacts of a completed job.
type Loader struct {
	fetcher Fetcher
	log     *slog.Logger
}

// NewLoader returns a Loader reading through fetcher.
func NewLoader(fetcher Fetcher, log *slog.Logger) *Loader {
	return &Loader{fetcher: fetcher, log: log}
}

// Load fetches tracks, metrics and events concurrently. It returns a Bundle
// only when all three succeed; the first failure cancels the remaining
// fetches and is returned as a *LoadError.
func (l *Loader) Load(ctx context.Context, jobID string) (*Bundle, error) {
	var (
		ds      *tracks.Dataset
		metrics json.RawMessage
		events  []json.RawMessage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := l.fetcher.FetchArtifact(gctx, jobID, Tracks)
		if err != nil {
			return &LoadError{JobID: jobID, Artifact: Tracks, Err: err}
		}
		d, _, err := tracks.Decode(bytes.NewReader(raw), l.log.With(slog.String("job_id", jobID)))
		if err != nil {
			return &LoadError{JobID: jobID, Artifact: Tracks, Err: err}
		}
		ds = d
		return nil
	})
	g.Go(func() error {
		raw, err := l.fetcher.FetchArtifact(gctx, jobID, Metrics)
		if err != nil {
			return &LoadError{JobID: jobID, Artifact: Metrics, Err: err}
		}
		if !json.Valid(raw) {
			return &LoadError{JobID: jobID, Artifact: Metrics, Err: errInvalidJSON}
		}
		metrics = json.RawMessage(raw)
		return nil
	})
	g.Go(func() error {
		raw, err := l.fetcher.FetchArtifact(gctx, jobID, Events)
		if err != nil {
			return &LoadError{JobID: jobID, Artifact: Events, Err: err}
		}
		ev, err := decodeEvents(raw)
		if err != nil {
			return &LoadError{JobID: jobID, Artifact: Events, Err: err}
		}
		events = ev
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.log.Info("artifacts loaded",
		slog.String("job_id", jobID),
		slog.Int("frames", ds.Len()),
		slog.Int("sampled_frames", ds.Sampled()),
		slog.Int("events", len(events)))

	return &Bundle{
		JobID:    jobID,
		Tracks:   ds,
		Metrics:  metrics,
		Events:   events,
		LoadedAt: time.Now().UTC(),
	}, nil
}

// decodeEvents extracts the events array; an absent or null field is empty.
func decodeEvents(raw []byte) ([]json.RawMessage, error) {
	var doc struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	if doc.Events == nil {
		return []json.RawMessage{}, nil
	}
	return doc.Events, nil
}
