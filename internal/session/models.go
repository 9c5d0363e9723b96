package session

import (
	"context"
	"errors"
	"time"

	"github.com/suniash/yolo-playground/internal/artifacts"
	"github.com/suniash/yolo-playground/internal/jobs"
	"github.com/suniash/yolo-playground/internal/overlay"
	"github.com/suniash/yolo-playground/internal/tracks"
)

// Phase is where a session is in its job's lifecycle.
type Phase string

const (
	// PhaseLoading: the job has not reached a terminal status yet.
	PhaseLoading Phase = "loading"
	// PhaseFetching: the job completed and its artifacts are being loaded.
	PhaseFetching Phase = "fetching"
	// PhaseReady: a dataset is installed and overlays render.
	PhaseReady Phase = "ready"
	// PhaseFailed: the job itself failed. Only a rerun can recover.
	PhaseFailed Phase = "failed"
	// PhaseError: tracking or artifact loading failed. Reload retries.
	PhaseError Phase = "error"
	// PhaseClosed: the session was torn down.
	PhaseClosed Phase = "closed"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrJobNotCompleted is returned when artifacts are requested for a job
	// that ended without completing.
	ErrJobNotCompleted = errors.New("job not completed")

	// ErrNotReady is returned when no artifact bundle is installed yet.
	ErrNotReady = errors.New("artifacts not loaded")

	// ErrReadOnly is returned for job changes requested through a share link.
	ErrReadOnly = errors.New("share sessions are read-only")

	// ErrSharesDisabled is returned by OpenShare when no share backend is set.
	ErrSharesDisabled = errors.New("share links disabled")

	// ErrSurfaceTooLarge is returned for a surface side above the limit.
	ErrSurfaceTooLarge = errors.New("surface too large")
)

// Backend is the part of the analytics backend a session talks to.
type Backend interface {
	jobs.StatusFetcher
	jobs.Lister
	artifacts.Fetcher
	Rerun(ctx context.Context, id string) (jobs.Snapshot, error)
}

// ShareBackend reads a job through its share link, keyed by share id.
type ShareBackend interface {
	jobs.StatusFetcher
	artifacts.Fetcher
}

// Observer records session activity. Metrics implements it.
type Observer interface {
	overlay.RenderObserver
	ObserveArtifactLoad(err error)
}

// State is a point-in-time view of a session, as served over HTTP.
// Viewers counts the sessions sharing the job pipeline.
type State struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	JobID       string          `json:"job_id,omitempty"`
	ShareID     string          `json:"share_id,omitempty"`
	Phase       Phase           `json:"phase"`
	Job         *jobs.Snapshot  `json:"job,omitempty"`
	Error       string          `json:"error,omitempty"`
	Meta        *tracks.Meta    `json:"meta,omitempty"`
	LoadedAt    *time.Time      `json:"loaded_at,omitempty"`
	Filters     overlay.Filters `json:"filters"`
	Time        float64         `json:"time"`
	Surface     overlay.Surface `json:"surface"`
	Subscribers int             `json:"subscribers"`
	Viewers     int             `json:"viewers"`
}
