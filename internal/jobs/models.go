package jobs

import "time"

// Status is the backend-owned lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions can follow s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank orders statuses along the lifecycle. Unknown statuses rank lowest.
func (s Status) Rank() int {
	switch s {
	case StatusQueued:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// Snapshot is one observation of a job record. The client never writes it.
type Snapshot struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateKind distinguishes the two messages of the job update channel.
type UpdateKind string

const (
	// UpdateList carries the full job list.
	UpdateList UpdateKind = "list"
	// UpdateJob carries a single changed job.
	UpdateJob UpdateKind = "job"
)

// Update is one message received from the push channel.
type Update struct {
	Kind UpdateKind
	List []Snapshot
	Job  Snapshot
}

// Find returns the snapshot for id carried by u, if any.
func (u Update) Find(id string) (Snapshot, bool) {
	switch u.Kind {
	case UpdateJob:
		if u.Job.ID == id {
			return u.Job, true
		}
	case UpdateList:
		for _, s := range u.List {
			if s.ID == id {
				return s, true
			}
		}
	}
	return Snapshot{}, false
}
