package jobs

import "sync"

// List is an ordered mapping of job snapshots keyed by job id.
// Unseen ids are prepended; seen ids are replaced in place.
// It is safe for concurrent use.
type List struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Snapshot
}

// NewList returns an empty List.
func NewList() *List {
	return &List{byID: make(map[string]Snapshot)}
}

// Upsert inserts s at the front if its id is new, otherwise replaces the
// existing entry without moving it.
func (l *List) Upsert(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[s.ID]; !exists {
		l.order = append([]string{s.ID}, l.order...)
	}
	l.byID[s.ID] = s
}

// Replace installs all as the full list, in the given order.
// Later duplicates of an id are ignored.
func (l *List) Replace(all []Snapshot) {
	order := make([]string, 0, len(all))
	byID := make(map[string]Snapshot, len(all))
	for _, s := range all {
		if _, dup := byID[s.ID]; dup {
			continue
		}
		order = append(order, s.ID)
		byID[s.ID] = s
	}

	l.mu.Lock()
	l.order = order
	l.byID = byID
	l.mu.Unlock()
}

// Apply merges an update received from the push channel.
func (l *List) Apply(u Update) {
	switch u.Kind {
	case UpdateList:
		l.Replace(u.List)
	case UpdateJob:
		l.Upsert(u.Job)
	}
}

// Get returns the snapshot for id.
func (l *List) Get(id string) (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.byID[id]
	return s, ok
}

// Snapshot returns a copy of the list in display order.
func (l *List) Snapshot() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Snapshot, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

// Len returns the number of jobs in the list.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}
