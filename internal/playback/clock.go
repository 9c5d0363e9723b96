package playback

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// EventKind is a media element or rendering surface signal.
type EventKind string

const (
	// TimeUpdate is continuous progression of playback.
	TimeUpdate EventKind = "timeupdate"
	// Play is resumption of playback.
	Play EventKind = "play"
	// Seeked is a discontinuous jump.
	Seeked EventKind = "seeked"
	// Resize is a size change of the rendering surface.
	Resize EventKind = "resize"
)

// ErrInvalidEvent is returned by Post for events that cannot be applied.
var ErrInvalidEvent = errors.New("invalid playback event")

// ParseKind validates a kind received from a client.
func ParseKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case TimeUpdate, Play, Seeked, Resize:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, s)
}

// Event is one signal from the media element or its container.
// Time is used by time events, Width and Height by Resize.
type Event struct {
	Kind   EventKind `json:"type"`
	Time   float64   `json:"time"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}

// Size is the displayed size of the rendering surface in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Listener receives re-render triggers. Calls happen on the goroutine that
// posted the event with the clock locked; implementations must return quickly
// and must not call back into the Clock.
type Listener interface {
	OnTick(t float64)
	OnResize(s Size)
}

// Clock normalizes media signals into a current playback time and a surface
// size, and notifies attached listeners. It keeps no record of what was drawn.
type Clock struct {
	mu        sync.Mutex
	now       float64
	size      Size
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// NewClock returns a Clock at time zero with an empty surface.
func NewClock() *Clock {
	return &Clock{listeners: make(map[int]Listener)}
}

// Attach registers l and returns its detach function. Detach is idempotent
// and safe to call after Close. Attaching to a closed clock is a no-op.
func (c *Clock) Attach(l Listener) (detach func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}

	id := c.nextID
	c.nextID++
	c.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Post applies ev and notifies listeners. After Close it does nothing.
func (c *Clock) Post(ev Event) error {
	switch ev.Kind {
	case TimeUpdate, Play, Seeked:
		if math.IsNaN(ev.Time) || math.IsInf(ev.Time, 0) || ev.Time < 0 {
			return fmt.Errorf("%w: time %v", ErrInvalidEvent, ev.Time)
		}
	case Resize:
		if ev.Width < 0 || ev.Height < 0 {
			return fmt.Errorf("%w: size %dx%d", ErrInvalidEvent, ev.Width, ev.Height)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}

	// Notified under the lock: once detach or Close returns, no callback runs.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	if ev.Kind == Resize {
		c.size = Size{Width: ev.Width, Height: ev.Height}
		for _, l := range c.listeners {
			l.OnResize(c.size)
		}
		return nil
	}

	c.now = ev.Time
	for _, l := range c.listeners {
		l.OnTick(c.now)
	}
	return nil
}

// Now returns the last observed playback time in seconds.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Size returns the last observed surface size.
func (c *Clock) Size() Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Close detaches all listeners. It is idempotent.
func (c *Clock) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	clear(c.listeners)
}
