package overlay

import (
	"sync"
	"time"

	"github.com/suniash/yolo-playground/internal/playback"
	"github.com/suniash/yolo-playground/internal/tracks"
)

// Sink receives every scene the Scheduler paints.
type Sink func(Scene)

// DatasetSource returns the dataset currently installed, or nil.
type DatasetSource func() *tracks.Dataset

// RenderObserver is notified of each render and how long it took.
type RenderObserver interface {
	ObserveRender(d time.Duration)
}

type inputKind int

const (
	setTime inputKind = iota
	setSurface
	setFilters
	invalidate
)

type input struct {
	kind    inputKind
	t       float64
	surface Surface
	filters Filters
}

// Scheduler coalesces redraw triggers into renders. Each trigger marks the
// overlay dirty; the loop applies every queued input, then renders once with
// the latest time, surface, filters and dataset. A render never blocks a
// trigger for longer than it takes to enqueue it.
type Scheduler struct {
	renderer Renderer
	dataset  DatasetSource
	sink     Sink
	observer RenderObserver

	inputs chan input
	stop   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// Owned by the loop goroutine.
	t       float64
	surface Surface
	filters Filters
}

// NewScheduler returns a stopped Scheduler. observer may be nil.
func NewScheduler(r Renderer, dataset DatasetSource, filters Filters, sink Sink, observer RenderObserver) *Scheduler {
	return &Scheduler{
		renderer: r,
		dataset:  dataset,
		sink:     sink,
		observer: observer,
		inputs:   make(chan input, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		filters:  filters,
	}
}

// Start launches the render loop. Calling it more than once has no effect.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() { go s.run() })
}

// Stop ends the render loop and waits for it. Once Stop returns the sink is
// never called again. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.startOnce.Do(func() { close(s.done) })
	})
	<-s.done
}

// SetTime marks the overlay dirty at playback time t.
func (s *Scheduler) SetTime(t float64) { s.post(input{kind: setTime, t: t}) }

// SetSurface marks the overlay dirty for a new surface size.
func (s *Scheduler) SetSurface(sf Surface) { s.post(input{kind: setSurface, surface: sf}) }

// SetFilters marks the overlay dirty for new visibility toggles.
func (s *Scheduler) SetFilters(f Filters) { s.post(input{kind: setFilters, filters: f}) }

// Invalidate marks the overlay dirty without changing any input, e.g. after a
// new dataset was installed.
func (s *Scheduler) Invalidate() { s.post(input{kind: invalidate}) }

// OnTick implements playback.Listener.
func (s *Scheduler) OnTick(t float64) { s.SetTime(t) }

// OnResize implements playback.Listener.
func (s *Scheduler) OnResize(sz playback.Size) {
	s.SetSurface(Surface{Width: sz.Width, Height: sz.Height})
}

func (s *Scheduler) post(in input) {
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.inputs <- in:
	case <-s.stop:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case in := <-s.inputs:
			s.apply(in)
		}

	drain:
		for {
			select {
			case in := <-s.inputs:
				s.apply(in)
			default:
				break drain
			}
		}

		select {
		case <-s.stop:
			return
		default:
		}
		s.render()
	}
}

func (s *Scheduler) apply(in input) {
	switch in.kind {
	case setTime:
		s.t = in.t
	case setSurface:
		s.surface = in.surface
	case setFilters:
		s.filters = in.filters
	}
}

func (s *Scheduler) render() {
	start := time.Now()
	scene := s.renderer.Render(s.t, s.dataset(), s.surface, s.filters)
	if s.observer != nil {
		s.observer.ObserveRender(time.Since(start))
	}
	s.sink(scene)
}
