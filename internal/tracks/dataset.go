package tracks

import (
	"errors"
	"fmt"
	"math"
)

// Label classifies a tracked object. It drives both filtering and styling.
type Label string

const (
	LabelPlayer Label = "player"
	LabelBall   Label = "ball"
)

// Team is the visual team of a player. Objects without a team render as TeamA.
type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

// ErrInvalidMeta is returned when dataset metadata cannot describe a frame sequence.
var ErrInvalidMeta = errors.New("invalid track metadata")

// Box is an axis-aligned bounding box in source pixel space, top-left origin.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the center point of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Object is one tracked entity within a frame.
// Confidence is carried but never used to gate rendering.
type Object struct {
	ID         string  `json:"id"`
	Label      Label   `json:"label"`
	Team       Team    `json:"team"`
	Box        Box     `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Frame is the set of objects sampled at one discrete time index.
type Frame struct {
	Index   int      `json:"frame"`
	Objects []Object `json:"objects"`
}

// Meta describes the sampling of a dataset.
type Meta struct {
	SamplingRateHz float64 `json:"fps"`
	FrameCount     int     `json:"frame_count"`
	SourceWidth    int     `json:"width"`
	SourceHeight   int     `json:"height"`
}

// Validate reports whether m can index a frame sequence.
func (m Meta) Validate() error {
	switch {
	case !(m.SamplingRateHz > 0) || math.IsInf(m.SamplingRateHz, 0):
		return fmt.Errorf("%w: sampling rate %v", ErrInvalidMeta, m.SamplingRateHz)
	case m.FrameCount < 0:
		return fmt.Errorf("%w: frame count %d", ErrInvalidMeta, m.FrameCount)
	case m.SourceWidth <= 0 || m.SourceHeight <= 0:
		return fmt.Errorf("%w: source size %dx%d", ErrInvalidMeta, m.SourceWidth, m.SourceHeight)
	}
	return nil
}

// Dataset is an immutable, frame-indexed annotation sequence.
// A rerun produces a new Dataset; an existing one is never mutated.
type Dataset struct {
	meta   Meta
	frames map[int]*Frame // only indexes with detections; size follows the input, not FrameCount
}

// New builds a Dataset from meta and frames. Frames are placed by their Index;
// frames whose index falls outside [0, FrameCount) or repeats an earlier index
// are dropped. The returned count reports how many frames were dropped.
func New(meta Meta, frames []Frame) (*Dataset, int, error) {
	if err := meta.Validate(); err != nil {
		return nil, 0, err
	}

	ds := &Dataset{meta: meta, frames: make(map[int]*Frame, len(frames))}
	dropped := 0
	for i := range frames {
		f := frames[i]
		if f.Index < 0 || f.Index >= meta.FrameCount {
			dropped++
			continue
		}
		if _, dup := ds.frames[f.Index]; dup {
			dropped++
			continue
		}
		objs := make([]Object, len(f.Objects))
		copy(objs, f.Objects)
		for j := range objs {
			if objs[j].Team == "" {
				objs[j].Team = TeamA
			}
		}
		ds.frames[f.Index] = &Frame{Index: f.Index, Objects: objs}
	}
	return ds, dropped, nil
}

// Meta returns the dataset metadata.
func (d *Dataset) Meta() Meta {
	return d.meta
}

// Len returns the number of frame slots (meta.FrameCount).
func (d *Dataset) Len() int {
	return d.meta.FrameCount
}

// Sampled returns how many frames carry detections.
func (d *Dataset) Sampled() int {
	return len(d.frames)
}

// FrameIndexAt resolves a playback time in seconds to the nearest past sample:
// clamp(floor(t * rate), 0, FrameCount-1). NaN and negative times map to 0.
func (d *Dataset) FrameIndexAt(t float64) int {
	if math.IsNaN(t) || t <= 0 || d.meta.FrameCount == 0 {
		return 0
	}
	last := d.meta.FrameCount - 1
	f := math.Floor(t * d.meta.SamplingRateHz)
	if f >= float64(last) {
		return last
	}
	return int(f)
}

// Frame returns the frame at index i. ok is false when the index is out of
// range or the frame carried no detections.
func (d *Dataset) Frame(i int) (Frame, bool) {
	f, ok := d.frames[i]
	if !ok {
		return Frame{}, false
	}
	objs := make([]Object, len(f.Objects))
	copy(objs, f.Objects)
	return Frame{Index: f.Index, Objects: objs}, true
}

// FirstObject returns the first object with the given label in frame i.
func (d *Dataset) FirstObject(i int, label Label) (Object, bool) {
	f, ok := d.frames[i]
	if !ok {
		return Object{}, false
	}
	for _, obj := range f.Objects {
		if obj.Label == label {
			return obj, true
		}
	}
	return Object{}, false
}
