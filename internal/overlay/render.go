package overlay

import (
	"math"

	"github.com/suniash/yolo-playground/internal/tracks"
)

// Surface is the pixel size of the canvas the overlay is painted on.
type Surface struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether nothing can be painted on s.
func (s Surface) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Filters are the user's visibility toggles. The renderer never changes them.
type Filters struct {
	ShowPlayers bool `json:"show_players"`
	ShowBall    bool `json:"show_ball"`
	ShowTrail   bool `json:"show_trail"`
}

// DefaultFilters shows players and ball, without the trail.
func DefaultFilters() Filters {
	return Filters{ShowPlayers: true, ShowBall: true}
}

// Visible reports whether objects with label l are drawn. Unknown labels never are.
func (f Filters) Visible(l tracks.Label) bool {
	return (l == tracks.LabelPlayer && f.ShowPlayers) || (l == tracks.LabelBall && f.ShowBall)
}

// Point is a trail vertex in surface pixels, tagged with its source frame.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Frame int     `json:"frame"`
}

// Polyline is a connected stroke through Points in order.
type Polyline struct {
	Points    []Point `json:"points"`
	Color     Color   `json:"color"`
	LineWidth float64 `json:"line_width"`
}

// Shape is a stroked rectangle in surface pixels.
type Shape struct {
	ObjectID  string       `json:"object_id"`
	Label     tracks.Label `json:"label"`
	Team      tracks.Team  `json:"team,omitempty"`
	X         float64      `json:"x"`
	Y         float64      `json:"y"`
	W         float64      `json:"w"`
	H         float64      `json:"h"`
	Color     Color        `json:"color"`
	LineWidth float64      `json:"line_width"`
}

// Text is a label anchored at its baseline-left point.
type Text struct {
	Text  string  `json:"text"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color Color   `json:"color"`
}

// Scene is the paint instructions for one render: the trail first, then boxes,
// then labels. Frame is -1 when no dataset was available.
type Scene struct {
	Frame   int       `json:"frame"`
	Time    float64   `json:"time"`
	Surface Surface   `json:"surface"`
	Trail   *Polyline `json:"trail,omitempty"`
	Boxes   []Shape   `json:"boxes"`
	Labels  []Text    `json:"labels"`
	Skipped int       `json:"skipped,omitempty"`
}

// Renderer resolves and paints scenes with a fixed Style.
type Renderer struct {
	Style Style
}

// NewRenderer returns a Renderer with the default style and the given trail
// window. If trailWindow <= 0, DefaultTrailWindow is used.
func NewRenderer(trailWindow int) Renderer {
	st := DefaultStyle()
	if trailWindow > 0 {
		st.TrailWindow = trailWindow
	}
	return Renderer{Style: st}
}

// Render paints the default style. See Renderer.Render.
func Render(t float64, ds *tracks.Dataset, surface Surface, filters Filters) Scene {
	return NewRenderer(DefaultTrailWindow).Render(t, ds, surface, filters)
}

// Render resolves the frame active at playback time t and returns its paint
// instructions scaled from source pixels to surface pixels. It is a pure
// function of its inputs and never blocks. A nil dataset, an empty surface or
// an absent frame yield a scene with nothing to paint. Objects with unusable
// geometry are skipped individually and counted in Scene.Skipped.
func (r Renderer) Render(t float64, ds *tracks.Dataset, surface Surface, filters Filters) Scene {
	sc := Scene{Frame: -1, Time: t, Surface: surface, Boxes: []Shape{}, Labels: []Text{}}
	if ds == nil {
		return sc
	}

	idx := ds.FrameIndexAt(t)
	sc.Frame = idx
	if surface.Empty() {
		return sc
	}
	frame, ok := ds.Frame(idx)
	if !ok {
		return sc
	}

	meta := ds.Meta()
	sx := float64(surface.Width) / float64(meta.SourceWidth)
	sy := float64(surface.Height) / float64(meta.SourceHeight)

	if filters.ShowTrail && filters.ShowBall {
		sc.Trail = r.trail(ds, idx, sx, sy)
	}

	for _, obj := range frame.Objects {
		if !filters.Visible(obj.Label) {
			continue
		}
		if !usable(obj.Box) {
			sc.Skipped++
			continue
		}
		col := r.Style.colorFor(obj)
		x, y := obj.Box.X*sx, obj.Box.Y*sy
		sc.Boxes = append(sc.Boxes, Shape{
			ObjectID:  obj.ID,
			Label:     obj.Label,
			Team:      teamOf(obj),
			X:         x,
			Y:         y,
			W:         obj.Box.W * sx,
			H:         obj.Box.H * sy,
			Color:     col,
			LineWidth: r.Style.lineWidthFor(obj),
		})
		sc.Labels = append(sc.Labels, Text{
			Text:  obj.ID,
			X:     x + r.Style.LabelOffsetX,
			Y:     y + r.Style.LabelOffsetY,
			Color: col,
		})
	}
	return sc
}

// trail walks back over the window ending at idx and connects the first ball
// of each frame in chronological order. Frames without a ball are skipped.
func (r Renderer) trail(ds *tracks.Dataset, idx int, sx, sy float64) *Polyline {
	start := idx - r.Style.TrailWindow
	if start < 0 {
		start = 0
	}

	points := make([]Point, 0, idx-start+1)
	for i := start; i <= idx; i++ {
		ball, ok := ds.FirstObject(i, tracks.LabelBall)
		if !ok || !usable(ball.Box) {
			continue
		}
		cx, cy := ball.Box.Center()
		points = append(points, Point{X: cx * sx, Y: cy * sy, Frame: i})
	}
	if len(points) < 2 {
		return nil
	}
	return &Polyline{Points: points, Color: r.Style.Trail, LineWidth: r.Style.TrailLineWidth}
}

func teamOf(obj tracks.Object) tracks.Team {
	if obj.Label == tracks.LabelBall {
		return ""
	}
	if obj.Team == tracks.TeamB {
		return tracks.TeamB
	}
	return tracks.TeamA
}

func usable(b tracks.Box) bool {
	for _, v := range [...]float64{b.X, b.Y, b.W, b.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.W >= 0 && b.H >= 0
}
