// Package raster paints overlay scenes onto transparent RGBA images.
package raster

import (
	"errors"
	"image"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/suniash/yolo-playground/internal/overlay"
)

// ErrEmptySurface is returned when a scene has no paintable area.
var ErrEmptySurface = errors.New("raster: empty surface")

// Rasterize paints sc onto a transparent image the size of its surface, in
// paint order: trail, boxes, labels. Shapes outside the surface are clipped.
func Rasterize(sc overlay.Scene) *image.RGBA {
	w, h := sc.Surface.Width, sc.Surface.Height
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	p := painter{dst: dst, mask: image.NewAlpha(dst.Bounds()), z: vector.NewRasterizer(0, 0)}
	if sc.Trail != nil {
		p.polyline(*sc.Trail)
	}
	for _, b := range sc.Boxes {
		p.strokeRect(b)
	}
	for _, t := range sc.Labels {
		p.text(t)
	}
	return dst
}

// EncodePNG rasterizes sc and writes it to w as PNG.
func EncodePNG(w io.Writer, sc overlay.Scene) error {
	if sc.Surface.Empty() {
		return ErrEmptySurface
	}
	return png.Encode(w, Rasterize(sc))
}

// painter shares one coverage mask across shapes. Each shape clears, draws
// and fills only its own clipped bounding rectangle r.
type painter struct {
	dst  *image.RGBA
	mask *image.Alpha
	z    *vector.Rasterizer
	r    image.Rectangle
}

// begin prepares the mask and rasterizer for a shape covering
// [x0,x1]x[y0,y1]. It reports false when nothing of it is on the canvas.
func (p *painter) begin(x0, y0, x1, y1 float64) bool {
	b := p.dst.Bounds()
	p.r = image.Rect(
		int(math.Floor(clamp(x0, -1, float64(b.Max.X+1)))),
		int(math.Floor(clamp(y0, -1, float64(b.Max.Y+1)))),
		int(math.Ceil(clamp(x1, -1, float64(b.Max.X+1)))),
		int(math.Ceil(clamp(y1, -1, float64(b.Max.Y+1)))),
	).Intersect(b)
	if p.r.Empty() {
		return false
	}
	draw.Draw(p.mask, p.r, image.Transparent, image.Point{}, draw.Src)
	return true
}

// reset clears the rasterizer to the current shape's rectangle.
func (p *painter) reset(op draw.Op) {
	p.z.Reset(p.r.Dx(), p.r.Dy())
	p.z.DrawOp = op
}

func (p *painter) moveTo(x, y float64) {
	p.z.MoveTo(f32(x-float64(p.r.Min.X)), f32(y-float64(p.r.Min.Y)))
}

func (p *painter) lineTo(x, y float64) {
	p.z.LineTo(f32(x-float64(p.r.Min.X)), f32(y-float64(p.r.Min.Y)))
}

func (p *painter) cover() {
	p.z.Draw(p.mask, p.r, image.Opaque, image.Point{})
}

func (p *painter) fill(c overlay.Color) {
	draw.DrawMask(p.dst, p.r, image.NewUniform(c.NRGBA()), image.Point{}, p.mask, p.r.Min, draw.Over)
}

// polyline strokes each segment as a quad into the coverage mask, so
// overlapping joints of a translucent stroke are not painted twice.
func (p *painter) polyline(pl overlay.Polyline) {
	if len(pl.Points) < 2 {
		return
	}
	half := pl.LineWidth / 2
	x0, y0 := math.Inf(1), math.Inf(1)
	x1, y1 := math.Inf(-1), math.Inf(-1)
	for _, pt := range pl.Points {
		x0, y0 = math.Min(x0, pt.X), math.Min(y0, pt.Y)
		x1, y1 = math.Max(x1, pt.X), math.Max(y1, pt.Y)
	}
	if !p.begin(x0-half, y0-half, x1+half, y1+half) {
		return
	}
	for i := 1; i < len(pl.Points); i++ {
		a, c := pl.Points[i-1], pl.Points[i]
		dx, dy := c.X-a.X, c.Y-a.Y
		n := math.Hypot(dx, dy)
		if n == 0 {
			continue
		}
		nx, ny := -dy/n*half, dx/n*half

		p.reset(draw.Over)
		p.moveTo(a.X+nx, a.Y+ny)
		p.lineTo(c.X+nx, c.Y+ny)
		p.lineTo(c.X-nx, c.Y-ny)
		p.lineTo(a.X-nx, a.Y-ny)
		p.z.ClosePath()
		p.cover()
	}
	p.fill(pl.Color)
}

// strokeRect strokes a rectangle with the line centered on its edges. The
// inner contour winds the other way so its area cancels out.
func (p *painter) strokeRect(s overlay.Shape) {
	half := s.LineWidth / 2
	x0, y0 := s.X-half, s.Y-half
	x1, y1 := s.X+s.W+half, s.Y+s.H+half
	if !p.begin(x0, y0, x1, y1) {
		return
	}

	p.reset(draw.Src)
	p.moveTo(x0, y0)
	p.lineTo(x1, y0)
	p.lineTo(x1, y1)
	p.lineTo(x0, y1)
	p.z.ClosePath()

	ix0, iy0 := s.X+half, s.Y+half
	ix1, iy1 := s.X+s.W-half, s.Y+s.H-half
	if ix1 > ix0 && iy1 > iy0 {
		p.moveTo(ix0, iy0)
		p.lineTo(ix0, iy1)
		p.lineTo(ix1, iy1)
		p.lineTo(ix1, iy0)
		p.z.ClosePath()
	}
	p.cover()
	p.fill(s.Color)
}

func (p *painter) text(t overlay.Text) {
	d := &font.Drawer{
		Dst:  p.dst,
		Src:  image.NewUniform(t.Color.NRGBA()),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(math.Round(t.X)), int(math.Round(t.Y))),
	}
	d.DrawString(t.Text)
}

func f32(v float64) float32 { return float32(v) }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
