// Package horizon paints a known horizon segment out of an edge map before
// morphology, so the horizon does not register as one frame-wide region.
package horizon

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"github.com/menta2k/ship-detector/pkg/types"
)

// NoEdge is the edge-map intensity meaning "no edge at this pixel"
const NoEdge = 255

// ErrInvalidThickness is returned for a stroke thinner than one pixel
var ErrInvalidThickness = errors.New("horizon: thickness must be at least 1")

// Line describes the horizon segment to suppress
type Line struct {
	Start     types.Point `json:"start"`
	End       types.Point `json:"end"`
	Thickness int         `json:"thickness"`
}

// Validate checks the line parameters
func (l Line) Validate() error {
	if l.Thickness < 1 {
		return errors.Wrapf(ErrInvalidThickness, "got %d", l.Thickness)
	}
	return nil
}

// Suppress returns a copy of edgeMap with the line painted as NoEdge.
// Endpoints may lie outside the image: the segment keeps its true slope and
// only pixels inside the image are written.
func Suppress(edgeMap *image.Gray, line Line) (*image.Gray, error) {
	if err := types.CheckImage(edgeMap, ""); err != nil {
		return nil, err
	}
	if err := line.Validate(); err != nil {
		return nil, err
	}

	out := cloneGray(edgeMap)
	b := out.Bounds()
	w, h := b.Dx(), b.Dy()

	ax, ay := float64(line.Start.X), float64(line.Start.Y)
	bx, by := float64(line.End.X), float64(line.End.Y)
	radius := float64(line.Thickness) / 2

	// scan window: the segment's bounding box grown by the stroke radius
	pad := int(math.Ceil(radius))
	x0 := clampInt(minInt(line.Start.X, line.End.X)-pad, 0, w)
	x1 := clampInt(maxInt(line.Start.X, line.End.X)+pad+1, 0, w)
	y0 := clampInt(minInt(line.Start.Y, line.End.Y)-pad, 0, h)
	y1 := clampInt(maxInt(line.Start.Y, line.End.Y)+pad+1, 0, h)

	for y := y0; y < y1; y++ {
		row := out.PixOffset(b.Min.X, b.Min.Y+y)
		for x := x0; x < x1; x++ {
			if distToSegment(float64(x), float64(y), ax, ay, bx, by) <= radius {
				out.Pix[row+x] = NoEdge
			}
		}
	}

	return out, nil
}

// distToSegment is the Euclidean distance from (px,py) to segment a-b
func distToSegment(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}

func cloneGray(src *image.Gray) *image.Gray {
	dst := image.NewGray(src.Rect)
	for y := src.Rect.Min.Y; y < src.Rect.Max.Y; y++ {
		copy(dst.Pix[dst.PixOffset(src.Rect.Min.X, y):dst.PixOffset(src.Rect.Max.X, y)],
			src.Pix[src.PixOffset(src.Rect.Min.X, y):src.PixOffset(src.Rect.Max.X, y)])
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
