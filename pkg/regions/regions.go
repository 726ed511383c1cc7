// Package regions turns a cleaned edge map into ship candidate boxes.
//
// The map is binarised, split into 8-connected bright components, and each
// component's minimal bounding box runs through a filter chain: boxes smaller
// than the configured minimum are dropped, survivors are expanded by a margin
// and clamped to the image. Boxes are returned in discovery order of a
// row-major scan (y outer, x inner).
package regions

import (
	"image"

	"github.com/anthonynsimon/bild/segment"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/menta2k/ship-detector/pkg/types"
)

// DefaultThreshold is the binarisation level for foreground pixels
const DefaultThreshold = 128

// ErrInvalidOptions is returned for negative sizes or a zero threshold
var ErrInvalidOptions = errors.New("regions: invalid options")

// Options configures region extraction
type Options struct {
	MinWidth  int   `json:"min_width"`
	MinHeight int   `json:"min_height"`
	Expansion int   `json:"expansion"`
	Threshold uint8 `json:"threshold"`
}

// DefaultOptions returns the stock 32x32 minimum with a 15 pixel margin
func DefaultOptions() Options {
	return Options{
		MinWidth:  32,
		MinHeight: 32,
		Expansion: 15,
		Threshold: DefaultThreshold,
	}
}

// Validate checks the option ranges
func (o Options) Validate() error {
	if o.MinWidth < 0 || o.MinHeight < 0 {
		return errors.Wrapf(ErrInvalidOptions, "minimum size %dx%d", o.MinWidth, o.MinHeight)
	}
	if o.Expansion < 0 {
		return errors.Wrapf(ErrInvalidOptions, "expansion %d", o.Expansion)
	}
	if o.Threshold == 0 {
		return errors.Wrap(ErrInvalidOptions, "threshold must be at least 1")
	}
	return nil
}

// Filter transforms a box sequence for an image of the given bounds
type Filter func(boxes []types.BoundingBox, bounds image.Rectangle) []types.BoundingBox

// MinSizeFilter drops boxes narrower than minWidth or shorter than minHeight
func MinSizeFilter(minWidth, minHeight int) Filter {
	return func(boxes []types.BoundingBox, _ image.Rectangle) []types.BoundingBox {
		return lo.Filter(boxes, func(b types.BoundingBox, _ int) bool {
			return b.Width >= minWidth && b.Height >= minHeight
		})
	}
}

// ExpandFilter grows every box by margin and clamps it to the image
func ExpandFilter(margin int) Filter {
	return func(boxes []types.BoundingBox, bounds image.Rectangle) []types.BoundingBox {
		expanded := lo.Map(boxes, func(b types.BoundingBox, _ int) types.BoundingBox {
			return b.Expand(margin, bounds)
		})
		return lo.Reject(expanded, func(b types.BoundingBox, _ int) bool {
			return b.Empty()
		})
	}
}

// Result holds the diagnostic mask and the surviving boxes
type Result struct {
	Mask  *image.Gray
	Boxes []types.BoundingBox
}

// Extractor finds connected bright regions in edge maps
type Extractor struct {
	opts    Options
	filters []Filter
}

// New creates an Extractor with default options
func New() *Extractor {
	e, _ := NewWithOptions(DefaultOptions())
	return e
}

// NewWithOptions creates an Extractor after validating opts
func NewWithOptions(opts Options) (*Extractor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		opts: opts,
		filters: []Filter{
			MinSizeFilter(opts.MinWidth, opts.MinHeight),
			ExpandFilter(opts.Expansion),
		},
	}, nil
}

// Options returns the extractor's configuration
func (e *Extractor) Options() Options {
	return e.opts
}

// Extract returns the mask and boxes for edgeMap. Coordinates are relative to
// the map's top-left corner. A map with no surviving region yields an empty
// box slice and a blank mask.
func (e *Extractor) Extract(edgeMap *image.Gray) (*Result, error) {
	if err := types.CheckImage(edgeMap, ""); err != nil {
		return nil, err
	}

	w, h := edgeMap.Rect.Dx(), edgeMap.Rect.Dy()
	bin := segment.Threshold(atOrigin(edgeMap), e.opts.Threshold)

	return e.Finish(Components(bin), image.Rect(0, 0, w, h)), nil
}

// Finish runs raw component boxes through the filter chain and renders the mask
func (e *Extractor) Finish(raw []types.BoundingBox, bounds image.Rectangle) *Result {
	boxes := raw
	for _, f := range e.filters {
		boxes = f(boxes, bounds)
	}
	if boxes == nil {
		boxes = []types.BoundingBox{}
	}
	return &Result{Mask: RenderMask(boxes, bounds), Boxes: boxes}
}

// Components labels the 8-connected non-zero components of bin and returns
// their minimal bounding boxes in row-major discovery order.
func Components(bin *image.Gray) []types.BoundingBox {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	visited := make([]bool, w*h)
	fg := func(x, y int) bool {
		return bin.Pix[bin.PixOffset(b.Min.X+x, b.Min.Y+y)] != 0
	}

	var boxes []types.BoundingBox
	queue := make([]int, 0, 64)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if visited[idx] || !fg(x, y) {
				continue
			}

			minX, minY, maxX, maxY := x, y, x, y
			visited[idx] = true
			queue = append(queue[:0], idx)

			for len(queue) > 0 {
				cur := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				cx, cy := cur%w, cur/w

				if cx < minX {
					minX = cx
				}
				if cx > maxX {
					maxX = cx
				}
				if cy < minY {
					minY = cy
				}
				if cy > maxY {
					maxY = cy
				}

				for dy := -1; dy <= 1; dy++ {
					ny := cy + dy
					if ny < 0 || ny >= h {
						continue
					}
					for dx := -1; dx <= 1; dx++ {
						nx := cx + dx
						if (dx == 0 && dy == 0) || nx < 0 || nx >= w {
							continue
						}
						n := ny*w + nx
						if visited[n] || !fg(nx, ny) {
							continue
						}
						visited[n] = true
						queue = append(queue, n)
					}
				}
			}

			boxes = append(boxes, types.BoundingBox{
				X:      minX,
				Y:      minY,
				Width:  maxX - minX + 1,
				Height: maxY - minY + 1,
			})
		}
	}

	return boxes
}

// RenderMask draws every box filled with 255 onto a blank map of the given bounds
func RenderMask(boxes []types.BoundingBox, bounds image.Rectangle) *image.Gray {
	mask := image.NewGray(bounds)
	for _, box := range boxes {
		r := box.Rect().Intersect(bounds)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			row := mask.PixOffset(r.Min.X, y)
			for i := 0; i < r.Dx(); i++ {
				mask.Pix[row+i] = 255
			}
		}
	}
	return mask
}

// atOrigin returns img or a copy of it translated so Bounds().Min is (0,0)
func atOrigin(img *image.Gray) *image.Gray {
	if img.Rect.Min == (image.Point{}) {
		return img
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], img.Pix[off:off+w])
	}
	return dst
}
