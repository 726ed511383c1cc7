package types

import (
	"fmt"
	"image"
	"reflect"

	"github.com/pkg/errors"
)

// Point is a pixel coordinate in image space
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Pt converts the point to an image.Point
func (p Point) Pt() image.Point {
	return image.Pt(p.X, p.Y)
}

// BoundingBox is an axis-aligned pixel rectangle anchored at its top-left corner
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the box as a half-open image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Area returns the number of pixels covered by the box
func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// Empty reports whether the box covers no pixels
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Expand grows the box by margin on every side and clamps it to bounds
func (b BoundingBox) Expand(margin int, bounds image.Rectangle) BoundingBox {
	r := image.Rect(b.X-margin, b.Y-margin, b.X+b.Width+margin, b.Y+b.Height+margin).Intersect(bounds)
	return FromRect(r)
}

// FromRect converts an image.Rectangle into a BoundingBox
func FromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", b.X, b.Y, b.Width, b.Height)
}

// KernelSize is the width and height of a rectangular structuring element
type KernelSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive
func (k KernelSize) Valid() bool {
	return k.Width > 0 && k.Height > 0
}

// ErrEmptyImage is the cause reported for nil or zero-area images
var ErrEmptyImage = errors.New("image is nil or empty")

// ImageLoadError reports a source or intermediate image that could not be obtained
type ImageLoadError struct {
	Path string
	Err  error
}

func (e *ImageLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("image load failed: %v", e.Err)
	}
	return fmt.Sprintf("image load failed for %s: %v", e.Path, e.Err)
}

func (e *ImageLoadError) Unwrap() error {
	return e.Err
}

// CheckImage returns an *ImageLoadError when img is nil or has no pixels
func CheckImage(img image.Image, path string) error {
	if isNil(img) || img.Bounds().Empty() {
		return &ImageLoadError{Path: path, Err: ErrEmptyImage}
	}
	return nil
}

func isNil(img image.Image) bool {
	if img == nil {
		return true
	}
	v := reflect.ValueOf(img)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
