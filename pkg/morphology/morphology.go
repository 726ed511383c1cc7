// Package morphology implements grayscale erosion and dilation with
// rectangular structuring elements.
//
// Erosion is a moving minimum and dilation a moving maximum over the kernel
// window. The window is anchored at the kernel centre (width/2, height/2) and
// pixels outside the image count as background (0) for both operations.
// A rectangle is separable, so each iteration runs a row pass followed by a
// column pass.
package morphology

import (
	"image"

	"github.com/pkg/errors"

	"github.com/menta2k/ship-detector/pkg/types"
)

// ErrInvalidKernel is returned for non-positive kernels or negative iteration counts
var ErrInvalidKernel = errors.New("morphology: invalid kernel or iteration count")

// Options configures the erode-then-dilate cleanup
type Options struct {
	ErodeKernel      types.KernelSize `json:"erode_kernel"`
	ErodeIterations  int              `json:"erode_iterations"`
	DilateKernel     types.KernelSize `json:"dilate_kernel"`
	DilateIterations int              `json:"dilate_iterations"`
}

// DefaultOptions returns the stock cleanup: 3x3 erosion twice, 4x4 dilation four times
func DefaultOptions() Options {
	return Options{
		ErodeKernel:      types.KernelSize{Width: 3, Height: 3},
		ErodeIterations:  2,
		DilateKernel:     types.KernelSize{Width: 4, Height: 4},
		DilateIterations: 4,
	}
}

// Validate checks kernels and iteration counts
func (o Options) Validate() error {
	if err := validate(o.ErodeKernel, o.ErodeIterations); err != nil {
		return errors.WithMessage(err, "erode")
	}
	if err := validate(o.DilateKernel, o.DilateIterations); err != nil {
		return errors.WithMessage(err, "dilate")
	}
	return nil
}

// Clean erodes then dilates. The order is fixed; an opening removes speckle
// before gaps between surviving fragments are closed.
func Clean(edgeMap *image.Gray, opts Options) (*image.Gray, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	eroded, err := Erode(edgeMap, opts.ErodeKernel, opts.ErodeIterations)
	if err != nil {
		return nil, err
	}
	return Dilate(eroded, opts.DilateKernel, opts.DilateIterations)
}

// Erode applies a rectangular minimum filter iterations times
func Erode(src *image.Gray, kernel types.KernelSize, iterations int) (*image.Gray, error) {
	return apply(src, kernel, iterations, minOp)
}

// Dilate applies a rectangular maximum filter iterations times
func Dilate(src *image.Gray, kernel types.KernelSize, iterations int) (*image.Gray, error) {
	return apply(src, kernel, iterations, maxOp)
}

type reduceOp func(a, b uint8) uint8

func minOp(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

func maxOp(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

func validate(k types.KernelSize, iterations int) error {
	if !k.Valid() {
		return errors.Wrapf(ErrInvalidKernel, "kernel %dx%d", k.Width, k.Height)
	}
	if iterations < 0 {
		return errors.Wrapf(ErrInvalidKernel, "iterations %d", iterations)
	}
	return nil
}

func apply(src *image.Gray, kernel types.KernelSize, iterations int, op reduceOp) (*image.Gray, error) {
	if err := types.CheckImage(src, ""); err != nil {
		return nil, err
	}
	if err := validate(kernel, iterations); err != nil {
		return nil, err
	}

	w, h := src.Rect.Dx(), src.Rect.Dy()
	cur := packed(src)
	tmp := make([]uint8, len(cur))
	for i := 0; i < iterations; i++ {
		filterRows(cur, tmp, w, h, kernel.Width, op)
		filterCols(tmp, cur, w, h, kernel.Height, op)
	}

	return &image.Gray{Pix: cur, Stride: w, Rect: src.Rect}, nil
}

// filterRows reduces a horizontal window of size k into dst
func filterRows(src, dst []uint8, w, h, k int, op reduceOp) {
	anchor := k / 2
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		out := dst[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			out[x] = window(row, x-anchor, k, 1, w, op)
		}
	}
}

// filterCols reduces a vertical window of size k into dst
func filterCols(src, dst []uint8, w, h, k int, op reduceOp) {
	anchor := k / 2
	for x := 0; x < w; x++ {
		col := src[x:]
		for y := 0; y < h; y++ {
			dst[y*w+x] = window(col, y-anchor, k, w, h, op)
		}
	}
}

// window folds op over k samples starting at index start with the given
// stride. Samples outside [0,n) are 0.
func window(line []uint8, start, k, stride, n int, op reduceOp) uint8 {
	var acc uint8
	first := true
	for i := start; i < start+k; i++ {
		v := uint8(0)
		if i >= 0 && i < n {
			v = line[i*stride]
		}
		if first {
			acc = v
			first = false
			continue
		}
		acc = op(acc, v)
	}
	return acc
}

// packed copies src into a tightly packed buffer indexed from (0,0)
func packed(src *image.Gray) []uint8 {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	buf := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		off := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		copy(buf[y*w:(y+1)*w], src.Pix[off:off+w])
	}
	return buf
}
