//go:build gocv

package detection

import (
	"image"
	"image/color"
	"sort"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/menta2k/ship-detector/pkg/horizon"
	"github.com/menta2k/ship-detector/pkg/morphology"
	"github.com/menta2k/ship-detector/pkg/regions"
	"github.com/menta2k/ship-detector/pkg/types"
)

// noEdge fills every channel; a single-channel Mat takes the first (blue) one
var noEdge = color.RGBA{R: horizon.NoEdge, G: horizon.NoEdge, B: horizon.NoEdge, A: 255}

// OpenCVBackend runs the stages through OpenCV
type OpenCVBackend struct{}

// NewOpenCVBackend returns the OpenCV backend
func NewOpenCVBackend() (Backend, error) {
	return OpenCVBackend{}, nil
}

func (OpenCVBackend) Name() string { return "opencv" }

func (OpenCVBackend) Suppress(edgeMap *image.Gray, line horizon.Line) (*image.Gray, error) {
	if err := types.CheckImage(edgeMap, ""); err != nil {
		return nil, err
	}
	if err := line.Validate(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageGrayToMatGray(edgeMap)
	if err != nil {
		return nil, errors.Wrap(err, "opencv: convert edge map")
	}
	defer mat.Close()

	if err := gocv.Line(&mat, line.Start.Pt(), line.End.Pt(), noEdge, line.Thickness); err != nil {
		return nil, errors.Wrap(err, "opencv: draw horizon")
	}
	return toGray(mat)
}

func (OpenCVBackend) Clean(edgeMap *image.Gray, opts morphology.Options) (*image.Gray, error) {
	if err := types.CheckImage(edgeMap, ""); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageGrayToMatGray(edgeMap)
	if err != nil {
		return nil, errors.Wrap(err, "opencv: convert edge map")
	}
	defer mat.Close()

	erodeKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(opts.ErodeKernel.Width, opts.ErodeKernel.Height))
	defer erodeKernel.Close()
	dilateKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(opts.DilateKernel.Width, opts.DilateKernel.Height))
	defer dilateKernel.Close()

	for i := 0; i < opts.ErodeIterations; i++ {
		if err := gocv.Erode(mat, &mat, erodeKernel); err != nil {
			return nil, errors.Wrap(err, "opencv: erode")
		}
	}
	for i := 0; i < opts.DilateIterations; i++ {
		if err := gocv.Dilate(mat, &mat, dilateKernel); err != nil {
			return nil, errors.Wrap(err, "opencv: dilate")
		}
	}
	return toGray(mat)
}

func (OpenCVBackend) Extract(edgeMap *image.Gray, extractor *regions.Extractor) (*regions.Result, error) {
	if err := types.CheckImage(edgeMap, ""); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageGrayToMatGray(edgeMap)
	if err != nil {
		return nil, errors.Wrap(err, "opencv: convert edge map")
	}
	defer mat.Close()

	bin := gocv.NewMat()
	defer bin.Close()
	// THRESH_BINARY keeps v > t; native keeps v >= t
	gocv.Threshold(mat, &bin, float32(extractor.Options().Threshold)-1, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type found struct {
		box   types.BoundingBox
		first image.Point
	}
	all := make([]found, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		all = append(all, found{
			box:   types.FromRect(gocv.BoundingRect(c)),
			first: topLeft(c.ToPoints()),
		})
	}
	// restore row-major discovery order
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].first.Y != all[j].first.Y {
			return all[i].first.Y < all[j].first.Y
		}
		return all[i].first.X < all[j].first.X
	})

	raw := make([]types.BoundingBox, len(all))
	for i, f := range all {
		raw[i] = f.box
	}
	b := edgeMap.Bounds()
	return extractor.Finish(raw, image.Rect(0, 0, b.Dx(), b.Dy())), nil
}

func topLeft(pts []image.Point) image.Point {
	best := pts[0]
	for _, p := range pts[1:] {
		if p.Y < best.Y || (p.Y == best.Y && p.X < best.X) {
			best = p
		}
	}
	return best
}

func toGray(mat gocv.Mat) (*image.Gray, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "opencv: convert result")
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		return nil, errors.Errorf("opencv: unexpected result type %T", img)
	}
	return gray, nil
}
