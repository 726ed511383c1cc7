// Package cropper cuts detected ships out of the source frame as chips.
package cropper

import (
	"fmt"
	"image"
	"math"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/menta2k/ship-detector/internal/utils"
	"github.com/menta2k/ship-detector/pkg/processing"
	"github.com/menta2k/ship-detector/pkg/types"
)

// ChipCropper crops boxes out of a frame
type ChipCropper struct {
	processor *processing.Processor
	config    CropConfig
}

// CropConfig holds configuration for chip cropping
type CropConfig struct {
	// PaddingRatio grows each side by this fraction of the box size
	PaddingRatio float64
	// Aspect widens the shorter side to this ratio; zero keeps the box shape
	Aspect AspectRatio
	// MaxSide downsizes larger chips to fit; 0 disables resizing
	MaxSide int
}

// AspectRatio represents a chip aspect ratio
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Common aspect ratios
var (
	Original  = AspectRatio{0, 0, "original"}
	Square    = AspectRatio{1, 1, "square"}
	Landscape = AspectRatio{4, 3, "landscape"}
	Wide      = AspectRatio{16, 9, "wide"}
)

// CommonAspectRatios returns the supported chip shapes
func CommonAspectRatios() []AspectRatio {
	return []AspectRatio{Original, Square, Landscape, Wide}
}

// Ratio returns width/height, or 0 when unset
func (a AspectRatio) Ratio() float64 {
	if a.Width <= 0 || a.Height <= 0 {
		return 0
	}
	return float64(a.Width) / float64(a.Height)
}

// New creates a new ChipCropper with default configuration
func New() *ChipCropper {
	return NewWithConfig(CropConfig{
		PaddingRatio: 0,
		Aspect:       Original,
	})
}

// NewWithConfig creates a new ChipCropper with custom configuration
func NewWithConfig(config CropConfig) *ChipCropper {
	return &ChipCropper{
		processor: processing.NewProcessor(),
		config:    config,
	}
}

// Chip is one cropped ship
type Chip struct {
	Index int
	// Region is the cropped area in frame coordinates
	Region types.BoundingBox
	Image  image.Image
}

// Region returns the area cropped for box: padded, widened to the
// configured aspect ratio and clamped to bounds.
func (c *ChipCropper) Region(box types.BoundingBox, bounds image.Rectangle) types.BoundingBox {
	x0, y0 := float64(box.X), float64(box.Y)
	x1, y1 := float64(box.X+box.Width), float64(box.Y+box.Height)

	if c.config.PaddingRatio > 0 {
		padX := float64(box.Width) * c.config.PaddingRatio
		padY := float64(box.Height) * c.config.PaddingRatio
		x0, x1 = x0-padX, x1+padX
		y0, y1 = y0-padY, y1+padY
	}

	if target := c.config.Aspect.Ratio(); target > 0 {
		w, h := x1-x0, y1-y0
		if w/h < target {
			grow := (h*target - w) / 2
			x0, x1 = x0-grow, x1+grow
		} else {
			grow := (w/target - h) / 2
			y0, y1 = y0-grow, y1+grow
		}
	}

	r := image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Ceil(x1)), int(math.Ceil(y1)),
	).Intersect(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	return types.FromRect(r)
}

// Crop cuts one chip per box in box order
func (c *ChipCropper) Crop(img image.Image, boxes []types.BoundingBox) ([]Chip, error) {
	if err := types.CheckImage(img, ""); err != nil {
		return nil, err
	}

	chips := make([]Chip, 0, len(boxes))
	for i, box := range boxes {
		region := c.Region(box, img.Bounds())
		cropped, err := c.processor.CropImageToBox(img, region)
		if err != nil {
			return nil, errors.Wrapf(err, "chip %d", i)
		}

		var chip image.Image = cropped
		if maxSide := c.config.MaxSide; maxSide > 0 && (region.Width > maxSide || region.Height > maxSide) {
			chip = imaging.Fit(cropped, maxSide, maxSide, imaging.Lanczos)
		}
		chips = append(chips, Chip{Index: i, Region: region, Image: chip})
	}
	return chips, nil
}

// ChipPath returns <dir>/<stem>_ship_<index>.<format>
func ChipPath(dir, stem string, index int, format string) string {
	return filepath.Join(dir, utils.SanitizeFilename(fmt.Sprintf("%s_ship_%d", stem, index))+"."+format)
}

// Save writes chips into dir and returns their paths. Every chip is
// attempted; failures are combined.
func (c *ChipCropper) Save(chips []Chip, dir, stem, format string, quality int) ([]string, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}

	var paths []string
	var errs error
	for _, chip := range chips {
		path := ChipPath(dir, stem, chip.Index, format)
		if err := c.processor.SaveImage(chip.Image, path, format, quality, false); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "save chip %d", chip.Index))
			continue
		}
		paths = append(paths, path)
	}
	return paths, errs
}
