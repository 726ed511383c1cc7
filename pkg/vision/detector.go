// Package vision provides an in-process edge detector that satisfies the
// edgemap.Provider contract without a neural network. It is a Sobel gradient
// over a blurred luminance image and is meant for offline runs and tests.
package vision

import (
	"context"
	"image"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/ship-detector/internal/utils"
	"github.com/menta2k/ship-detector/pkg/analyzer"
	"github.com/menta2k/ship-detector/pkg/edgemap"
)

// ProviderName identifies the Sobel provider in configuration
const ProviderName = "sobel"

// EdgeDetector computes gradient-magnitude edge maps
type EdgeDetector struct {
	config DetectionConfig
	reader *analyzer.ImageAnalyzer
	logger *zap.SugaredLogger
}

// DetectionConfig holds configuration for edge detection
type DetectionConfig struct {
	// BlurRadius is the Gaussian radius applied before the gradient; 0 disables it
	BlurRadius float64
	// Gain scales gradient magnitude before clamping to 255
	Gain float64
}

// New creates a new EdgeDetector with default configuration
func New() *EdgeDetector {
	return NewWithConfig(DetectionConfig{
		BlurRadius: 1.5,
		Gain:       1.0,
	}, nil)
}

// NewWithConfig creates a new EdgeDetector with custom configuration
func NewWithConfig(config DetectionConfig, logger *zap.SugaredLogger) *EdgeDetector {
	if config.Gain <= 0 {
		config.Gain = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EdgeDetector{
		config: config,
		reader: analyzer.New(),
		logger: logger,
	}
}

// Name implements edgemap.Provider
func (d *EdgeDetector) Name() string {
	return ProviderName
}

// Strength returns bright-on-dark gradient magnitude for img
func (d *EdgeDetector) Strength(img image.Image) *image.Gray {
	var src image.Image = effect.Grayscale(img)
	if d.config.BlurRadius > 0 {
		src = blur.Gaussian(src, d.config.BlurRadius)
	}
	sobel := analyzer.ToGray(effect.Sobel(src))
	if d.config.Gain != 1 {
		for i, v := range sobel.Pix {
			s := float64(v) * d.config.Gain
			if s > 255 {
				s = 255
			}
			sobel.Pix[i] = uint8(s)
		}
	}
	return sobel
}

// EdgeMap returns the inverted edge map for img (0 = strong edge)
func (d *EdgeDetector) EdgeMap(img image.Image) *image.Gray {
	return edgemap.Invert(d.Strength(img))
}

// Generate implements edgemap.Provider
func (d *EdgeDetector) Generate(ctx context.Context, inputDir, outputDir string) ([]edgemap.Frame, error) {
	frames, err := edgemap.ListFrames(inputDir, outputDir)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(outputDir); err != nil {
		return nil, errors.Wrapf(err, "create %s", outputDir)
	}

	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := d.reader.LoadImage(f.Source)
		if err != nil {
			return nil, err
		}
		if err := imaging.Save(d.EdgeMap(img), f.EdgeMap); err != nil {
			return nil, errors.Wrapf(err, "write edge map %s", f.EdgeMap)
		}
		d.logger.Debugw("edge map written", "provider", ProviderName, "frame", f.Index, "path", f.EdgeMap)
	}
	return frames, nil
}
