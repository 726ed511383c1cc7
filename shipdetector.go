// Package shipdetector finds ships in sea images from edge maps.
//
// An edge map is an 8-bit grayscale image in which 0 marks a certain edge and
// 255 marks no edge. Detection paints the known horizon out of the map,
// removes speckle with an erode/dilate pass, splits what remains into
// 8-connected regions and returns one box per region that is large enough,
// grown by a fixed margin. The boxes are then drawn over the colour frame.
//
// Basic usage:
//
//	package main
//
//	import (
//		"fmt"
//		"log"
//
//		shipdetector "github.com/menta2k/ship-detector"
//	)
//
//	func main() {
//		sd, err := shipdetector.New()
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		res, boxed, err := sd.ProcessEdgeMap("frame.png", "frame_0_ss.png")
//		if err != nil {
//			log.Fatal(err)
//		}
//		for i, box := range res.Boxes {
//			fmt.Printf("ship %d at %s\n", i, box)
//		}
//		_ = boxed
//	}
//
// Whole batches, including edge-map generation, go through Run, which stages
// the inputs, invokes the configured edge provider and writes the mask, the
// boxed image (archival TIFF plus a viewer copy) and a JSON report per frame.
//
// The package consists of these components:
//
// 1. Analyzer (pkg/analyzer): image loading and validation
// 2. Edge maps (pkg/edgemap, pkg/rcf, pkg/inference, pkg/vision): edge providers
// 3. Detection (pkg/horizon, pkg/morphology, pkg/regions, pkg/detection): box extraction
// 4. Overlay (pkg/overlay) and chips (pkg/cropper): output rendering
// 5. Pipeline (pkg/pipeline): batch orchestration
package shipdetector

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/menta2k/ship-detector/internal/config"
	"github.com/menta2k/ship-detector/pkg/analyzer"
	"github.com/menta2k/ship-detector/pkg/overlay"
	"github.com/menta2k/ship-detector/pkg/pipeline"
	"github.com/menta2k/ship-detector/pkg/processing"
	"github.com/menta2k/ship-detector/pkg/regions"
	"github.com/menta2k/ship-detector/pkg/types"
)

// Version of the ship detector library
const Version = "1.0.0"

// Config is the full detector configuration
type Config = config.Config

// DefaultConfig returns the stock configuration
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a JSON5 configuration file
func LoadConfig(path string) (*Config, error) {
	return config.LoadFromFile(path)
}

// ShipDetector provides a high-level interface over the detection pipeline
type ShipDetector struct {
	analyzer  *analyzer.ImageAnalyzer
	processor *processing.Processor
	pipeline  *pipeline.Pipeline
	style     overlay.Style
}

// New creates a new ShipDetector with default configuration
func New() (*ShipDetector, error) {
	return NewWithConfig(DefaultConfig(), nil)
}

// NewWithConfig creates a new ShipDetector with custom configuration
func NewWithConfig(cfg *Config, logger *zap.SugaredLogger) (*ShipDetector, error) {
	p, err := pipeline.New(cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	style, err := cfg.OverlayStyle()
	if err != nil {
		return nil, err
	}
	return &ShipDetector{
		analyzer:  analyzer.New(),
		processor: processing.NewProcessor(),
		pipeline:  p,
		style:     style,
	}, nil
}

// LoadImage loads a colour frame from file
func (sd *ShipDetector) LoadImage(path string) (image.Image, error) {
	return sd.analyzer.LoadImage(path)
}

// LoadEdgeMap loads an edge map as a single-channel image
func (sd *ShipDetector) LoadEdgeMap(path string) (*image.Gray, error) {
	return sd.analyzer.LoadGray(path)
}

// DetectInEdgeMap runs suppression, cleanup and extraction on one edge map
func (sd *ShipDetector) DetectInEdgeMap(edgeMap *image.Gray) (*regions.Result, error) {
	return sd.pipeline.Detector().Detect(edgeMap)
}

// DrawBoxes draws boxes on a copy of img with the configured style
func (sd *ShipDetector) DrawBoxes(img image.Image, boxes []types.BoundingBox) (*image.NRGBA, error) {
	return overlay.DrawBoxes(img, boxes, sd.style)
}

// ProcessEdgeMap detects ships in a precomputed edge map and draws them on
// the matching source frame.
func (sd *ShipDetector) ProcessEdgeMap(sourcePath, edgeMapPath string) (*regions.Result, *image.NRGBA, error) {
	src, err := sd.LoadImage(sourcePath)
	if err != nil {
		return nil, nil, err
	}
	edge, err := sd.LoadEdgeMap(edgeMapPath)
	if err != nil {
		return nil, nil, err
	}

	b := src.Bounds()
	edge, _, err = sd.processor.MatchSize(edge, b.Dx(), b.Dy())
	if err != nil {
		return nil, nil, err
	}

	res, err := sd.DetectInEdgeMap(edge)
	if err != nil {
		return nil, nil, err
	}
	boxed, err := sd.DrawBoxes(src, res.Boxes)
	if err != nil {
		return nil, nil, err
	}
	return res, boxed, nil
}

// Run generates edge maps for inputs and writes every output
func (sd *ShipDetector) Run(ctx context.Context, inputs ...string) (*pipeline.Report, error) {
	return sd.pipeline.Run(ctx, inputs...)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
