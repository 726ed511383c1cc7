// Package detection chains horizon suppression, morphological cleanup and
// region extraction over a single edge map.
package detection

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/ship-detector/pkg/edgemap"
	"github.com/menta2k/ship-detector/pkg/horizon"
	"github.com/menta2k/ship-detector/pkg/morphology"
	"github.com/menta2k/ship-detector/pkg/regions"
	"github.com/menta2k/ship-detector/pkg/types"
)

// Stage names reported in errors
const (
	StageSuppress = "suppress"
	StageClean    = "clean"
	StageExtract  = "extract"
)

// StageError tags a failure with the detection stage that produced it
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Options fully determine a Detector's behaviour
type Options struct {
	// Horizon is the segment to paint out; nil skips suppression
	Horizon    *horizon.Line
	Morphology morphology.Options
	Regions    regions.Options
	// Invert flips the map to bright-edge polarity after suppression
	Invert bool
}

// DefaultOptions returns the stock horizon, cleanup and extraction settings
func DefaultOptions() Options {
	return Options{
		Horizon: &horizon.Line{
			Start:     types.Point{X: 0, Y: 215},
			End:       types.Point{X: 1600, Y: 194},
			Thickness: 6,
		},
		Morphology: morphology.DefaultOptions(),
		Regions:    regions.DefaultOptions(),
		Invert:     true,
	}
}

// Detector turns one edge map into ship boxes
type Detector struct {
	opts      Options
	backend   Backend
	extractor *regions.Extractor
	logger    *zap.SugaredLogger
}

// NewDetector validates opts and creates a Detector on the given backend.
// A nil backend selects the native implementation.
func NewDetector(opts Options, backend Backend, logger *zap.SugaredLogger) (*Detector, error) {
	if opts.Horizon != nil {
		if err := opts.Horizon.Validate(); err != nil {
			return nil, err
		}
	}
	if err := opts.Morphology.Validate(); err != nil {
		return nil, err
	}
	extractor, err := regions.NewWithOptions(opts.Regions)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		backend = NativeBackend{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Detector{
		opts:      opts,
		backend:   backend,
		extractor: extractor,
		logger:    logger,
	}, nil
}

// Backend returns the backend name
func (d *Detector) Backend() string {
	return d.backend.Name()
}

// Detect runs suppression, cleanup and extraction on edgeMap
func (d *Detector) Detect(edgeMap *image.Gray) (*regions.Result, error) {
	cur := edgeMap
	if d.opts.Horizon != nil {
		suppressed, err := d.backend.Suppress(cur, *d.opts.Horizon)
		if err != nil {
			return nil, &StageError{Stage: StageSuppress, Err: err}
		}
		cur = suppressed
	}

	if d.opts.Invert {
		cur = edgemap.Invert(cur)
	}

	cleaned, err := d.backend.Clean(cur, d.opts.Morphology)
	if err != nil {
		return nil, &StageError{Stage: StageClean, Err: err}
	}

	res, err := d.backend.Extract(cleaned, d.extractor)
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}

	d.logger.Debugw("regions extracted", "backend", d.backend.Name(), "boxes", len(res.Boxes))
	return res, nil
}

// Backend implements the three image stages
type Backend interface {
	Name() string
	Suppress(edgeMap *image.Gray, line horizon.Line) (*image.Gray, error)
	Clean(edgeMap *image.Gray, opts morphology.Options) (*image.Gray, error)
	Extract(edgeMap *image.Gray, extractor *regions.Extractor) (*regions.Result, error)
}

// NativeBackend runs the pure Go stages
type NativeBackend struct{}

func (NativeBackend) Name() string { return "native" }

func (NativeBackend) Suppress(edgeMap *image.Gray, line horizon.Line) (*image.Gray, error) {
	return horizon.Suppress(edgeMap, line)
}

func (NativeBackend) Clean(edgeMap *image.Gray, opts morphology.Options) (*image.Gray, error) {
	return morphology.Clean(edgeMap, opts)
}

func (NativeBackend) Extract(edgeMap *image.Gray, extractor *regions.Extractor) (*regions.Result, error) {
	return extractor.Extract(edgeMap)
}

// ErrBackendUnavailable is returned when a backend was not compiled in
var ErrBackendUnavailable = errors.New("detection: backend not available in this build")

// NewBackend returns the backend registered under name
func NewBackend(name string) (Backend, error) {
	switch name {
	case "", "native":
		return NativeBackend{}, nil
	case "opencv":
		return NewOpenCVBackend()
	default:
		return nil, errors.Errorf("detection: unknown backend %q", name)
	}
}
