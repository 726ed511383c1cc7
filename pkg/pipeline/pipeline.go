// Package pipeline runs ship detection end to end: inputs are staged into a
// per-run work directory, an edge-map provider processes them as a batch, and
// every frame is then suppressed, cleaned, extracted, drawn and persisted
// independently of the others.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/ship-detector/internal/config"
	"github.com/menta2k/ship-detector/internal/utils"
	"github.com/menta2k/ship-detector/pkg/analyzer"
	"github.com/menta2k/ship-detector/pkg/cropper"
	"github.com/menta2k/ship-detector/pkg/detection"
	"github.com/menta2k/ship-detector/pkg/edgemap"
	"github.com/menta2k/ship-detector/pkg/inference"
	"github.com/menta2k/ship-detector/pkg/overlay"
	"github.com/menta2k/ship-detector/pkg/processing"
	"github.com/menta2k/ship-detector/pkg/rcf"
	"github.com/menta2k/ship-detector/pkg/types"
	"github.com/menta2k/ship-detector/pkg/vision"
)

// Run stages reported in *RunError
const (
	StageInput   = "input"
	StageEdge    = "edge"
	StageLoad    = "load"
	StageMatch   = "match"
	StageOverlay = "overlay"
	StageWrite   = "write"
)

// ErrNoInputs is returned when Run is called without inputs
var ErrNoInputs = errors.New("pipeline: no inputs")

// ErrDuplicateInput is returned when two inputs share a file stem
var ErrDuplicateInput = errors.New("pipeline: duplicate input name")

// RunError is the single error surfaced by Run
type RunError struct {
	RunID string
	Stage string
	Input string
	Err   error
}

func (e *RunError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Stage, e.Err)
	}
	return fmt.Sprintf("run %s: %s %s: %v", e.RunID, e.Stage, e.Input, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// FrameResult describes everything produced for one image
type FrameResult struct {
	Name    string              `json:"name"`
	Index   int                 `json:"index"`
	Source  string              `json:"source"`
	EdgeMap string              `json:"edge_map"`
	Width   int                 `json:"width"`
	Height  int                 `json:"height"`
	Resized bool                `json:"edge_map_resized,omitempty"`
	Boxes   []types.BoundingBox `json:"boxes"`
	Mask    string              `json:"mask"`
	Archive string              `json:"archive"`
	Viewer  string              `json:"viewer"`
	Report  string              `json:"report,omitempty"`
	Chips   []string            `json:"chips,omitempty"`
}

// Report summarises one Run
type Report struct {
	RunID    string                  `json:"run_id"`
	Provider string                  `json:"provider"`
	Backend  string                  `json:"backend"`
	WorkDir  string                  `json:"work_dir"`
	Started  time.Time               `json:"started"`
	Elapsed  time.Duration           `json:"elapsed"`
	Frames   map[string]*FrameResult `json:"frames"`
}

// Names returns the frame names in sorted order
func (r *Report) Names() []string {
	names := lo.Keys(r.Frames)
	sort.Strings(names)
	return names
}

// TotalBoxes counts boxes across all frames
func (r *Report) TotalBoxes() int {
	return lo.SumBy(lo.Values(r.Frames), func(f *FrameResult) int {
		return len(f.Boxes)
	})
}

// Pipeline wires a provider and a detector to the output layout
type Pipeline struct {
	cfg       *config.Config
	provider  edgemap.Provider
	detector  *detection.Detector
	style     overlay.Style
	reader    *analyzer.ImageAnalyzer
	processor *processing.Processor
	cropper   *cropper.ChipCropper
	logger    *zap.SugaredLogger
}

// New creates a Pipeline. A nil provider is built from cfg.Edge.
func New(cfg *config.Config, provider edgemap.Provider, logger *zap.SugaredLogger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if provider == nil {
		var err error
		if provider, err = NewProvider(cfg, logger); err != nil {
			return nil, err
		}
	}

	detector, err := NewDetector(cfg, logger)
	if err != nil {
		return nil, err
	}
	style, err := cfg.OverlayStyle()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:       cfg,
		provider:  provider,
		detector:  detector,
		style:     style,
		reader:    analyzer.New(),
		processor: processing.NewProcessor(),
		cropper:   cropper.NewWithConfig(cropper.CropConfig{Aspect: cropper.Original}),
		logger:    logger,
	}, nil
}

// NewProvider builds the edge-map provider named by cfg.Edge.Provider
func NewProvider(cfg *config.Config, logger *zap.SugaredLogger) (edgemap.Provider, error) {
	switch cfg.Edge.Provider {
	case rcf.ProviderName:
		return rcf.NewRunner(rcf.Config{
			Command:                cfg.Edge.Command,
			Checkpoint:             cfg.Edge.Checkpoint,
			Device:                 cfg.Edge.Device,
			AllowMissingCheckpoint: cfg.Edge.AllowMissingCheckpoint,
			Timeout:                cfg.EdgeTimeout(),
		}, logger)
	case inference.ProviderName:
		return inference.NewClient(cfg.Edge.URL, cfg.Edge.Model, cfg.EdgeTimeout(), logger)
	case vision.ProviderName:
		return vision.NewWithConfig(vision.DetectionConfig{BlurRadius: cfg.Edge.BlurRadius, Gain: 1}, logger), nil
	default:
		return nil, errors.Errorf("pipeline: unknown edge provider %q", cfg.Edge.Provider)
	}
}

// NewDetector builds the per-frame detector from cfg
func NewDetector(cfg *config.Config, logger *zap.SugaredLogger) (*detection.Detector, error) {
	backend, err := detection.NewBackend(cfg.Pipeline.Backend)
	if err != nil {
		return nil, err
	}
	opts := detection.Options{
		Morphology: cfg.MorphologyOptions(),
		Regions:    cfg.RegionOptions(),
		Invert:     cfg.Pipeline.InvertEdgeMap,
	}
	if cfg.Horizon.Enabled {
		line := cfg.HorizonLine()
		opts.Horizon = &line
	}
	return detection.NewDetector(opts, backend, logger)
}

// Provider returns the configured edge-map provider
func (p *Pipeline) Provider() edgemap.Provider {
	return p.provider
}

// Detector returns the per-frame detector
func (p *Pipeline) Detector() *detection.Detector {
	return p.detector
}

// run carries per-invocation state
type run struct {
	id     string
	logger *zap.SugaredLogger
}

func (r *run) fail(stage, input string, err error) *RunError {
	return &RunError{RunID: r.id, Stage: stage, Input: input, Err: errors.WithStack(err)}
}

// Run processes inputs (image files, directories of images or http(s) URLs)
// and returns one FrameResult per image keyed by file stem.
func (p *Pipeline) Run(ctx context.Context, inputs ...string) (*Report, error) {
	r := &run{id: uuid.NewString()}
	r.logger = p.logger.With("run_id", r.id)

	if len(inputs) == 0 {
		return nil, r.fail(StageInput, "", ErrNoInputs)
	}

	workDir := filepath.Join(p.cfg.General.WorkDir, r.id)
	framesDir := filepath.Join(workDir, "frames")
	edgeDir := filepath.Join(workDir, "edge_detection")

	report := &Report{
		RunID:    r.id,
		Provider: p.provider.Name(),
		Backend:  p.detector.Backend(),
		WorkDir:  workDir,
		Started:  time.Now(),
		Frames:   make(map[string]*FrameResult),
	}
	r.logger.Infow("run started", "inputs", len(inputs), "provider", report.Provider, "backend", report.Backend)

	if err := p.stage(ctx, r, framesDir, inputs); err != nil {
		return nil, err
	}

	frames, err := p.provider.Generate(ctx, framesDir, edgeDir)
	if err != nil {
		return nil, r.fail(StageEdge, "", err)
	}
	if err := utils.EnsureDir(p.cfg.General.OutputDir); err != nil {
		return nil, r.fail(StageWrite, "", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.Workers)
	for _, frame := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return r.fail(StageLoad, frame.Name, err)
			}
			res, err := p.processFrame(r, frame)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Frames[frame.Name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(report.Started)
	r.logger.Infow("run finished", "frames", len(report.Frames), "boxes", report.TotalBoxes(), "elapsed", report.Elapsed)
	return report, nil
}

func (p *Pipeline) processFrame(r *run, frame edgemap.Frame) (*FrameResult, error) {
	logger := r.logger.With("input", frame.Name)

	src, err := p.reader.LoadImage(frame.Source)
	if err != nil {
		return nil, r.fail(StageLoad, frame.Name, err)
	}
	edge, err := p.reader.LoadGray(frame.EdgeMap)
	if err != nil {
		return nil, r.fail(StageLoad, frame.Name, err)
	}

	b := src.Bounds()
	edge, resized, err := p.processor.MatchSize(edge, b.Dx(), b.Dy())
	if err != nil {
		return nil, r.fail(StageMatch, frame.Name, err)
	}
	if resized {
		logger.Warnw("edge map resized to source", "stage", StageMatch, "width", b.Dx(), "height", b.Dy())
	}

	det, err := p.detector.Detect(edge)
	if err != nil {
		stage := "detect"
		var stageErr *detection.StageError
		if errors.As(err, &stageErr) {
			stage = stageErr.Stage
		}
		return nil, r.fail(stage, frame.Name, err)
	}
	logger.Debugw("regions found", "stage", detection.StageExtract, "boxes", len(det.Boxes))

	boxed, err := overlay.DrawBoxes(src, det.Boxes, p.style)
	if err != nil {
		return nil, r.fail(StageOverlay, frame.Name, err)
	}

	res := &FrameResult{
		Name:    frame.Name,
		Index:   frame.Index,
		Source:  frame.Source,
		EdgeMap: frame.EdgeMap,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Resized: resized,
		Boxes:   det.Boxes,
	}
	if err := p.write(res, det.Mask, boxed, src); err != nil {
		return nil, r.fail(StageWrite, frame.Name, err)
	}

	logger.Infow("frame done", "boxes", len(res.Boxes), "viewer", res.Viewer, "archive_size", utils.FileSize(res.Archive))
	return res, nil
}
