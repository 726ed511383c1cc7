package config

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/menta2k/ship-detector/internal/logging"
	"github.com/menta2k/ship-detector/pkg/horizon"
	"github.com/menta2k/ship-detector/pkg/morphology"
	"github.com/menta2k/ship-detector/pkg/overlay"
	"github.com/menta2k/ship-detector/pkg/regions"
	"github.com/menta2k/ship-detector/pkg/types"
)

// Config holds the application configuration
type Config struct {
	General    GeneralConfig    `json:"general"`
	Edge       EdgeConfig       `json:"edge"`
	Horizon    HorizonConfig    `json:"horizon"`
	Morphology MorphologyConfig `json:"morphology"`
	Regions    RegionsConfig    `json:"regions"`
	Overlay    OverlayConfig    `json:"overlay"`
	Output     OutputConfig     `json:"output"`
	Pipeline   PipelineConfig   `json:"pipeline"`
}

// GeneralConfig holds directories and logging
type GeneralConfig struct {
	WorkDir   string `json:"work_dir"`
	OutputDir string `json:"output_dir"`
	LogLevel  string `json:"log_level"`
	LogJSON   bool   `json:"log_json"`
}

// EdgeConfig selects and configures the edge-map provider
type EdgeConfig struct {
	Provider               string  `json:"provider"`
	Command                string  `json:"command"`
	Checkpoint             string  `json:"checkpoint"`
	Device                 string  `json:"device"`
	AllowMissingCheckpoint bool    `json:"allow_missing_checkpoint"`
	URL                    string  `json:"url"`
	Model                  string  `json:"model"`
	TimeoutSeconds         int     `json:"timeout_seconds"`
	BlurRadius             float64 `json:"blur_radius"`
}

// HorizonConfig describes the horizon segment to suppress
type HorizonConfig struct {
	Enabled   bool        `json:"enabled"`
	Start     types.Point `json:"start"`
	End       types.Point `json:"end"`
	Thickness int         `json:"thickness"`
}

// MorphologyConfig holds the erode and dilate settings
type MorphologyConfig struct {
	ErodeKernel      types.KernelSize `json:"erode_kernel"`
	ErodeIterations  int              `json:"erode_iterations"`
	DilateKernel     types.KernelSize `json:"dilate_kernel"`
	DilateIterations int              `json:"dilate_iterations"`
}

// RegionsConfig holds region size filtering and expansion
type RegionsConfig struct {
	MinWidth  int `json:"min_width"`
	MinHeight int `json:"min_height"`
	Expansion int `json:"expansion"`
	Threshold int `json:"threshold"`
}

// OverlayConfig controls box drawing
type OverlayConfig struct {
	Color     string `json:"color"`
	Thickness int    `json:"thickness"`
	Label     bool   `json:"label"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	MaskSuffix    string `json:"mask_suffix"`
	BoxedSuffix   string `json:"boxed_suffix"`
	ArchiveFormat string `json:"archive_format"`
	ViewerFormat  string `json:"viewer_format"`
	Quality       int    `json:"quality"`
	Lossless      bool   `json:"lossless"`
	SaveReport    bool   `json:"save_report"`
	SaveChips     bool   `json:"save_chips"`
}

// PipelineConfig controls orchestration
type PipelineConfig struct {
	Workers int `json:"workers"`
	// InvertEdgeMap flips maps to bright-edge polarity after horizon
	// suppression so that edges, not background, form components
	InvertEdgeMap bool   `json:"invert_edge_map"`
	Backend       string `json:"backend"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			WorkDir:   "./work",
			OutputDir: "./output",
			LogLevel:  "info",
		},
		Edge: EdgeConfig{
			Provider:       "rcf",
			Command:        "python -m rcf.test --input {input} --output {output} --checkpoint {checkpoint}",
			Checkpoint:     "models/bsds500_pascal_model.pth",
			Device:         "0",
			URL:            "http://localhost:8080",
			TimeoutSeconds: 600,
			BlurRadius:     1.5,
		},
		Horizon: HorizonConfig{
			Enabled:   true,
			Start:     types.Point{X: 0, Y: 215},
			End:       types.Point{X: 1600, Y: 194},
			Thickness: 6,
		},
		Morphology: MorphologyConfig{
			ErodeKernel:      types.KernelSize{Width: 3, Height: 3},
			ErodeIterations:  2,
			DilateKernel:     types.KernelSize{Width: 4, Height: 4},
			DilateIterations: 4,
		},
		Regions: RegionsConfig{
			MinWidth:  32,
			MinHeight: 32,
			Expansion: 15,
			Threshold: regions.DefaultThreshold,
		},
		Overlay: OverlayConfig{
			Color:     "#00ff00",
			Thickness: 2,
		},
		Output: OutputConfig{
			MaskSuffix:    "_mask_bbox",
			BoxedSuffix:   "_boxed",
			ArchiveFormat: "tiff",
			ViewerFormat:  "png",
			Quality:       92,
			SaveReport:    true,
		},
		Pipeline: PipelineConfig{
			Workers:       2,
			InvertEdgeMap: true,
			Backend:       "native",
		},
	}
}

// LoadFromFile loads configuration from a JSON5 file. ${VAR} references are
// expanded from the environment first; keys missing from the file keep
// their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := envsubst.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json5.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.General.OutputDir == "" {
		return fmt.Errorf("general.output_dir cannot be empty")
	}
	if c.General.WorkDir == "" {
		return fmt.Errorf("general.work_dir cannot be empty")
	}
	if _, err := logging.ParseLevel(c.General.LogLevel); err != nil {
		return fmt.Errorf("general.log_level: %w", err)
	}

	switch c.Edge.Provider {
	case "rcf":
		if strings.TrimSpace(c.Edge.Command) == "" {
			return fmt.Errorf("edge.command cannot be empty for the rcf provider")
		}
	case "http":
		if !strings.HasPrefix(c.Edge.URL, "http://") && !strings.HasPrefix(c.Edge.URL, "https://") {
			return fmt.Errorf("edge.url must be an http(s) URL")
		}
	case "sobel":
	default:
		return fmt.Errorf("edge.provider must be one of rcf, http, sobel (got %q)", c.Edge.Provider)
	}
	if c.Edge.TimeoutSeconds < 0 {
		return fmt.Errorf("edge.timeout_seconds cannot be negative")
	}

	if c.Horizon.Enabled {
		if err := c.HorizonLine().Validate(); err != nil {
			return fmt.Errorf("horizon: %w", err)
		}
	}
	if err := c.MorphologyOptions().Validate(); err != nil {
		return fmt.Errorf("morphology: %w", err)
	}
	if c.Regions.Threshold < 1 || c.Regions.Threshold > 255 {
		return fmt.Errorf("regions.threshold must be between 1 and 255")
	}
	if err := c.RegionOptions().Validate(); err != nil {
		return fmt.Errorf("regions: %w", err)
	}
	if _, err := c.OverlayStyle(); err != nil {
		return fmt.Errorf("overlay: %w", err)
	}

	if !isOneOf(c.Output.ArchiveFormat, "tiff", "tif", "png") {
		return fmt.Errorf("output.archive_format must be lossless: tiff or png")
	}
	if !isOneOf(c.Output.ViewerFormat, "png", "jpg", "jpeg", "webp") {
		return fmt.Errorf("output.viewer_format must be one of png, jpg, webp")
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if !isOneOf(c.Pipeline.Backend, "native", "opencv") {
		return fmt.Errorf("pipeline.backend must be native or opencv")
	}

	return nil
}

// HorizonLine returns the horizon suppression parameters
func (c *Config) HorizonLine() horizon.Line {
	return horizon.Line{
		Start:     c.Horizon.Start,
		End:       c.Horizon.End,
		Thickness: c.Horizon.Thickness,
	}
}

// MorphologyOptions returns the cleanup parameters
func (c *Config) MorphologyOptions() morphology.Options {
	return morphology.Options{
		ErodeKernel:      c.Morphology.ErodeKernel,
		ErodeIterations:  c.Morphology.ErodeIterations,
		DilateKernel:     c.Morphology.DilateKernel,
		DilateIterations: c.Morphology.DilateIterations,
	}
}

// RegionOptions returns the extraction parameters
func (c *Config) RegionOptions() regions.Options {
	threshold := c.Regions.Threshold
	if threshold < 0 || threshold > 255 {
		threshold = 0
	}
	return regions.Options{
		MinWidth:  c.Regions.MinWidth,
		MinHeight: c.Regions.MinHeight,
		Expansion: c.Regions.Expansion,
		Threshold: uint8(threshold),
	}
}

// OverlayStyle parses the box colour and returns the drawing style
func (c *Config) OverlayStyle() (overlay.Style, error) {
	col, err := colorful.Hex(c.Overlay.Color)
	if err != nil {
		return overlay.Style{}, fmt.Errorf("invalid color %q: %w", c.Overlay.Color, err)
	}
	if c.Overlay.Thickness < 1 {
		return overlay.Style{}, fmt.Errorf("thickness must be at least 1")
	}
	r, g, b := col.RGB255()
	return overlay.Style{
		Color:     color.NRGBA{R: r, G: g, B: b, A: 255},
		Thickness: c.Overlay.Thickness,
		Label:     c.Overlay.Label,
	}, nil
}

// EdgeTimeout returns the provider timeout
func (c *Config) EdgeTimeout() time.Duration {
	return time.Duration(c.Edge.TimeoutSeconds) * time.Second
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json5"
	}
	return filepath.Join(home, ".config", "ship-detector", "config.json5")
}

func isOneOf(v string, options ...string) bool {
	for _, o := range options {
		if strings.EqualFold(v, o) {
			return true
		}
	}
	return false
}
