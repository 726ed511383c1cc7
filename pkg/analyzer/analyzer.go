package analyzer

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/ship-detector/pkg/types"
)

// ImageAnalyzer reads and validates source images and edge maps
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image reader
type Config struct {
	SupportedFormats []string
	MinImageSize     int
}

// DefaultConfig returns the formats the pipeline can decode
func DefaultConfig() Config {
	return Config{
		SupportedFormats: []string{"jpeg", "png", "tiff", "webp", "bmp"},
		MinImageSize:     1,
	}
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{config: DefaultConfig()}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// LoadImage decodes an image file. Any failure is an *types.ImageLoadError.
func (a *ImageAnalyzer) LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &types.ImageLoadError{Path: path, Err: err}
	}
	defer file.Close()

	img, err := a.decode(file)
	if err != nil {
		return nil, &types.ImageLoadError{Path: path, Err: err}
	}
	if err := a.ValidateImage(img); err != nil {
		return nil, &types.ImageLoadError{Path: path, Err: err}
	}
	return img, nil
}

// LoadImageFromReader decodes an image from an io.Reader
func (a *ImageAnalyzer) LoadImageFromReader(reader io.Reader) (image.Image, error) {
	img, err := a.decode(reader)
	if err != nil {
		return nil, &types.ImageLoadError{Err: err}
	}
	return img, nil
}

// LoadGray decodes an edge map and returns it as a single-channel image
func (a *ImageAnalyzer) LoadGray(path string) (*image.Gray, error) {
	img, err := a.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}

// ToGray returns img as *image.Gray, converting when needed
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// GetImageInfo returns basic information about an image
func (a *ImageAnalyzer) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{
		Width:  width,
		Height: height,
		Area:   width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Area        int     `json:"area"`
}

// ValidateImage checks that an image is present and meets the minimum size
func (a *ImageAnalyzer) ValidateImage(img image.Image) error {
	if err := types.CheckImage(img, ""); err != nil {
		return types.ErrEmptyImage
	}
	bounds := img.Bounds()
	if bounds.Dx() < a.config.MinImageSize || bounds.Dy() < a.config.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), a.config.MinImageSize)
	}
	return nil
}

func (a *ImageAnalyzer) decode(r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if !a.isFormatSupported(format) {
		return nil, fmt.Errorf("unsupported image format: %s", format)
	}
	return img, nil
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}
