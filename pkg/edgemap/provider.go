// Package edgemap defines the boundary to edge-detection backends.
//
// A Provider consumes a directory of images and writes one single-channel
// 8-bit PNG per image into an output directory. Maps are intensity-inverted:
// 0 is a certain edge and 255 is no edge. Frames are the image files of the
// input directory sorted by name; a frame's index is its position in that
// order and its map is named "<stem>_<index>_ss.png".
//
// Model outputs are [H x W] float32 edge probabilities in [0,1]; FromProbabilities
// converts them to the on-disk convention.
package edgemap

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/ship-detector/internal/utils"
)

// ErrNoFrames is returned when the input directory holds no images
var ErrNoFrames = errors.New("edgemap: no frames in input directory")

// ErrMissingMap is returned when a provider did not produce an expected map
var ErrMissingMap = errors.New("edgemap: expected edge map was not produced")

// Provider produces edge maps for every frame in a directory
type Provider interface {
	Name() string
	Generate(ctx context.Context, inputDir, outputDir string) ([]Frame, error)
}

// Frame links a staged source image to its edge map
type Frame struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Source  string `json:"source"`
	EdgeMap string `json:"edge_map"`
}

// FileName returns the edge-map filename for a frame
func FileName(stem string, index int) string {
	return fmt.Sprintf("%s_%d_ss.png", stem, index)
}

// Stem returns a file's base name without its extension
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListFrames enumerates the images of inputDir in name order and computes
// where each frame's map lives under outputDir.
func ListFrames(inputDir, outputDir string) ([]Frame, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, errors.Wrapf(err, "read frames from %s", inputDir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !utils.IsImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, errors.Wrapf(ErrNoFrames, "%s", inputDir)
	}
	sort.Strings(names)

	frames := make([]Frame, len(names))
	for i, name := range names {
		stem := Stem(name)
		frames[i] = Frame{
			Index:   i,
			Name:    stem,
			Source:  filepath.Join(inputDir, name),
			EdgeMap: filepath.Join(outputDir, FileName(stem, i)),
		}
	}
	return frames, nil
}

// VerifyFrames checks that every frame's map exists
func VerifyFrames(frames []Frame) error {
	for _, f := range frames {
		if !utils.FileExists(f.EdgeMap) {
			return errors.Wrapf(ErrMissingMap, "frame %d (%s): %s", f.Index, f.Name, f.EdgeMap)
		}
	}
	return nil
}

// FromProbabilities converts a row-major [height x width] probability tensor
// into an inverted edge map: p=1 becomes 0 and p=0 becomes 255. Values outside
// [0,1] are clamped.
func FromProbabilities(width, height int, probs []float32) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("edgemap: invalid tensor shape %dx%d", width, height)
	}
	if len(probs) != width*height {
		return nil, errors.Errorf("edgemap: tensor has %d values, want %d", len(probs), width*height)
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for i, p := range probs {
		v := float64(p)
		if math.IsNaN(v) || v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		img.Pix[i] = uint8((1 - v) * 255)
	}
	return img, nil
}

// Invert maps v to 255-v. It converts bright-edge intensity into the edge-map
// convention and back.
func Invert(strength *image.Gray) *image.Gray {
	b := strength.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := strength.PixOffset(b.Min.X, b.Min.Y+y)
		dst := out.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			out.Pix[dst+x] = 255 - strength.Pix[src+x]
		}
	}
	return out
}
