package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/image/tiff"

	"github.com/menta2k/ship-detector/pkg/analyzer"
	"github.com/menta2k/ship-detector/pkg/types"
)

// ErrDimensionMismatch is returned when an edge map cannot be mapped back onto its source
var ErrDimensionMismatch = errors.New("edge map and source dimensions differ")

// aspectTolerance is the relative aspect-ratio difference accepted when resizing maps
const aspectTolerance = 0.01

// Processor handles image encoding, resizing and cropping
type Processor struct {
	reader     *analyzer.ImageAnalyzer
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		reader: analyzer.New(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// LoadImageFromURL downloads and decodes an image
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, &types.ImageLoadError{Path: imageURL, Err: err}
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, &types.ImageLoadError{Path: imageURL, Err: fmt.Errorf("unsupported URL scheme: %s", parsedURL.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, &types.ImageLoadError{Path: imageURL, Err: err}
	}
	req.Header.Set("User-Agent", "ship-detector/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &types.ImageLoadError{Path: imageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.ImageLoadError{Path: imageURL, Err: fmt.Errorf("HTTP %d %s", resp.StatusCode, resp.Status)}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, &types.ImageLoadError{Path: imageURL, Err: fmt.Errorf("not an image (Content-Type: %s)", ct)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.ImageLoadError{Path: imageURL, Err: err}
	}

	img, err := p.reader.LoadImageFromReader(bytes.NewReader(data))
	if err != nil {
		var loadErr *types.ImageLoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = imageURL
		}
		return nil, err
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if IsURL(source) {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.reader.LoadImage(source)
}

// IsURL reports whether source is an http(s) URL
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// EncodePNGBase64 encodes an image as base64 PNG for sending to inference servers
func (p *Processor) EncodePNGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// MatchSize returns edgeMap sized like the source. A map with the same aspect
// ratio is rescaled with nearest-neighbour sampling; any other size is an error.
func (p *Processor) MatchSize(edgeMap *image.Gray, width, height int) (*image.Gray, bool, error) {
	b := edgeMap.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return edgeMap, false, nil
	}
	if b.Dx() == 0 || b.Dy() == 0 || width == 0 || height == 0 {
		return nil, false, errors.Wrapf(ErrDimensionMismatch, "%dx%d vs %dx%d", b.Dx(), b.Dy(), width, height)
	}

	mapRatio := float64(b.Dx()) / float64(b.Dy())
	srcRatio := float64(width) / float64(height)
	if math.Abs(mapRatio-srcRatio)/srcRatio > aspectTolerance {
		return nil, false, errors.Wrapf(ErrDimensionMismatch, "%dx%d vs %dx%d", b.Dx(), b.Dy(), width, height)
	}

	resized := imaging.Resize(edgeMap, width, height, imaging.NearestNeighbor)
	return analyzer.ToGray(resized), true, nil
}

// CropImageToBox crops an image to a pixel box, clipped to the image
func (p *Processor) CropImageToBox(img image.Image, box types.BoundingBox) (*image.NRGBA, error) {
	bounds := img.Bounds()
	rect := box.Rect().Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle for box %v", box)
	}
	return imaging.Crop(img, rect), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return writeFile(path, func(w io.Writer) error {
			return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
		})
	case "tif", "tiff":
		return writeFile(path, func(w io.Writer) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		})
	case "png":
		return imaging.Save(img, path)
	case "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeFile(path string, encode func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))
	return encode(f)
}
