package horizon

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"github.com/menta2k/ship-detector/pkg/types"
)

func filledGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestSuppressOnWhiteMap(t *testing.T) {
	src := filledGray(100, 100, 255)
	line := Line{Start: types.Point{X: 0, Y: 50}, End: types.Point{X: 99, Y: 50}, Thickness: 3}

	out, err := Suppress(src, line)
	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}
	if got := out.GrayAt(50, 50).Y; got != 255 {
		t.Errorf("Expected pixel (50,50) to stay 255, got %d", got)
	}
}

func TestSuppressPaintsStroke(t *testing.T) {
	src := filledGray(100, 100, 0)
	line := Line{Start: types.Point{X: 0, Y: 50}, End: types.Point{X: 99, Y: 50}, Thickness: 3}

	out, err := Suppress(src, line)
	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	for _, y := range []int{49, 50, 51} {
		if got := out.GrayAt(10, y).Y; got != NoEdge {
			t.Errorf("Expected row %d painted, got %d", y, got)
		}
	}
	for _, y := range []int{47, 53} {
		if got := out.GrayAt(10, y).Y; got != 0 {
			t.Errorf("Expected row %d untouched, got %d", y, got)
		}
	}
}

func TestSuppressDoesNotMutateInput(t *testing.T) {
	src := filledGray(40, 40, 10)
	before := append([]uint8(nil), src.Pix...)

	if _, err := Suppress(src, Line{End: types.Point{X: 39, Y: 39}, Thickness: 4}); err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}
	if !bytes.Equal(before, src.Pix) {
		t.Error("Suppress mutated its input")
	}
}

func TestSuppressIdempotent(t *testing.T) {
	src := filledGray(200, 120, 0)
	for i := range src.Pix {
		src.Pix[i] = uint8(i % 251)
	}
	line := Line{Start: types.Point{X: 0, Y: 70}, End: types.Point{X: 199, Y: 60}, Thickness: 6}

	once, err := Suppress(src, line)
	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}
	twice, err := Suppress(once, line)
	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}
	if !bytes.Equal(once.Pix, twice.Pix) {
		t.Error("Expected suppressing twice to equal suppressing once")
	}
}

func TestSuppressClipsOutOfBounds(t *testing.T) {
	// horizon endpoint beyond the right edge, as in the stock 1600px configuration
	src := filledGray(800, 300, 0)
	line := Line{Start: types.Point{X: 0, Y: 215}, End: types.Point{X: 1600, Y: 194}, Thickness: 6}

	out, err := Suppress(src, line)
	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	// true slope at x=799 puts the centre near y=204.5
	if got := out.GrayAt(799, 204).Y; got != NoEdge {
		t.Errorf("Expected clipped segment to reach the right edge, got %d", got)
	}
	if got := out.GrayAt(799, 215).Y; got != 0 {
		t.Errorf("Expected slope to be preserved after clipping, got %d at y=215", got)
	}
}

func TestSuppressEntirelyOutside(t *testing.T) {
	src := filledGray(50, 50, 7)
	out, err := Suppress(src, Line{Start: types.Point{X: -100, Y: -100}, End: types.Point{X: -10, Y: -20}, Thickness: 2})
	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}
	if !bytes.Equal(src.Pix, out.Pix) {
		t.Error("Expected an off-image line to leave the map unchanged")
	}
}

func TestSuppressInvalidThickness(t *testing.T) {
	_, err := Suppress(filledGray(10, 10, 0), Line{Thickness: 0})
	if !errors.Is(err, ErrInvalidThickness) {
		t.Errorf("Expected ErrInvalidThickness, got %v", err)
	}
}

func TestSuppressNilMap(t *testing.T) {
	_, err := Suppress(nil, Line{Thickness: 1})
	var loadErr *types.ImageLoadError
	if !errors.As(err, &loadErr) {
		t.Errorf("Expected *types.ImageLoadError, got %v", err)
	}
}

func BenchmarkSuppress(b *testing.B) {
	src := filledGray(1600, 900, 128)
	line := Line{Start: types.Point{X: 0, Y: 215}, End: types.Point{X: 1600, Y: 194}, Thickness: 6}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Suppress(src, line)
	}
}
