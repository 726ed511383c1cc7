package regions

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/ship-detector/pkg/types"
)

// createTestMap returns a black map with white rectangles
func createTestMap(w, h int, squares ...image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for _, sq := range squares {
		for y := sq.Min.Y; y < sq.Max.Y; y++ {
			for x := sq.Min.X; x < sq.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func newExtractor(t *testing.T, opts Options) *Extractor {
	t.Helper()
	e, err := NewWithOptions(opts)
	if err != nil {
		t.Fatalf("NewWithOptions failed: %v", err)
	}
	return e
}

func TestExtractSingleShip(t *testing.T) {
	e := newExtractor(t, Options{MinWidth: 32, MinHeight: 32, Expansion: 5, Threshold: DefaultThreshold})
	edgeMap := createTestMap(100, 100, image.Rect(30, 30, 70, 70))

	res, err := e.Extract(edgeMap)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	expected := []types.BoundingBox{{X: 25, Y: 25, Width: 50, Height: 50}}
	if diff := cmp.Diff(expected, res.Boxes); diff != "" {
		t.Errorf("Unexpected boxes (-want +got):\n%s", diff)
	}

	// mask is the filled expanded box
	if res.Mask.GrayAt(25, 25).Y != 255 || res.Mask.GrayAt(74, 74).Y != 255 || res.Mask.GrayAt(50, 50).Y != 255 {
		t.Error("Expected mask to be filled inside the box")
	}
	if res.Mask.GrayAt(24, 24).Y != 0 || res.Mask.GrayAt(75, 75).Y != 0 {
		t.Error("Expected mask to be blank outside the box")
	}
}

func TestExtractBelowMinimum(t *testing.T) {
	e := newExtractor(t, Options{MinWidth: 32, MinHeight: 32, Expansion: 5, Threshold: DefaultThreshold})
	edgeMap := createTestMap(100, 100, image.Rect(30, 30, 50, 50))

	res, err := e.Extract(edgeMap)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Boxes == nil || len(res.Boxes) != 0 {
		t.Errorf("Expected empty non-nil box slice, got %v", res.Boxes)
	}
	for _, v := range res.Mask.Pix {
		if v != 0 {
			t.Fatal("Expected blank mask")
		}
	}
}

func TestExtractRequiresBothDimensions(t *testing.T) {
	e := newExtractor(t, Options{MinWidth: 32, MinHeight: 32, Threshold: DefaultThreshold})
	// wide but flat, like the horizon itself
	edgeMap := createTestMap(200, 100, image.Rect(0, 40, 200, 46))

	res, err := e.Extract(edgeMap)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(res.Boxes) != 0 {
		t.Errorf("Expected flat region to be discarded, got %v", res.Boxes)
	}
}

func TestExtractDiscoveryOrder(t *testing.T) {
	e := newExtractor(t, Options{MinWidth: 1, MinHeight: 1, Threshold: DefaultThreshold})
	edgeMap := createTestMap(100, 100,
		image.Rect(60, 40, 70, 50), // starts on row 40
		image.Rect(10, 40, 20, 50), // same row, further left
		image.Rect(40, 10, 45, 15), // topmost
	)

	res, err := e.Extract(edgeMap)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	expected := []types.BoundingBox{
		{X: 40, Y: 10, Width: 5, Height: 5},
		{X: 10, Y: 40, Width: 10, Height: 10},
		{X: 60, Y: 40, Width: 10, Height: 10},
	}
	if diff := cmp.Diff(expected, res.Boxes); diff != "" {
		t.Errorf("Unexpected order (-want +got):\n%s", diff)
	}
}

func TestExtractEightConnectivity(t *testing.T) {
	e := newExtractor(t, Options{MinWidth: 1, MinHeight: 1, Threshold: DefaultThreshold})
	edgeMap := image.NewGray(image.Rect(0, 0, 10, 10))
	// a diagonal staircase touches only at corners
	for i := 0; i < 5; i++ {
		edgeMap.SetGray(2+i, 2+i, color.Gray{Y: 255})
	}

	res, err := e.Extract(edgeMap)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	expected := []types.BoundingBox{{X: 2, Y: 2, Width: 5, Height: 5}}
	if diff := cmp.Diff(expected, res.Boxes); diff != "" {
		t.Errorf("Expected diagonal pixels to form one component (-want +got):\n%s", diff)
	}
}

func TestExtractConcaveShape(t *testing.T) {
	e := newExtractor(t, Options{MinWidth: 1, MinHeight: 1, Threshold: DefaultThreshold})
	// a U shape is discovered at its left arm but spans both arms
	edgeMap := createTestMap(50, 50,
		image.Rect(10, 10, 13, 30),
		image.Rect(30, 10, 33, 30),
		image.Rect(10, 27, 33, 30),
	)

	res, err := e.Extract(edgeMap)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	expected := []types.BoundingBox{{X: 10, Y: 10, Width: 23, Height: 20}}
	if diff := cmp.Diff(expected, res.Boxes); diff != "" {
		t.Errorf("Unexpected boxes (-want +got):\n%s", diff)
	}
}

func TestExtractBoxesStayInBounds(t *testing.T) {
	e := newExtractor(t, Options{MinWidth: 2, MinHeight: 2, Expansion: 50, Threshold: DefaultThreshold})
	edgeMap := createTestMap(120, 80,
		image.Rect(0, 0, 10, 10),
		image.Rect(110, 70, 120, 80),
		image.Rect(50, 30, 60, 40),
	)

	res, err := e.Extract(edgeMap)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(res.Boxes) != 3 {
		t.Fatalf("Expected 3 boxes, got %d", len(res.Boxes))
	}
	for _, b := range res.Boxes {
		if b.Width <= 0 || b.Height <= 0 {
			t.Errorf("Expected positive size, got %v", b)
		}
		if b.X < 0 || b.Y < 0 || b.X+b.Width > 120 || b.Y+b.Height > 80 {
			t.Errorf("Expected box inside 120x80, got %v", b)
		}
	}
}

func TestExpansionMonotonic(t *testing.T) {
	edgeMap := createTestMap(200, 200,
		image.Rect(20, 20, 60, 60),
		image.Rect(120, 100, 180, 150),
	)

	var prev []types.BoundingBox
	for margin := 0; margin <= 40; margin += 5 {
		e := newExtractor(t, Options{MinWidth: 32, MinHeight: 32, Expansion: margin, Threshold: DefaultThreshold})
		res, err := e.Extract(edgeMap)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if prev != nil {
			if len(prev) != len(res.Boxes) {
				t.Fatalf("Expected stable box count, got %d then %d", len(prev), len(res.Boxes))
			}
			for i := range prev {
				if res.Boxes[i].Area() < prev[i].Area() {
					t.Errorf("Expansion %d shrank box %d: %v -> %v", margin, i, prev[i], res.Boxes[i])
				}
			}
		}
		prev = res.Boxes
	}
}

func TestExtractThreshold(t *testing.T) {
	edgeMap := image.NewGray(image.Rect(0, 0, 60, 60))
	for y := 10; y < 50; y++ {
		for x := 10; x < 50; x++ {
			edgeMap.SetGray(x, y, color.Gray{Y: 100})
		}
	}

	low := newExtractor(t, Options{MinWidth: 1, MinHeight: 1, Threshold: 50})
	res, err := low.Extract(edgeMap)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(res.Boxes) != 1 {
		t.Errorf("Expected one box at threshold 50, got %d", len(res.Boxes))
	}

	high := newExtractor(t, Options{MinWidth: 1, MinHeight: 1, Threshold: 200})
	res, err = high.Extract(edgeMap)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(res.Boxes) != 0 {
		t.Errorf("Expected no boxes at threshold 200, got %v", res.Boxes)
	}
}

func TestNewWithOptionsInvalid(t *testing.T) {
	tests := []Options{
		{MinWidth: -1, MinHeight: 1, Threshold: 1},
		{MinWidth: 1, MinHeight: 1, Expansion: -3, Threshold: 1},
		{MinWidth: 1, MinHeight: 1},
	}
	for _, opts := range tests {
		if _, err := NewWithOptions(opts); !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("Expected ErrInvalidOptions for %+v, got %v", opts, err)
		}
	}
}

func TestExtractNilMap(t *testing.T) {
	_, err := New().Extract(nil)
	var loadErr *types.ImageLoadError
	if !errors.As(err, &loadErr) {
		t.Errorf("Expected *types.ImageLoadError, got %v", err)
	}
}

func TestRenderMaskClips(t *testing.T) {
	mask := RenderMask([]types.BoundingBox{{X: -5, Y: -5, Width: 10, Height: 10}}, image.Rect(0, 0, 20, 20))
	if mask.GrayAt(0, 0).Y != 255 || mask.GrayAt(4, 4).Y != 255 || mask.GrayAt(5, 5).Y != 0 {
		t.Error("Expected mask rectangle clipped to bounds")
	}
}

func BenchmarkExtract(b *testing.B) {
	edgeMap := createTestMap(1600, 900,
		image.Rect(100, 300, 260, 380),
		image.Rect(700, 280, 900, 400),
		image.Rect(1200, 310, 1300, 360),
	)
	e := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Extract(edgeMap)
	}
}
