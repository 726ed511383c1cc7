package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/ship-detector/internal/config"
	"github.com/menta2k/ship-detector/pkg/edgemap"
	"github.com/menta2k/ship-detector/pkg/processing"
	"github.com/menta2k/ship-detector/pkg/rcf"
	"github.com/menta2k/ship-detector/pkg/types"
)

// fakeProvider writes the same synthetic edge map for every frame
type fakeProvider struct {
	width, height int
	ship          image.Rectangle
	calls         int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(_ context.Context, inputDir, outputDir string) ([]edgemap.Frame, error) {
	f.calls++
	frames, err := edgemap.ListFrames(inputDir, outputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	m := image.NewGray(image.Rect(0, 0, f.width, f.height))
	for i := range m.Pix {
		m.Pix[i] = 255
	}
	for y := f.ship.Min.Y; y < f.ship.Max.Y; y++ {
		for x := f.ship.Min.X; x < f.ship.Max.X; x++ {
			m.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	for _, fr := range frames {
		if err := imaging.Save(m, fr.EdgeMap); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

func writeFrame(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 20, 40, 90, 255
	}
	path := filepath.Join(dir, name)
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.General.WorkDir = filepath.Join(t.TempDir(), "work")
	cfg.General.OutputDir = filepath.Join(t.TempDir(), "output")
	cfg.Edge.Provider = "sobel"
	return cfg
}

func TestRunWithFakeProvider(t *testing.T) {
	in := t.TempDir()
	a := writeFrame(t, in, "harbour_a.png", 200, 100)
	b := writeFrame(t, in, "harbour_b.jpg", 200, 100)

	cfg := testConfig(t)
	cfg.Output.SaveChips = true
	provider := &fakeProvider{width: 200, height: 100, ship: image.Rect(50, 30, 90, 70)}
	p, err := New(cfg, provider, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	report, err := p.Run(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if diff := cmp.Diff([]string{"harbour_a", "harbour_b"}, report.Names()); diff != "" {
		t.Errorf("Unexpected frames (-want +got):\n%s", diff)
	}
	if provider.calls != 1 {
		t.Errorf("Expected the provider to run once per batch, got %d", provider.calls)
	}
	if report.Provider != "fake" || report.Backend != "native" || report.RunID == "" {
		t.Errorf("Unexpected report header %+v", report)
	}
	if report.TotalBoxes() != 2 {
		t.Errorf("Expected 2 boxes in total, got %d", report.TotalBoxes())
	}

	res := report.Frames["harbour_a"]
	expected := []types.BoundingBox{{X: 33, Y: 13, Width: 78, Height: 78}}
	if diff := cmp.Diff(expected, res.Boxes); diff != "" {
		t.Errorf("Unexpected boxes (-want +got):\n%s", diff)
	}

	out := cfg.General.OutputDir
	for _, path := range []string{
		filepath.Join(out, "harbour_a_mask_bbox.png"),
		filepath.Join(out, "harbour_a_boxed.tiff"),
		filepath.Join(out, "harbour_a_boxed.png"),
		filepath.Join(out, "harbour_a_boxes.json"),
		filepath.Join(out, "chips", "harbour_a_ship_0.png"),
		filepath.Join(out, "harbour_b_boxed.tiff"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected %s to exist: %v", path, err)
		}
	}
	if res.Mask != filepath.Join(out, "harbour_a_mask_bbox.png") || res.Viewer != filepath.Join(out, "harbour_a_boxed.png") {
		t.Errorf("Unexpected output paths %+v", res)
	}

	data, err := os.ReadFile(res.Report)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	var saved FrameResult
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("Report is not valid JSON: %v", err)
	}
	if diff := cmp.Diff(res.Boxes, saved.Boxes); diff != "" {
		t.Errorf("Report boxes differ (-want +got):\n%s", diff)
	}
}

func TestRunMaskMatchesBoxes(t *testing.T) {
	in := t.TempDir()
	src := writeFrame(t, in, "sea.png", 200, 100)

	cfg := testConfig(t)
	p, err := New(cfg, &fakeProvider{width: 200, height: 100, ship: image.Rect(50, 30, 90, 70)}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	report, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	res := report.Frames["sea"]
	mask, err := imaging.Open(res.Mask)
	if err != nil {
		t.Fatalf("Failed to open mask: %v", err)
	}
	box := res.Boxes[0].Rect()
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			r, _, _, _ := mask.At(x, y).RGBA()
			inside := image.Pt(x, y).In(box)
			if inside != (r>>8 == 255) {
				t.Fatalf("Mask pixel (%d,%d) = %d, inside box %v", x, y, r>>8, inside)
			}
		}
	}
}

func TestRunResizesSameAspectMap(t *testing.T) {
	in := t.TempDir()
	src := writeFrame(t, in, "sea.png", 200, 100)

	cfg := testConfig(t)
	p, err := New(cfg, &fakeProvider{width: 100, height: 50, ship: image.Rect(25, 15, 45, 35)}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	report, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res := report.Frames["sea"]
	if !res.Resized {
		t.Error("Expected the edge map to be marked resized")
	}
	if len(res.Boxes) != 1 {
		t.Errorf("Expected 1 box, got %v", res.Boxes)
	}
}

func TestRunDimensionMismatch(t *testing.T) {
	in := t.TempDir()
	src := writeFrame(t, in, "sea.png", 200, 100)

	p, err := New(testConfig(t), &fakeProvider{width: 100, height: 100}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = p.Run(context.Background(), src)
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("Expected RunError, got %v", err)
	}
	if runErr.Stage != StageMatch || runErr.Input != "sea" {
		t.Errorf("Expected match failure for sea, got stage %s input %s", runErr.Stage, runErr.Input)
	}
	if !errors.Is(err, processing.ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch, got %v", err)
	}
}

func TestRunInputErrors(t *testing.T) {
	p, err := New(testConfig(t), &fakeProvider{width: 10, height: 10}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := p.Run(context.Background()); !errors.Is(err, ErrNoInputs) {
		t.Errorf("Expected ErrNoInputs, got %v", err)
	}

	var runErr *RunError
	_, err = p.Run(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	if !errors.As(err, &runErr) || runErr.Stage != StageInput {
		t.Errorf("Expected input stage error, got %v", err)
	}

	a, b := t.TempDir(), t.TempDir()
	_, err = p.Run(context.Background(), writeFrame(t, a, "dup.png", 10, 10), writeFrame(t, b, "dup.jpg", 10, 10))
	if !errors.Is(err, ErrDuplicateInput) {
		t.Errorf("Expected ErrDuplicateInput, got %v", err)
	}
}

func TestRunDirectoryInput(t *testing.T) {
	in := t.TempDir()
	writeFrame(t, in, "one.png", 200, 100)
	writeFrame(t, in, "two.png", 200, 100)
	if err := os.WriteFile(filepath.Join(in, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := New(testConfig(t), &fakeProvider{width: 200, height: 100, ship: image.Rect(50, 30, 90, 70)}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	report, err := p.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if diff := cmp.Diff([]string{"one", "two"}, report.Names()); diff != "" {
		t.Errorf("Unexpected frames (-want +got):\n%s", diff)
	}
}

func TestRunWithSobelProvider(t *testing.T) {
	in := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	hull := image.Rect(70, 40, 130, 70)
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			c := color.NRGBA{R: 20, G: 40, B: 90, A: 255}
			if image.Pt(x, y).In(hull) {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	src := filepath.Join(in, "ship.png")
	if err := imaging.Save(img, src); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t)
	// thin gradient outlines do not survive erosion
	cfg.Morphology.ErodeIterations = 0
	p, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.Provider().Name() != "sobel" {
		t.Fatalf("Expected sobel provider, got %s", p.Provider().Name())
	}

	report, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res := report.Frames["ship"]
	if res == nil || len(res.Boxes) == 0 {
		t.Fatalf("Expected at least one box, got %+v", res)
	}
	found := false
	for _, box := range res.Boxes {
		if box.Rect().Overlaps(hull) {
			found = true
		}
		if box.X < 0 || box.Y < 0 || box.X+box.Width > 200 || box.Y+box.Height > 100 {
			t.Errorf("Box %v outside image", box)
		}
	}
	if !found {
		t.Errorf("Expected a box over the hull, got %v", res.Boxes)
	}
}

func TestRunMissingCheckpoint(t *testing.T) {
	in := t.TempDir()
	src := writeFrame(t, in, "sea.png", 20, 10)

	cfg := testConfig(t)
	cfg.Edge.Provider = rcf.ProviderName
	cfg.Edge.Checkpoint = filepath.Join(t.TempDir(), "absent.pth")
	p, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = p.Run(context.Background(), src)
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Stage != StageEdge {
		t.Fatalf("Expected edge stage RunError, got %v", err)
	}
	if !errors.Is(err, rcf.ErrCheckpointMissing) {
		t.Errorf("Expected ErrCheckpointMissing, got %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	cfg := testConfig(t)
	for _, name := range []string{"rcf", "http", "sobel"} {
		cfg.Edge.Provider = name
		provider, err := NewProvider(cfg, nil)
		if err != nil {
			t.Errorf("NewProvider(%s) failed: %v", name, err)
			continue
		}
		if provider.Name() != name {
			t.Errorf("Expected provider %s, got %s", name, provider.Name())
		}
	}

	cfg.Edge.Provider = "canny"
	if _, err := NewProvider(cfg, nil); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Workers = 0
	if _, err := New(cfg, &fakeProvider{}, nil); err == nil {
		t.Error("Expected configuration error")
	}
}

func TestRunErrorMessage(t *testing.T) {
	err := &RunError{RunID: "r1", Stage: StageLoad, Input: "sea", Err: errors.New("boom")}
	if err.Error() != "run r1: load sea: boom" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	err.Input = ""
	if err.Error() != "run r1: load: boom" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}
