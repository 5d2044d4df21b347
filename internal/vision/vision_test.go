package vision

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/andresmejia3/facevec/internal/config"
	"github.com/andresmejia3/facevec/internal/types"
	"gocv.io/x/gocv"
)

// writePNG writes a solid w x h image to path using the standard library encoder.
func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestParseDetections(t *testing.T) {
	data := []float32{
		0, 1, 0.98, 0.10, 0.20, 0.50, 0.75,
		0, 1, 0.12, 0.00, 0.00, 0.05, 0.05,
		0, 1, 0.40, -0.015625, 0.5, 1.2, 0.999,
	}

	dets := parseDetections(data, 600, 400)
	if len(dets) != 3 {
		t.Fatalf("Expected 3 detections, got %d", len(dets))
	}

	if dets[0].Confidence != 0.98 {
		t.Errorf("Expected confidence 0.98, got %v", dets[0].Confidence)
	}
	want := image.Rectangle{Min: image.Pt(60, 80), Max: image.Pt(300, 300)}
	if dets[0].Box != want {
		t.Errorf("Expected box %v, got %v", want, dets[0].Box)
	}

	// Out-of-range coordinates are kept as-is and truncated toward zero
	wantOOB := image.Rectangle{Min: image.Pt(-9, 200), Max: image.Pt(720, 399)}
	if dets[2].Box != wantOOB {
		t.Errorf("Expected box %v, got %v", wantOOB, dets[2].Box)
	}

	best, ok := types.Best(dets)
	if !ok || best.Confidence != 0.98 {
		t.Errorf("Best() picked %+v", best)
	}
}

func TestParseDetections_TrailingPartialRow(t *testing.T) {
	data := []float32{0, 1, 0.9, 0, 0, 1, 1, 0, 1}
	if dets := parseDetections(data, 10, 10); len(dets) != 1 {
		t.Errorf("Expected partial row to be ignored, got %d detections", len(dets))
	}
}

func TestToEmbedding(t *testing.T) {
	data := make([]float32, types.EmbeddingDim)
	data[0] = 0.5
	data[127] = -0.25

	vec, err := toEmbedding(data)
	if err != nil {
		t.Fatalf("toEmbedding() failed: %v", err)
	}
	if vec[0] != 0.5 || vec[127] != -0.25 {
		t.Errorf("Values not copied: %v %v", vec[0], vec[127])
	}

	if _, err := toEmbedding(make([]float32, 512)); err == nil {
		t.Error("Expected error for wrong embedding length")
	}
}

func TestResizedSize(t *testing.T) {
	tests := []struct {
		w, h, width int
		want        image.Point
	}{
		{1200, 800, 600, image.Pt(600, 400)},
		{300, 200, 600, image.Pt(600, 400)},
		{1000, 333, 600, image.Pt(600, 199)},
		{10000, 1, 600, image.Pt(600, 1)},
	}

	for _, tt := range tests {
		if got := ResizedSize(tt.w, tt.h, tt.width); got != tt.want {
			t.Errorf("ResizedSize(%d, %d, %d) = %v, want %v", tt.w, tt.h, tt.width, got, tt.want)
		}
	}
}

func TestImageLoader(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "face.png")
	writePNG(t, good, 300, 150)

	loader := NewImageLoader(600)
	img, err := loader.Load(good)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	defer img.Close()

	if img.Cols() != 600 || img.Rows() != 300 {
		t.Errorf("Expected 600x300, got %dx%d", img.Cols(), img.Rows())
	}
	if img.Channels() != 3 {
		t.Errorf("Expected 3 channels, got %d", img.Channels())
	}

	corrupt := filepath.Join(dir, "broken.jpg")
	if err := os.WriteFile(corrupt, []byte("definitely not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Load(corrupt); !errors.Is(err, ErrUndecodable) {
		t.Errorf("Expected ErrUndecodable, got %v", err)
	}

	if _, err := loader.Load(filepath.Join(dir, "missing.png")); !errors.Is(err, ErrUndecodable) {
		t.Errorf("Expected ErrUndecodable for missing file, got %v", err)
	}
}

func TestLoadModels_MissingArtifacts(t *testing.T) {
	cfg := config.Default().Models
	cfg.DetectorDir = t.TempDir()
	cfg.Embedder = filepath.Join(t.TempDir(), "missing.t7")

	detector, embedder, err := LoadModels(cfg)
	if err == nil {
		detector.Close()
		embedder.Close()
		t.Fatal("Expected error for missing model artifacts")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected wrapped os.ErrNotExist, got %v", err)
	}
}

// blobChannels checks the NCHW shape of blob and returns its per-channel planes.
func blobChannels(t *testing.T, blob gocv.Mat, size int) [3][]float32 {
	t.Helper()
	if got, want := blob.Size(), []int{1, 3, size, size}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected blob shape %v, got %v", want, got)
	}
	data, err := blob.DataPtrFloat32()
	if err != nil {
		t.Fatalf("DataPtrFloat32() failed: %v", err)
	}
	plane := size * size
	if len(data) != 3*plane {
		t.Fatalf("Expected %d values, got %d", 3*plane, len(data))
	}
	return [3][]float32{data[:plane], data[plane : 2*plane], data[2*plane:]}
}

func assertPlane(t *testing.T, name string, plane []float32, want float64) {
	t.Helper()
	for i, v := range plane {
		// Use epsilon for float comparison
		if math.Abs(float64(v)-want) > 1e-4 {
			t.Fatalf("%s[%d] = %v, want %v", name, i, v, want)
		}
	}
}

func TestDetectorBlob(t *testing.T) {
	tests := []struct {
		name  string
		bgr   gocv.Scalar
		wantB float64
		wantG float64
		wantR float64
	}{
		{name: "Training mean pixel is zeroed", bgr: gocv.NewScalar(104, 177, 123, 0), wantB: 0, wantG: 0, wantR: 0},
		{name: "Black pixel keeps BGR order", bgr: gocv.NewScalar(0, 0, 0, 0), wantB: -104, wantG: -177, wantR: -123},
		{name: "Unscaled", bgr: gocv.NewScalar(204, 177, 123, 0), wantB: 100, wantG: 0, wantR: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := gocv.NewMatWithSizeFromScalar(tt.bgr, 400, 600, gocv.MatTypeCV8UC3)
			defer img.Close()

			blob := detectorBlob(img)
			defer blob.Close()

			ch := blobChannels(t, blob, 300)
			assertPlane(t, "channel 0", ch[0], tt.wantB)
			assertPlane(t, "channel 1", ch[1], tt.wantG)
			assertPlane(t, "channel 2", ch[2], tt.wantR)
		})
	}
}

func TestEmbedderBlob(t *testing.T) {
	face := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 200, 0), 150, 120, gocv.MatTypeCV8UC3)
	defer face.Close()

	blob := embedderBlob(face)
	defer blob.Close()

	// Channels come out in RGB order, scaled to [0,1].
	ch := blobChannels(t, blob, 96)
	assertPlane(t, "channel 0 (R)", ch[0], 200.0/255)
	assertPlane(t, "channel 1 (G)", ch[1], 20.0/255)
	assertPlane(t, "channel 2 (B)", ch[2], 10.0/255)
}
