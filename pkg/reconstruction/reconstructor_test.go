package reconstruction

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"

	"mrirecon/internal/models"
)

// fakeModel applies fn element-wise to the input and reports how often it ran
type fakeModel struct {
	calls int
	fn    func(v float32) float32
	shape []int
	err   error
}

func (m *fakeModel) Predict(input *tensor.Dense) (*tensor.Dense, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	in := input.Data().([]float32)
	out := make([]float32, len(in))
	for i, v := range in {
		if m.fn != nil {
			out[i] = m.fn(v)
		} else {
			out[i] = v
		}
	}

	shape := []int(input.Shape().Clone())
	if m.shape != nil {
		shape = m.shape
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// writePNG creates a grayscale PNG with the specified dimensions and pattern
func writePNG(t *testing.T, dir, name string, width, height int, pattern func(x, y int) uint8) string {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: pattern(x, y)})
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return path
}

func gradient(width int) func(x, y int) uint8 {
	return func(x, _ int) uint8 {
		return uint8(x * 255 / (width - 1))
	}
}

func newTestReconstructor(model Model) *Reconstructor {
	return NewReconstructor(model, DefaultParams())
}

// TestNewReconstructor verifies that a new reconstructor is correctly initialized
func TestNewReconstructor(t *testing.T) {
	params := &Params{Width: 64, Height: 32}
	model := &fakeModel{}

	reconstructor := NewReconstructor(model, params)

	if reconstructor.params != params {
		t.Errorf("Reconstructor should use the provided params")
	}
	if reconstructor.logger == nil {
		t.Errorf("Reconstructor should fall back to the default logger")
	}

	defaults := NewReconstructor(model, nil)
	if defaults.params.Width != DefaultWidth || defaults.params.Height != DefaultHeight {
		t.Errorf("Expected default size %dx%d, got %dx%d",
			DefaultWidth, DefaultHeight, defaults.params.Width, defaults.params.Height)
	}
}

// TestLoadScanShape verifies that any input resolution yields a
// [1,320,640,1] tensor in the 0-1 range
func TestLoadScanShape(t *testing.T) {
	dir := t.TempDir()
	reconstructor := newTestReconstructor(&fakeModel{})

	testCases := []struct {
		name          string
		width, height int
	}{
		{"single pixel", 1, 1},
		{"square", 256, 256},
		{"tall", 37, 1000},
		{"exact model size", DefaultWidth, DefaultHeight},
		{"larger than model", 1280, 960},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writePNG(t, dir, tc.name+".png", tc.width, tc.height, func(x, y int) uint8 {
				return uint8((x*7 + y*13) % 256)
			})

			scan, err := reconstructor.LoadScan(path)
			if err != nil {
				t.Fatalf("LoadScan failed: %v", err)
			}

			expected := tensor.Shape{1, DefaultHeight, DefaultWidth, 1}
			if !scan.Tensor.Shape().Eq(expected) {
				t.Fatalf("Expected shape %v, got %v", expected, scan.Tensor.Shape())
			}

			for i, v := range scan.Tensor.Data().([]float32) {
				if v < 0 || v > 1 {
					t.Fatalf("Value %d out of range: %f", i, v)
				}
			}

			w, h := scan.OriginalSize()
			if w != tc.width || h != tc.height {
				t.Errorf("Expected original size %dx%d, got %dx%d", tc.width, tc.height, w, h)
			}
		})
	}
}

// TestLoadScanAllWhite loads a 256x256 white image and expects a tensor of ones
func TestLoadScanAllWhite(t *testing.T) {
	path := writePNG(t, t.TempDir(), "white.png", 256, 256, func(x, y int) uint8 { return 255 })

	scan, err := newTestReconstructor(&fakeModel{}).LoadScan(path)
	if err != nil {
		t.Fatalf("LoadScan failed: %v", err)
	}

	data := scan.Tensor.Data().([]float32)
	if len(data) != DefaultWidth*DefaultHeight {
		t.Fatalf("Expected %d values, got %d", DefaultWidth*DefaultHeight, len(data))
	}
	for i, v := range data {
		if v != 1.0 {
			t.Fatalf("Expected 1.0 at %d, got %f", i, v)
		}
	}
}

// TestLoadScanIdempotent verifies loading the same file twice gives identical tensors
func TestLoadScanIdempotent(t *testing.T) {
	path := writePNG(t, t.TempDir(), "scan.png", 300, 200, func(x, y int) uint8 {
		return uint8((x ^ y) & 0xff)
	})
	reconstructor := newTestReconstructor(&fakeModel{})

	first, err := reconstructor.LoadScan(path)
	if err != nil {
		t.Fatalf("First load failed: %v", err)
	}
	second, err := reconstructor.LoadScan(path)
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}

	a := first.Tensor.Data().([]float32)
	b := second.Tensor.Data().([]float32)
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			t.Fatalf("Tensors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}

	if first.Digest == "" || first.Digest != second.Digest {
		t.Errorf("Expected equal non-empty digests, got %q and %q", first.Digest, second.Digest)
	}
}

// TestLoadScanColorInput verifies color input is reduced to luma
func TestLoadScanColorInput(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	path := filepath.Join(dir, "red.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("Failed to save test image: %v", err)
	}

	scan, err := newTestReconstructor(&fakeModel{}).LoadScan(path)
	if err != nil {
		t.Fatalf("LoadScan failed: %v", err)
	}

	want := color.GrayModel.Convert(color.RGBA{R: 255, A: 255}).(color.Gray).Y
	if got := scan.Source.GrayAt(3, 3).Y; got != want {
		t.Errorf("Expected luma %d, got %d", want, got)
	}
}

// TestLoadScanFailures verifies decode failures are tagged ScanDecodeFailure
func TestLoadScanFailures(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.png")
	if err := os.WriteFile(corrupt, []byte("\x89PNG not really"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("patient notes"), 0644); err != nil {
		t.Fatalf("Failed to write text file: %v", err)
	}

	testCases := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "does-not-exist.png")},
		{"corrupt data", corrupt},
		{"unsupported format", text},
		{"directory", dir},
	}

	reconstructor := newTestReconstructor(&fakeModel{})
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			scan, err := reconstructor.LoadScan(tc.path)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if scan != nil {
				t.Errorf("Expected no scan on failure")
			}
			if !errors.Is(err, ErrScanDecode) {
				t.Errorf("Expected ErrScanDecode, got %v", err)
			}
			if KindOf(err) != ScanDecodeFailure {
				t.Errorf("Expected kind %v, got %v", ScanDecodeFailure, KindOf(err))
			}
		})
	}
}

func loadGradient(t *testing.T, reconstructor *Reconstructor) *models.Scan {
	t.Helper()
	path := writePNG(t, t.TempDir(), "gradient.png", DefaultWidth, DefaultHeight, gradient(DefaultWidth))
	scan, err := reconstructor.LoadScan(path)
	if err != nil {
		t.Fatalf("LoadScan failed: %v", err)
	}
	return scan
}

// TestReconstructNormalizes verifies min maps to 0 and max to 1 regardless
// of the model's output range
func TestReconstructNormalizes(t *testing.T) {
	testCases := []struct {
		name string
		fn   func(v float32) float32
	}{
		{"identity", func(v float32) float32 { return v }},
		{"scaled and shifted", func(v float32) float32 { return 40*v - 7 }},
		{"inverted", func(v float32) float32 { return -v }},
		{"tiny range", func(v float32) float32 { return 1 + v/1000 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			model := &fakeModel{fn: tc.fn}
			reconstructor := newTestReconstructor(model)
			scan := loadGradient(t, reconstructor)

			result, err := reconstructor.Reconstruct(context.Background(), scan)
			if err != nil {
				t.Fatalf("Reconstruct failed: %v", err)
			}
			if model.calls != 1 {
				t.Errorf("Expected 1 model call, got %d", model.calls)
			}

			width, height := result.Size()
			if width != DefaultWidth || height != DefaultHeight {
				t.Fatalf("Expected %dx%d result, got %dx%d", DefaultWidth, DefaultHeight, width, height)
			}

			data := result.Image.RawMatrix().Data
			lo, hi := data[0], data[0]
			for _, v := range data {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
			if math.Abs(lo) > 1e-9 || math.Abs(hi-1) > 1e-9 {
				t.Errorf("Expected range [0,1], got [%g,%g]", lo, hi)
			}
			if result.RawMax <= result.RawMin {
				t.Errorf("Expected raw max > raw min, got %g and %g", result.RawMax, result.RawMin)
			}
			if result.Scan != scan {
				t.Errorf("Result should reference its scan")
			}
		})
	}
}

// TestReconstructSqueezesLowerRankOutput accepts outputs without the channel axis
func TestReconstructSqueezesLowerRankOutput(t *testing.T) {
	model := &fakeModel{shape: []int{1, DefaultHeight, DefaultWidth}}
	reconstructor := newTestReconstructor(model)
	scan := loadGradient(t, reconstructor)

	result, err := reconstructor.Reconstruct(context.Background(), scan)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if rows, cols := result.Image.Dims(); rows != DefaultHeight || cols != DefaultWidth {
		t.Errorf("Expected %dx%d matrix, got %dx%d", DefaultHeight, DefaultWidth, rows, cols)
	}
}

// TestReconstructWithoutScan must not call the model
func TestReconstructWithoutScan(t *testing.T) {
	model := &fakeModel{}
	reconstructor := newTestReconstructor(model)

	result, err := reconstructor.Reconstruct(context.Background(), nil)
	if !errors.Is(err, ErrNoScan) {
		t.Errorf("Expected ErrNoScan, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected no result")
	}
	if model.calls != 0 {
		t.Errorf("Model should not be invoked, got %d calls", model.calls)
	}
}

// TestReconstructCanceled stops before inference when the context is done
func TestReconstructCanceled(t *testing.T) {
	model := &fakeModel{}
	reconstructor := newTestReconstructor(model)
	scan := loadGradient(t, reconstructor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reconstructor.Reconstruct(ctx, scan)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if !errors.Is(err, ErrInference) || KindOf(err) != InferenceFailure {
		t.Errorf("Expected an InferenceFailure, got %v", err)
	}
	if model.calls != 0 {
		t.Errorf("Model should not be invoked, got %d calls", model.calls)
	}
}

// TestReconstructFailures verifies every inference problem is an InferenceFailure
func TestReconstructFailures(t *testing.T) {
	modelErr := errors.New("out of memory")

	testCases := []struct {
		name  string
		model *fakeModel
		cause error
	}{
		{"constant output", &fakeModel{fn: func(float32) float32 { return 0.5 }}, ErrFlatOutput},
		{"NaN output", &fakeModel{fn: func(float32) float32 { return float32(math.NaN()) }}, ErrNonFinite},
		{"infinite output", &fakeModel{fn: func(float32) float32 { return float32(math.Inf(1)) }}, ErrNonFinite},
		{"multi-channel output", &fakeModel{shape: []int{1, DefaultHeight / 2, DefaultWidth, 2}}, ErrOutputShape},
		{"model error", &fakeModel{err: modelErr}, modelErr},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reconstructor := newTestReconstructor(tc.model)
			scan := loadGradient(t, reconstructor)
			before := append([]float32(nil), scan.Tensor.Data().([]float32)...)

			result, err := reconstructor.Reconstruct(context.Background(), scan)
			if result != nil {
				t.Errorf("Expected no result on failure")
			}
			if !errors.Is(err, ErrInference) {
				t.Errorf("Expected ErrInference, got %v", err)
			}
			if !errors.Is(err, tc.cause) {
				t.Errorf("Expected cause %v, got %v", tc.cause, err)
			}

			after := scan.Tensor.Data().([]float32)
			for i := range before {
				if before[i] != after[i] {
					t.Fatalf("Scan tensor modified at %d", i)
				}
			}
		})
	}
}

// TestReconstructMetrics checks that an identity model scores as a near
// perfect reconstruction
func TestReconstructMetrics(t *testing.T) {
	reconstructor := newTestReconstructor(&fakeModel{})
	scan := loadGradient(t, reconstructor)

	result, err := reconstructor.Reconstruct(context.Background(), scan)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	m := result.Metrics
	if m.RMSE > 0.01 {
		t.Errorf("Expected RMSE near 0, got %f", m.RMSE)
	}
	if m.SSIM < 0.99 {
		t.Errorf("Expected SSIM near 1, got %f", m.SSIM)
	}
	if m.EdgePreserved < 0.99 {
		t.Errorf("Expected edge preservation near 1, got %f", m.EdgePreserved)
	}
	if m.EntropyDiff > 0.01 {
		t.Errorf("Expected entropy difference near 0, got %f", m.EntropyDiff)
	}
}

// TestSaveRoundTrip saves a reconstruction in every lossless format and
// reloads it within quantization error
func TestSaveRoundTrip(t *testing.T) {
	reconstructor := newTestReconstructor(&fakeModel{fn: func(v float32) float32 { return v * v }})
	scan := loadGradient(t, reconstructor)

	result, err := reconstructor.Reconstruct(context.Background(), scan)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	dir := t.TempDir()
	for _, ext := range []string{"png", "bmp", "tif", "tiff", "gif"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, ext, "out", "reconstructed."+ext)
			if err := reconstructor.Save(result, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			decoded, err := imaging.Open(path)
			if err != nil {
				t.Fatalf("Failed to decode saved image: %v", err)
			}
			gray := toGray(decoded)

			width, height := result.Size()
			if b := gray.Bounds(); b.Dx() != width || b.Dy() != height {
				t.Fatalf("Expected %dx%d, got %dx%d", width, height, b.Dx(), b.Dy())
			}
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					want := result.Image.At(y, x)
					got := float64(gray.GrayAt(x, y).Y) / 255
					if math.Abs(want-got) > 1.0/255+1e-12 {
						t.Fatalf("Pixel (%d,%d): expected %f, got %f", x, y, want, got)
					}
				}
			}
		})
	}

	t.Run("png stays 8-bit gray", func(t *testing.T) {
		path := filepath.Join(dir, "png", "out", "reconstructed.png")
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("Failed to open saved image: %v", err)
		}
		defer f.Close()

		decoded, err := png.Decode(f)
		if err != nil {
			t.Fatalf("Failed to decode saved image: %v", err)
		}
		if _, ok := decoded.(*image.Gray); !ok {
			t.Errorf("Expected 8-bit grayscale output, got %T", decoded)
		}
	})
}

// TestGrayQuantizer covers every gray level exactly once
func TestGrayQuantizer(t *testing.T) {
	p := grayQuantizer{}.Quantize(make(color.Palette, 0, 256), nil)
	if len(p) != 256 {
		t.Fatalf("Expected 256 colors, got %d", len(p))
	}
	for i := 0; i < 256; i++ {
		if idx := p.Index(color.Gray{Y: uint8(i)}); idx != i {
			t.Errorf("Gray %d maps to index %d", i, idx)
		}
	}
}

// TestSaveFailures verifies save errors are tagged SaveFailure
func TestSaveFailures(t *testing.T) {
	dir := t.TempDir()
	reconstructor := newTestReconstructor(&fakeModel{})
	scan := loadGradient(t, reconstructor)
	result, err := reconstructor.Reconstruct(context.Background(), scan)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocking file: %v", err)
	}

	testCases := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"unknown extension", filepath.Join(dir, "out.xyz")},
		{"parent is a file", filepath.Join(blocker, "out.png")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := reconstructor.Save(result, tc.path)
			if !errors.Is(err, ErrSave) {
				t.Errorf("Expected ErrSave, got %v", err)
			}
		})
	}

	if err := reconstructor.Save(nil, filepath.Join(dir, "out.png")); !errors.Is(err, ErrNoResult) {
		t.Errorf("Expected ErrNoResult, got %v", err)
	}
}

// TestErrorFormatting verifies tagged errors read well in a status line
func TestErrorFormatting(t *testing.T) {
	err := newError(ScanDecodeFailure, "decode", "scan.png", errors.New("bad header"))
	if got, want := err.Error(), "scan decode failure: decode scan.png: bad header"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	err = newError(InferenceFailure, "predict", "", errors.New("boom"))
	if got, want := err.Error(), "inference failure: predict: boom"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	if errors.Is(err, ErrSave) {
		t.Errorf("InferenceFailure must not match ErrSave")
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Errorf("Plain errors have no kind")
	}
}
