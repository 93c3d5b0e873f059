package reconstruction

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"mrirecon/internal/models"
)

// Model input dimensions the bundled network was trained on.
const (
	DefaultWidth  = 640
	DefaultHeight = 320
)

// Model is a pre-trained image-to-image network. Predict receives a float32
// tensor of shape [1, height, width, 1] and returns the raw network output.
type Model interface {
	Predict(input *tensor.Dense) (*tensor.Dense, error)
}

// Params holds the reconstruction parameters.
type Params struct {
	// Width and Height are the fixed model input dimensions. Scans are
	// resized to exactly this size; aspect ratio is not preserved.
	Width  int
	Height int

	// CreateDirs makes Save create missing parent directories of the
	// output path.
	CreateDirs bool

	// ComputeMetrics enables quality metrics on every reconstruction.
	ComputeMetrics bool

	// Logger receives debug output. slog.Default() is used when nil.
	Logger *slog.Logger
}

// DefaultParams returns the parameters matching the bundled model.
func DefaultParams() *Params {
	return &Params{
		Width:          DefaultWidth,
		Height:         DefaultHeight,
		CreateDirs:     true,
		ComputeMetrics: true,
	}
}

// Reconstructor turns a grayscale scan into a reconstructed image using a
// pre-trained model.
//
// The reconstruction process consists of three steps, each exposed as its
// own operation so the caller owns every intermediate artifact:
// 1. LoadScan decodes, resizes and normalizes a scan into a model input tensor
// 2. Reconstruct runs inference and min-max normalizes the output
// 3. Save quantizes the reconstruction to 8 bits and encodes it
//
// A Reconstructor holds no per-scan state; it is safe to reuse across scans.
type Reconstructor struct {
	// params stores the reconstruction configuration
	params *Params

	// model is loaded once and never replaced
	model Model

	logger *slog.Logger
}

// NewReconstructor creates a new reconstructor around an already loaded model.
//
// Parameters:
//   - model: The loaded network, see package inference
//   - params: Configuration parameters, DefaultParams() when nil
//
// Returns:
//   - A new Reconstructor instance
func NewReconstructor(model Model, params *Params) *Reconstructor {
	if params == nil {
		params = DefaultParams()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{
		params: params,
		model:  model,
		logger: logger,
	}
}

// LoadScan decodes the image at path as grayscale and prepares the model
// input tensor.
//
// The decoded image is resized to exactly Width x Height with bilinear
// interpolation, each pixel is divided by 255 and batch and channel axes
// are added, giving shape [1, Height, Width, 1].
//
// Returns:
//   - The prepared scan, or an *Error of kind ScanDecodeFailure
func (r *Reconstructor) LoadScan(path string) (*models.Scan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ScanDecodeFailure, "read", path, err)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, newError(ScanDecodeFailure, "decode", path, err)
	}

	gray := toGray(src)
	if gray.Bounds().Empty() {
		return nil, newError(ScanDecodeFailure, "decode", path, fmt.Errorf("image has no pixels"))
	}

	resized := resizeGray(gray, r.params.Width, r.params.Height)
	digest := blake2b.Sum256(data)

	scan := &models.Scan{
		Path:    path,
		Digest:  hex.EncodeToString(digest[:]),
		Source:  gray,
		Resized: resized,
		Tensor:  imageToTensor(resized),
	}

	w, h := scan.OriginalSize()
	r.logger.Debug("scan loaded",
		"path", path,
		"width", w,
		"height", h,
		"shape", scan.Tensor.Shape(),
	)
	return scan, nil
}

// Reconstruct runs the model on a loaded scan and normalizes its output so
// the smallest value maps to 0 and the largest to 1.
//
// A constant output cannot be normalized and is reported as an
// InferenceFailure wrapping ErrFlatOutput, as is any NaN or Inf value. The
// scan is never modified.
//
// Returns:
//   - The reconstruction, ErrNoScan if scan is nil, or an *Error of kind
//     InferenceFailure
func (r *Reconstructor) Reconstruct(ctx context.Context, scan *models.Scan) (*models.Result, error) {
	if scan == nil || scan.Tensor == nil {
		return nil, ErrNoScan
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(InferenceFailure, "predict", "", err)
	}

	start := time.Now()
	output, err := r.model.Predict(scan.Tensor)
	elapsed := time.Since(start)
	if err != nil {
		return nil, newError(InferenceFailure, "predict", "", err)
	}
	if output == nil {
		return nil, newError(InferenceFailure, "predict", "", fmt.Errorf("model returned no output"))
	}

	img, err := squeeze(output)
	if err != nil {
		return nil, newError(InferenceFailure, "squeeze", "", err)
	}

	rawMin, rawMax, err := normalize(img)
	if err != nil {
		return nil, newError(InferenceFailure, "normalize", "", err)
	}

	result := &models.Result{
		Scan:      scan,
		Image:     img,
		Duration:  elapsed,
		RawMin:    rawMin,
		RawMax:    rawMax,
		CreatedAt: time.Now(),
	}
	if r.params.ComputeMetrics {
		result.Metrics = calculateMetrics(scan.Resized, img)
	}

	r.logger.Debug("reconstruction finished",
		"path", scan.Path,
		"duration", elapsed,
		"raw_min", rawMin,
		"raw_max", rawMax,
	)
	return result, nil
}

// Save writes the reconstruction as an 8-bit grayscale image. The format is
// chosen from the file extension (png, jpg, jpeg, gif, bmp, tif, tiff).
//
// Returns:
//   - nil on success, ErrNoResult if result is nil, or an *Error of kind
//     SaveFailure
func (r *Reconstructor) Save(result *models.Result, path string) error {
	if result == nil || result.Image == nil {
		return ErrNoResult
	}
	if path == "" {
		return newError(SaveFailure, "save", path, fmt.Errorf("empty output path"))
	}
	if _, err := imaging.FormatFromFilename(path); err != nil {
		return newError(SaveFailure, "save", path, err)
	}

	if r.params.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return newError(SaveFailure, "mkdir", path, err)
		}
	}

	// GIF output keeps every gray level instead of dithering to Plan9.
	err := imaging.Save(result.Gray(), path,
		imaging.GIFQuantizer(grayQuantizer{}),
		imaging.GIFDrawer(draw.Src),
	)
	if err != nil {
		return newError(SaveFailure, "encode", path, err)
	}

	r.logger.Debug("reconstruction saved", "path", path)
	return nil
}

// grayQuantizer yields the 256-level gray palette, so an 8-bit gray image
// maps onto it exactly.
type grayQuantizer struct{}

func (grayQuantizer) Quantize(p color.Palette, _ image.Image) color.Palette {
	for i := 0; i < 256; i++ {
		p = append(p, color.Gray{Y: uint8(i)})
	}
	return p
}

// toGray converts any decoded image to 8-bit grayscale using the
// ITU-R 601 luma weights of color.GrayModel.
func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// resizeGray scales img to exactly width x height with bilinear interpolation
func resizeGray(img *image.Gray, width, height int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// imageToTensor converts a grayscale image into a [1, h, w, 1] tensor with
// values in [0,1]
func imageToTensor(img *image.Gray) *tensor.Dense {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	backing := make([]float32, width*height)

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width]
		for x, v := range row {
			backing[y*width+x] = float32(v) / 255
		}
	}

	return tensor.New(
		tensor.WithShape(1, height, width, 1),
		tensor.WithBacking(backing),
	)
}

// squeeze drops every singleton axis of the model output and returns the
// remaining two axes as a rows x cols matrix
func squeeze(t *tensor.Dense) (*mat.Dense, error) {
	var dims []int
	for _, d := range t.Shape() {
		if d != 1 {
			dims = append(dims, d)
		}
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("%w: shape %v", ErrOutputShape, t.Shape())
	}
	rows, cols := dims[0], dims[1]

	values := make([]float64, rows*cols)
	switch data := t.Data().(type) {
	case []float32:
		if len(data) != len(values) {
			return nil, fmt.Errorf("%w: %d values for shape %v", ErrOutputShape, len(data), t.Shape())
		}
		for i, v := range data {
			values[i] = float64(v)
		}
	case []float64:
		if len(data) != len(values) {
			return nil, fmt.Errorf("%w: %d values for shape %v", ErrOutputShape, len(data), t.Shape())
		}
		copy(values, data)
	default:
		return nil, fmt.Errorf("unsupported output type %v", t.Dtype())
	}

	return mat.NewDense(rows, cols, values), nil
}

// normalize rescales m in place to [0,1] and returns the original extremes
func normalize(m *mat.Dense) (float64, float64, error) {
	raw := m.RawMatrix().Data
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, ErrNonFinite
		}
	}

	lo := floats.Min(raw)
	hi := floats.Max(raw)
	if hi == lo {
		return lo, hi, fmt.Errorf("%w: every value is %g", ErrFlatOutput, lo)
	}

	span := hi - lo
	m.Apply(func(_, _ int, v float64) float64 {
		return (v - lo) / span
	}, m)
	return lo, hi, nil
}
