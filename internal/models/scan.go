package models

import (
	"image"
	"image/color"
	"time"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Scan represents a single grayscale MRI scan prepared for the model
type Scan struct {
	// Path is the file the scan was decoded from
	Path string

	// Digest is the hex BLAKE2b-256 digest of the source file contents
	Digest string

	// Source is the decoded scan at its original resolution
	Source *image.Gray

	// Resized is the scan scaled to the model input dimensions
	Resized *image.Gray

	// Tensor is the model input: Resized divided by 255 with shape
	// [1, height, width, 1]
	Tensor *tensor.Dense
}

// OriginalSize returns the width and height of the scan before resizing
func (s *Scan) OriginalSize() (int, int) {
	if s == nil || s.Source == nil {
		return 0, 0
	}
	b := s.Source.Bounds()
	return b.Dx(), b.Dy()
}

// Metrics holds quality measurements comparing the resized input scan
// with its reconstruction. Both images are in the [0,1] range.
type Metrics struct {
	// MI is a Gaussian approximation of the mutual information
	MI float64

	// EntropyDiff is the absolute difference of the Shannon entropies
	EntropyDiff float64

	// RMSE is the root mean square error
	RMSE float64

	// SSIM is the global structural similarity index
	SSIM float64

	// EdgePreserved is the correlation between the two gradient magnitude maps
	EdgePreserved float64
}

// Result represents a reconstructed image produced by the model
type Result struct {
	// Scan is the input the result was produced from
	Scan *Scan

	// Image holds the min-max normalized reconstruction, one row per
	// image row. All values are in [0,1].
	Image *mat.Dense

	// Duration is the wall-clock time spent in inference
	Duration time.Duration

	// RawMin and RawMax are the extremes of the model output before
	// normalization
	RawMin float64
	RawMax float64

	// Metrics compares the reconstruction against the resized input
	Metrics Metrics

	// CreatedAt is when inference finished
	CreatedAt time.Time
}

// Size returns the width and height of the reconstruction
func (r *Result) Size() (int, int) {
	if r == nil || r.Image == nil {
		return 0, 0
	}
	rows, cols := r.Image.Dims()
	return cols, rows
}

// Gray converts the reconstruction to an 8-bit grayscale image.
// Each value is multiplied by 255 and truncated.
func (r *Result) Gray() *image.Gray {
	width, height := r.Size()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(r.Image.At(y, x) * 255)})
		}
	}
	return img
}
