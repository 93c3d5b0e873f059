package reconstruction

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"mrirecon/internal/models"
)

// calculateMetrics compares the resized input scan with its normalized
// reconstruction. Both are compared in the [0,1] range.
func calculateMetrics(input *image.Gray, output *mat.Dense) models.Metrics {
	rows, cols := output.Dims()
	if input == nil || input.Bounds().Dx() != cols || input.Bounds().Dy() != rows {
		return models.Metrics{}
	}

	original := grayToFloat(input)
	reconstructed := make([]float64, rows*cols)
	copy(reconstructed, output.RawMatrix().Data)

	return models.Metrics{
		MI:            calculateMutualInformation(original, reconstructed),
		EntropyDiff:   calculateEntropyDifference(original, reconstructed),
		RMSE:          calculateRMSE(original, reconstructed),
		SSIM:          calculateSSIM(original, reconstructed),
		EdgePreserved: calculateEdgePreservation(original, reconstructed, cols, rows),
	}
}

// grayToFloat converts an 8-bit grayscale image to a row-major float array
// in the 0-1 range
func grayToFloat(img *image.Gray) []float64 {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	result := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			result[y*width+x] = float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 255.0
		}
	}

	return result
}

// calculateMutualInformation approximates the mutual information of two
// datasets assuming both are Gaussian:
// MI ≈ 0.5 * log(var(X) * var(Y) / (var(X) * var(Y) - cov(X,Y)²))
func calculateMutualInformation(original, reconstructed []float64) float64 {
	if len(original) != len(reconstructed) || len(original) == 0 {
		return 0
	}

	varOrig := stat.Variance(original, nil)
	varRecon := stat.Variance(reconstructed, nil)
	covar := stat.Covariance(original, reconstructed, nil)

	if varOrig > 0 && varRecon > 0 {
		determinant := varOrig*varRecon - covar*covar
		if determinant > 0 {
			return 0.5 * math.Log(varOrig*varRecon/determinant)
		}
	}

	return 0
}

// calculateRMSE computes the root mean square error
func calculateRMSE(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	return floats.Distance(original, reconstructed, 2) / math.Sqrt(float64(n))
}

// SSIM stabilizers for a [0,1] dynamic range.
const (
	ssimC1 = 0.01 * 0.01
	ssimC2 = 0.03 * 0.03
)

// calculateSSIM computes a single-window Structural Similarity Index over
// the whole image
func calculateSSIM(original, reconstructed []float64) float64 {
	if len(original) != len(reconstructed) || len(original) < 2 {
		return 0
	}

	meanX, varX := stat.MeanVariance(original, nil)
	meanY, varY := stat.MeanVariance(reconstructed, nil)
	cov := stat.Covariance(original, reconstructed, nil)

	den := (meanX*meanX + meanY*meanY + ssimC1) * (varX + varY + ssimC2)
	if den <= 0 {
		return 0
	}
	return (2*meanX*meanY + ssimC1) * (2*cov + ssimC2) / den
}

// calculateEntropyDifference computes the absolute entropy difference
func calculateEntropyDifference(original, reconstructed []float64) float64 {
	if len(original) != len(reconstructed) || len(original) == 0 {
		return 0
	}

	return math.Abs(calculateEntropy(original) - calculateEntropy(reconstructed))
}

const entropyBins = 256

// calculateEntropy returns the Shannon entropy in bits of data binned into
// entropyBins equal bins over its own range. Constant data has none.
func calculateEntropy(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)

	dividers := floats.Span(make([]float64, entropyBins+1), lo, hi)
	dividers[entropyBins] = math.Nextafter(hi, math.Inf(1))

	p := stat.Histogram(nil, dividers, sorted, nil)
	floats.Scale(1/float64(len(data)), p)
	return stat.Entropy(p) / math.Ln2
}

// calculateEdgePreservation correlates the Sobel gradient magnitudes of both
// images. A flat image has no edges to preserve and yields 0.
func calculateEdgePreservation(original, reconstructed []float64, width, height int) float64 {
	edgesOrig := sobelMagnitude(original, width, height)
	edgesRecon := sobelMagnitude(reconstructed, width, height)

	correlation := stat.Correlation(edgesOrig, edgesRecon, nil)
	if math.IsNaN(correlation) || math.IsInf(correlation, 0) {
		return 0
	}
	return correlation
}

// sobelMagnitude returns the gradient magnitude of a row-major image.
// Border pixels are left at zero.
func sobelMagnitude(data []float64, width, height int) []float64 {
	out := make([]float64, width*height)
	at := func(x, y int) float64 { return data[y*width+x] }

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			gx := -at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1) +
				at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			out[y*width+x] = math.Hypot(gx, gy)
		}
	}

	return out
}
