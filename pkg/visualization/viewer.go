// Package visualization renders reconstructed scans on a terminal.
//
// Each 2x4 block of pixels becomes one unicode braille symbol, so a
// 640x320 reconstruction fits in 80 columns at a quarter of its width.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"mrirecon/internal/models"
	"mrirecon/pkg/reconstruction"
)

// Options controls how a reconstruction is drawn
type Options struct {
	// Columns and Lines bound the output in terminal cells. The image is
	// scaled down to fit, keeping its aspect ratio; it is never enlarged.
	Columns int
	Lines   int

	// Gamma is applied before dithering; 1.0 leaves the image unchanged
	Gamma float64

	// Invert swaps filled and empty dots, for light terminal backgrounds
	Invert bool
}

// DefaultOptions returns options for an 80x25 terminal
func DefaultOptions() Options {
	return Options{
		Columns: 80,
		Lines:   25,
		Gamma:   1.0,
	}
}

// monochrome is the dithering palette; index 1 lights a braille dot
var monochrome = color.Palette{color.Black, color.White}

// Viewer displays a single reconstruction
type Viewer struct {
	// result is the reconstruction being displayed
	result *models.Result
}

// NewViewer creates a viewer for a reconstruction
func NewViewer(result *models.Result) *Viewer {
	return &Viewer{result: result}
}

// Image returns the reconstruction as an 8-bit grayscale image, exactly as
// it would be saved
func (v *Viewer) Image() (*image.Gray, error) {
	if v.result == nil || v.result.Image == nil {
		return nil, reconstruction.ErrNoResult
	}
	return v.result.Gray(), nil
}

// Render writes the reconstruction to w as rows of braille symbols.
//
// The image is scaled to fit Columns*2 x Lines*4 pixels, gamma corrected,
// optionally inverted and then dithered to black and white with
// Floyd-Steinberg error diffusion. Bright pixels become filled dots.
func (v *Viewer) Render(w io.Writer, opts Options) error {
	img, err := v.Image()
	if err != nil {
		return err
	}
	if opts.Columns <= 0 || opts.Lines <= 0 {
		return fmt.Errorf("preview needs a positive size, got %dx%d", opts.Columns, opts.Lines)
	}

	// Multiply cols by 2 since each braille symbol is 2 pixels wide
	// Multiply lines by 4 since each braille symbol is 4 pixels high
	var src image.Image = resize.Thumbnail(uint(opts.Columns*2), uint(opts.Lines*4), img, resize.Bilinear)

	if opts.Gamma > 0 && opts.Gamma != 1.0 {
		src = imaging.AdjustGamma(src, opts.Gamma)
	}
	if opts.Invert {
		src = imaging.Invert(src)
	}

	paletted := image.NewPaletted(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()), monochrome)
	draw.FloydSteinberg.Draw(paletted, paletted.Bounds(), src, src.Bounds().Min)

	return encodeBraille(w, paletted)
}

// encodeBraille writes one braille symbol per 2x4 block of img, one line per
// four pixel rows. Partial blocks at the right and bottom edges are padded
// with empty dots.
func encodeBraille(w io.Writer, img *image.Paletted) error {
	bounds := img.Bounds()
	line := make([]rune, 0, (bounds.Dx()+1)/2+1)

	for py := bounds.Min.Y; py < bounds.Max.Y; py += 4 {
		line = line[:0]
		for px := bounds.Min.X; px < bounds.Max.X; px += 2 {
			var b braille
			for y := 0; y < 4; y++ {
				for x := 0; x < 2; x++ {
					if px+x >= bounds.Max.X || py+y >= bounds.Max.Y {
						continue
					}
					if img.ColorIndexAt(px+x, py+y) == 1 {
						b[x][y] = 1
					}
				}
			}
			line = append(line, b.Rune())
		}
		line = append(line, '\n')
		if _, err := io.WriteString(w, string(line)); err != nil {
			return err
		}
	}
	return nil
}

// braille is an 8 dot pattern in x,y coordinates:
//
//	+----------+
//	|(0,0)(1,0)|
//	|(0,1)(1,1)|
//	|(0,2)(1,2)|
//	|(0,3)(1,3)|
//	+----------+
type braille [2][4]int

// Rune maps each dot to its unicode bit (dots 1-8 in column order, with the
// bottom row last) and offsets it into the braille block at U+2800
func (b braille) Rune() rune {
	order := [8]int{b[0][0], b[0][1], b[0][2], b[1][0], b[1][1], b[1][2], b[0][3], b[1][3]}
	var v int
	for i, dot := range order {
		v += dot << uint(i)
	}
	return rune(v) + '\u2800'
}
