// Package logowidth estimates how wide a logo image must be displayed so that
// its visible artwork, not its transparent margins, reaches a target width.
package logowidth

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/logo-placer/pkg/types"
)

// Estimator scans sampled rows of a logo for its visible horizontal extent
type Estimator struct {
	config Config
}

// Config holds configuration for the row scan
type Config struct {
	// RowStride is the distance between sampled rows
	RowStride int
	// GrayThreshold is the channel mean above which a pixel is visible
	GrayThreshold float64
	// AlphaThreshold is the alpha above which a pixel is visible
	AlphaThreshold uint8
}

// DefaultConfig samples every 20th row
func DefaultConfig() Config {
	return Config{
		RowStride:      20,
		GrayThreshold:  5,
		AlphaThreshold: 200,
	}
}

// New creates an Estimator with default configuration
func New() *Estimator {
	return &Estimator{config: DefaultConfig()}
}

// NewWithConfig creates an Estimator with custom configuration
func NewWithConfig(config Config) *Estimator {
	if config.RowStride < 1 {
		config.RowStride = DefaultConfig().RowStride
	}
	return &Estimator{config: config}
}

// Span is the visible horizontal interval found by the scan
type Span struct {
	Start int
	End   int
	Width int
}

// Scan finds the leftmost and rightmost visible columns over the sampled rows.
// Start begins at Width-1 and End at 0; each sampled row lowers Start to its
// first visible column from the left and raises End to its first visible
// column from the right.
func (e *Estimator) Scan(img image.Image) (Span, error) {
	if img == nil {
		return Span{}, fmt.Errorf("%w: nil logo image", types.ErrInvalidInput)
	}
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return Span{}, fmt.Errorf("%w: logo has zero area", types.ErrDegenerateLogo)
	}

	span := Span{Start: w - 1, End: 0, Width: w}
	found := false
	for y := 0; y < h; y += e.config.RowStride {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			if e.visible(row[x*4 : x*4+4]) {
				found = true
				if x < span.Start {
					span.Start = x
				}
				break
			}
		}
		for x := w - 1; x >= 0; x-- {
			if e.visible(row[x*4 : x*4+4]) {
				if x > span.End {
					span.End = x
				}
				break
			}
		}
	}

	if !found {
		return span, fmt.Errorf("%w: no visible pixel in sampled rows", types.ErrDegenerateLogo)
	}
	return span, nil
}

func (e *Estimator) visible(p []uint8) bool {
	gray := float64(int(p[0])+int(p[1])+int(p[2])) / 3
	return gray > e.config.GrayThreshold || p[3] > e.config.AlphaThreshold
}

// Estimate returns displaySize * imageWidth / (End - Start). A logo whose
// visible extent is a single column or less yields ErrDegenerateLogo.
func (e *Estimator) Estimate(img image.Image, displaySize float64) (float64, error) {
	span, err := e.Scan(img)
	if err != nil {
		return 0, err
	}
	extent := span.End - span.Start
	if extent <= 0 {
		return 0, fmt.Errorf("%w: visible extent %d..%d", types.ErrDegenerateLogo, span.Start, span.End)
	}
	return displaySize * float64(span.Width) / float64(extent), nil
}
