// Package features turns garment photos into fixed-size grayscale grids for the classifier.
package features

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/logo-placer/pkg/types"
)

// Extractor resizes images to the model resolution and averages their channels
type Extractor struct {
	config Config
}

// Config holds configuration for feature extraction
type Config struct {
	Size   int
	Filter imaging.ResampleFilter
}

// New creates an Extractor producing 32x32 grids with bilinear resampling
func New() *Extractor {
	return &Extractor{
		config: Config{
			Size:   types.GridSize,
			Filter: imaging.Linear,
		},
	}
}

// NewWithConfig creates an Extractor with custom configuration
func NewWithConfig(config Config) *Extractor {
	if config.Size <= 0 {
		config.Size = types.GridSize
	}
	return &Extractor{config: config}
}

// Extract resizes img and emits (R+G+B)/765 for every pixel in row-major order.
// Alpha is not consulted.
func (e *Extractor) Extract(img image.Image) (types.FeatureGrid, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", types.ErrInvalidInput)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has zero area (%dx%d)", types.ErrInvalidInput, b.Dx(), b.Dy())
	}

	size := e.config.Size
	resized := imaging.Resize(img, size, size, e.config.Filter)

	grid := make(types.FeatureGrid, 0, size*size)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+size*4]
		for x := 0; x < size; x++ {
			p := row[x*4 : x*4+4]
			grid = append(grid, float64(int(p[0])+int(p[1])+int(p[2]))/765)
		}
	}
	return grid, nil
}

// Size returns the grid side length
func (e *Extractor) Size() int {
	return e.config.Size
}

var filters = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"box":        imaging.Box,
	"linear":     imaging.Linear,
	"bilinear":   imaging.Linear,
	"catmullrom": imaging.CatmullRom,
	"lanczos":    imaging.Lanczos,
	"gaussian":   imaging.Gaussian,
}

// FilterByName maps a config name to an imaging resampling filter
func FilterByName(name string) (imaging.ResampleFilter, error) {
	f, ok := filters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter: %s", name)
	}
	return f, nil
}
