// Package palette picks the logo color variant that best matches a garment.
package palette

import (
	"math"

	"github.com/menta2k/logo-placer/pkg/types"
)

// Entry is one color variant of a logo
type Entry struct {
	Key   types.ColorKey `json:"key"`
	Asset string         `json:"asset"`
}

// Palette is an ordered list of color variants for one production method
type Palette []Entry

// ColorError is the squared mean absolute channel difference of two colors
func ColorError(a, b types.ColorKey) float64 {
	sum := math.Abs(float64(a.R-b.R)) + math.Abs(float64(a.G-b.G)) + math.Abs(float64(a.B-b.B))
	mean := sum / 3
	return mean * mean
}

// Select returns the entry with the lowest ColorError against background.
// Entries are visited in order and only a strictly lower error replaces the
// current best, so the first of equally good entries wins. Any entry beats
// the starting sentinel, even one at the maximum error of 255^2.
func (p Palette) Select(background types.Color) (Entry, error) {
	if len(p) == 0 {
		return Entry{}, types.ErrEmptyPalette
	}

	bg := background.Key()
	best := 0
	bestErr := math.Inf(1)
	for i, e := range p {
		if d := ColorError(bg, e.Key); d < bestErr {
			best, bestErr = i, d
		}
	}
	return p[best], nil
}
