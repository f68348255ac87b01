// Package sampler reads the garment color under a logo anchor point.
package sampler

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/logo-placer/pkg/types"
)

// Mode selects how the background color is read
type Mode string

const (
	// ModePixel reads the single pixel under the anchor
	ModePixel Mode = "pixel"
	// ModeDominant reads the most frequent color in a patch around the anchor
	ModeDominant Mode = "dominant"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePixel, ModeDominant:
		return m, nil
	case "":
		return ModePixel, nil
	default:
		return "", fmt.Errorf("unknown sampling mode: %s", s)
	}
}

// Sampler reads background colors from garment images
type Sampler struct {
	config Config
}

// Config holds configuration for color sampling
type Config struct {
	Mode Mode
	// Radius is the half side of the dominant color patch
	Radius int
	// Bits is the per-channel histogram resolution in dominant mode
	Bits uint
}

// New creates a Sampler reading single pixels
func New() *Sampler {
	return &Sampler{
		config: Config{
			Mode:   ModePixel,
			Radius: 6,
			Bits:   4,
		},
	}
}

// NewWithConfig creates a Sampler with custom configuration
func NewWithConfig(config Config) *Sampler {
	if config.Mode == "" {
		config.Mode = ModePixel
	}
	if config.Bits == 0 || config.Bits > 8 {
		config.Bits = 4
	}
	if config.Radius < 0 {
		config.Radius = 0
	}
	return &Sampler{config: config}
}

// Mode returns the configured sampling mode
func (s *Sampler) Mode() Mode {
	return s.config.Mode
}

// Point maps a position given in percent of the image size to a pixel:
// floor(W*left/100), floor(H*top/100), clamped into the image.
func Point(bounds image.Rectangle, left, top float64) image.Point {
	x := clampInt(int(math.Floor(float64(bounds.Dx())*left/100)), 0, bounds.Dx()-1)
	y := clampInt(int(math.Floor(float64(bounds.Dy())*top/100)), 0, bounds.Dy()-1)
	return image.Pt(bounds.Min.X+x, bounds.Min.Y+y)
}

// Sample returns the background color at (left%, top%) and the pixel it was read from
func (s *Sampler) Sample(img image.Image, left, top float64) (types.Color, image.Point, error) {
	if img == nil {
		return types.Color{}, image.Point{}, fmt.Errorf("%w: nil garment image", types.ErrInvalidInput)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return types.Color{}, image.Point{}, fmt.Errorf("%w: garment image has zero area", types.ErrInvalidInput)
	}
	if !finite(left) || !finite(top) {
		return types.Color{}, image.Point{}, fmt.Errorf("%w: sample position (%v, %v)", types.ErrInvalidInput, left, top)
	}

	p := Point(b, left, top)
	if s.config.Mode == ModeDominant {
		return s.dominant(img, p), p, nil
	}
	return at(img, p.X, p.Y), p, nil
}

func at(img image.Image, x, y int) types.Color {
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return types.Color{R: c.R, G: c.G, B: c.B, A: c.A}
}

type bin struct {
	count      int
	r, g, b, a int
}

// dominant quantizes the patch around p into a color histogram and returns
// the mean color of the fullest bin. The first filled bin wins ties.
func (s *Sampler) dominant(img image.Image, p image.Point) types.Color {
	shift := 8 - s.config.Bits
	r := s.config.Radius
	patch := imaging.Crop(img, image.Rect(p.X-r, p.Y-r, p.X+r+1, p.Y+r+1))

	bins := make(map[uint32]*bin)
	var order []uint32
	for i := 0; i+3 < len(patch.Pix); i += 4 {
		c := patch.Pix[i : i+4 : i+4]
		key := uint32(c[0]>>shift)<<16 | uint32(c[1]>>shift)<<8 | uint32(c[2]>>shift)
		hb, ok := bins[key]
		if !ok {
			hb = &bin{}
			bins[key] = hb
			order = append(order, key)
		}
		hb.count++
		hb.r += int(c[0])
		hb.g += int(c[1])
		hb.b += int(c[2])
		hb.a += int(c[3])
	}

	var best *bin
	for _, key := range order {
		if hb := bins[key]; best == nil || hb.count > best.count {
			best = hb
		}
	}
	n := best.count
	return types.Color{
		R: uint8((best.r + n/2) / n),
		G: uint8((best.g + n/2) / n),
		B: uint8((best.b + n/2) / n),
		A: uint8((best.a + n/2) / n),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
