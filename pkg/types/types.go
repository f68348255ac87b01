package types

import (
	"encoding/json"
	"fmt"
)

// GridSize is the side length of the square model input
const GridSize = 32

// GridLen is the number of intensities in a FeatureGrid
const GridLen = GridSize * GridSize

// FeatureGrid holds normalized grayscale intensities in [0,1], row-major
type FeatureGrid []float64

// Validate reports ErrInvalidInput when the grid does not have the model input length
func (g FeatureGrid) Validate() error {
	if len(g) != GridLen {
		return fmt.Errorf("%w: feature grid has %d values, expected %d", ErrInvalidInput, len(g), GridLen)
	}
	return nil
}

// LabeledExample pairs a grid with its ground-truth category index
type LabeledExample struct {
	Grid  FeatureGrid
	Label int
	// Source is the file the grid was built from, kept for error messages
	Source string
}

// Layout is the default logo placement for one garment category
type Layout struct {
	Top   float64 `json:"top" mapstructure:"top" yaml:"top"`
	Left  float64 `json:"left" mapstructure:"left" yaml:"left"`
	Width float64 `json:"width" mapstructure:"width" yaml:"width"`
}

// LayoutDefaults maps a category name to its default layout
type LayoutDefaults map[string]Layout

// Lookup returns the layout for a category or ErrMissingCategoryDefaults
func (d LayoutDefaults) Lookup(category string) (Layout, error) {
	l, ok := d[category]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %q", ErrMissingCategoryDefaults, category)
	}
	return l, nil
}

// ColorKey is an RGB triple used to index a logo palette
type ColorKey struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

func (k ColorKey) String() string {
	return fmt.Sprintf("%d,%d,%d", k.R, k.G, k.B)
}

// Color is an 8-bit non-premultiplied sample taken from a garment image
type Color struct {
	R, G, B, A uint8
}

// Key drops the alpha channel
func (c Color) Key() ColorKey {
	return ColorKey{R: int(c.R), G: int(c.G), B: int(c.B)}
}

// MarshalJSON encodes the color as a channel array; alpha is only emitted
// for translucent samples, matching what the browser UI expects.
func (c Color) MarshalJSON() ([]byte, error) {
	// []uint8 would be written as a base64 string
	if c.A == 255 {
		return json.Marshal([]int{int(c.R), int(c.G), int(c.B)})
	}
	return json.Marshal([]int{int(c.R), int(c.G), int(c.B), int(c.A)})
}

func (c *Color) UnmarshalJSON(data []byte) error {
	var ch []int
	if err := json.Unmarshal(data, &ch); err != nil {
		return err
	}
	if len(ch) != 3 && len(ch) != 4 {
		return fmt.Errorf("color must have 3 or 4 channels, got %d", len(ch))
	}
	for _, v := range ch {
		if v < 0 || v > 255 {
			return fmt.Errorf("color channel %d out of range 0-255", v)
		}
	}
	*c = Color{uint8(ch[0]), uint8(ch[1]), uint8(ch[2]), 255}
	if len(ch) == 4 {
		c.A = uint8(ch[3])
	}
	return nil
}

// LogoSource tells where the placed logo came from
type LogoSource string

const (
	LogoUploaded LogoSource = "upload"
	LogoCatalog  LogoSource = "catalog"
)

// PlacementResult is the outcome of one placement resolution
type PlacementResult struct {
	BlankImage      string     `json:"blankImgSrc,omitempty"`
	LogoAsset       string     `json:"logoImgSrc"`
	Category        string     `json:"itemClass"`
	Width           float64    `json:"width"`
	Top             float64    `json:"top"`
	Left            float64    `json:"left"`
	Rotation        float64    `json:"rotation"`
	BackgroundColor Color      `json:"backgroundColor"`
	BackgroundHex   string     `json:"backgroundHex,omitempty"`
	Source          LogoSource `json:"logoSource,omitempty"`
}
