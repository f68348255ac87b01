// Package placement decides where, how large and in which color variant a
// logo is drawn on a garment photo.
package placement

import (
	"context"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/menta2k/logo-placer/pkg/logowidth"
	"github.com/menta2k/logo-placer/pkg/palette"
	"github.com/menta2k/logo-placer/pkg/sampler"
	"github.com/menta2k/logo-placer/pkg/types"
)

// Palettes resolves the color variants of a catalog logo
type Palettes interface {
	Palette(logo, production string) (palette.Palette, error)
}

// Assets loads the image of a catalog logo variant
type Assets interface {
	LoadAsset(ctx context.Context, logo, asset string) (image.Image, error)
}

// Upload is a logo supplied with the request
type Upload struct {
	Name  string
	Image image.Image
}

// Request describes one placement. Custom fields are kept as the raw
// strings received from the form and parsed only when UseCustom is set.
type Request struct {
	Category    string
	UseCustom   bool
	CustomTop   string
	CustomLeft  string
	CustomWidth string
	CustomSkew  string
	// Upload takes precedence over the catalog logo
	Upload     *Upload
	Logo       string
	Production string
	// BlankImage is echoed in the result
	BlankImage string
}

// Custom is a parsed user placement
type Custom struct {
	Top      float64
	Left     float64
	Width    float64
	Rotation float64
}

// ParseCustom parses the custom fields of req. Any field that is not a
// finite number yields types.ErrInvalidInput.
func ParseCustom(req Request) (Custom, error) {
	var c Custom
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"customTop", req.CustomTop, &c.Top},
		{"customLeft", req.CustomLeft, &c.Left},
		{"customWidth", req.CustomWidth, &c.Width},
		{"customSkew", req.CustomSkew, &c.Rotation},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Custom{}, fmt.Errorf("%w: %s=%q is not a number", types.ErrInvalidInput, f.name, f.raw)
		}
		*f.dst = v
	}
	return c, nil
}

// Config holds the resolver's lookup tables and helpers
type Config struct {
	Layout    types.LayoutDefaults
	Palettes  Palettes
	Assets    Assets
	Sampler   *sampler.Sampler
	Estimator *logowidth.Estimator
}

// Resolver computes placements. It holds only read-only tables and is safe
// for concurrent use.
type Resolver struct {
	config Config
}

// New creates a resolver with pixel sampling and the default width estimator
func New(layout types.LayoutDefaults, palettes Palettes, assets Assets) *Resolver {
	return NewWithConfig(Config{Layout: layout, Palettes: palettes, Assets: assets})
}

// NewWithConfig creates a resolver with custom configuration
func NewWithConfig(config Config) *Resolver {
	if config.Sampler == nil {
		config.Sampler = sampler.New()
	}
	if config.Estimator == nil {
		config.Estimator = logowidth.New()
	}
	return &Resolver{config: config}
}

// Resolve computes the placement of a logo on garment.
//
// With UseCustom the custom top, left and skew are used verbatim and the
// width is the custom width. Otherwise the category's layout defaults give
// top and left, rotation is 0 and the width is estimated from the logo image
// against the default width. The background color is read at the anchor and
// picks the catalog variant when no logo was uploaded.
func (r *Resolver) Resolve(ctx context.Context, garment image.Image, req Request) (types.PlacementResult, error) {
	result := types.PlacementResult{
		BlankImage: req.BlankImage,
		Category:   req.Category,
	}

	var layout types.Layout
	if req.UseCustom {
		custom, err := ParseCustom(req)
		if err != nil {
			return types.PlacementResult{}, err
		}
		result.Top, result.Left, result.Width, result.Rotation = custom.Top, custom.Left, custom.Width, custom.Rotation
	} else {
		l, err := r.config.Layout.Lookup(req.Category)
		if err != nil {
			return types.PlacementResult{}, err
		}
		layout = l
		result.Top, result.Left = l.Top, l.Left
	}

	bg, _, err := r.config.Sampler.Sample(garment, result.Left, result.Top)
	if err != nil {
		return types.PlacementResult{}, fmt.Errorf("failed to sample background: %w", err)
	}
	result.BackgroundColor = bg
	result.BackgroundHex = Hex(bg)

	var logo image.Image
	if req.Upload != nil {
		result.LogoAsset = req.Upload.Name
		result.Source = types.LogoUploaded
		logo = req.Upload.Image
	} else {
		entry, err := r.selectVariant(req, bg)
		if err != nil {
			return types.PlacementResult{}, err
		}
		result.LogoAsset = entry.Asset
		result.Source = types.LogoCatalog
	}

	if req.UseCustom {
		return result, nil
	}

	if logo == nil {
		if req.Upload != nil {
			return types.PlacementResult{}, fmt.Errorf("%w: uploaded logo %q has no image", types.ErrInvalidInput, req.Upload.Name)
		}
		if r.config.Assets == nil {
			return types.PlacementResult{}, fmt.Errorf("no asset source for logo %q", req.Logo)
		}
		logo, err = r.config.Assets.LoadAsset(ctx, req.Logo, result.LogoAsset)
		if err != nil {
			return types.PlacementResult{}, fmt.Errorf("failed to load logo asset %s: %w", result.LogoAsset, err)
		}
	}

	width, err := r.config.Estimator.Estimate(logo, layout.Width)
	if err != nil {
		return types.PlacementResult{}, fmt.Errorf("failed to estimate width of %s: %w", result.LogoAsset, err)
	}
	result.Width = width
	return result, nil
}

func (r *Resolver) selectVariant(req Request, bg types.Color) (palette.Entry, error) {
	if r.config.Palettes == nil {
		return palette.Entry{}, fmt.Errorf("%w: no logo catalog configured", types.ErrUnknownLogo)
	}
	p, err := r.config.Palettes.Palette(req.Logo, req.Production)
	if err != nil {
		return palette.Entry{}, err
	}
	entry, err := p.Select(bg)
	if err != nil {
		return palette.Entry{}, fmt.Errorf("logo %q %s: %w", req.Logo, req.Production, err)
	}
	return entry, nil
}

// Hex formats a sampled color as #rrggbb
func Hex(c types.Color) string {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hex()
}
