// Package logoplacer places brand logos on photos of blank garments.
//
// A garment photo is first classified into one of the catalog categories,
// either by a small convolutional network trained on example photos or by a
// vision language model. The category's default layout gives the logo
// anchor; the color under the anchor picks the best contrasting variant of a
// catalog logo, and the logo's visible extent sets its display width.
//
// Basic usage:
//
//	catalog, _ := garment.NewCatalog([]string{"tshirt", "hoodie", "hat"})
//	classifier := garment.New(catalog)
//	if err := classifier.Load(snapshot); err != nil {
//		log.Fatal(err)
//	}
//
//	placer, err := logoplacer.New(logoplacer.Options{
//		Classifier: classifier,
//		Catalog:    catalog,
//		Layout:     layout,
//		Palettes:   logos,
//		Assets:     logos,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := placer.Place(ctx, shirt, placement.Request{Logo: "ure", Production: "screen"})
//
// The package consists of these components:
//
//  1. Features (pkg/features): grayscale feature grids for the network
//  2. Network (pkg/nn): convolutional network, trainer and JSON snapshots
//  3. Garment (pkg/garment): category catalog, classifier and training data loading
//  4. Placement (pkg/placement): layout, background sampling, variant and width
//  5. Processing (pkg/processing): image loading and preview rendering
package logoplacer

import (
	"context"
	"fmt"
	"image"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/menta2k/logo-placer/pkg/garment"
	"github.com/menta2k/logo-placer/pkg/logowidth"
	"github.com/menta2k/logo-placer/pkg/placement"
	"github.com/menta2k/logo-placer/pkg/processing"
	"github.com/menta2k/logo-placer/pkg/sampler"
	"github.com/menta2k/logo-placer/pkg/types"
)

// Version of the logo placer library
const Version = "1.0.0"

// GarmentClassifier names the catalog category of a garment photo
type GarmentClassifier interface {
	ClassifyImage(ctx context.Context, img image.Image) (string, error)
}

// Options wires a Placer. Classifier, Catalog and Layout are required.
type Options struct {
	Classifier GarmentClassifier
	Catalog    *garment.Catalog
	Layout     types.LayoutDefaults
	Palettes   placement.Palettes
	Assets     placement.Assets
	Sampler    *sampler.Sampler
	Estimator  *logowidth.Estimator
	Processor  *processing.Processor
	Logger     log.FieldLogger
}

// Placer classifies garments and resolves logo placements
type Placer struct {
	classifier GarmentClassifier
	catalog    *garment.Catalog
	resolver   *placement.Resolver
	assets     placement.Assets
	processor  *processing.Processor
	logger     log.FieldLogger
}

// New creates a placer. Every catalog category must have a layout.
func New(opts Options) (*Placer, error) {
	if opts.Classifier == nil {
		return nil, fmt.Errorf("no garment classifier")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("no garment catalog")
	}
	if err := opts.Catalog.CheckLayout(opts.Layout); err != nil {
		return nil, err
	}
	if opts.Processor == nil {
		opts.Processor = processing.NewProcessor()
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}

	resolver := placement.NewWithConfig(placement.Config{
		Layout:    opts.Layout,
		Palettes:  opts.Palettes,
		Assets:    opts.Assets,
		Sampler:   opts.Sampler,
		Estimator: opts.Estimator,
	})

	return &Placer{
		classifier: opts.Classifier,
		catalog:    opts.Catalog,
		resolver:   resolver,
		assets:     opts.Assets,
		processor:  opts.Processor,
		logger:     opts.Logger,
	}, nil
}

// Catalog returns the garment categories
func (p *Placer) Catalog() *garment.Catalog {
	return p.catalog
}

// Classify returns the category of a garment photo
func (p *Placer) Classify(ctx context.Context, img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("%w: nil garment image", types.ErrInvalidInput)
	}
	start := time.Now()
	category, err := p.classifier.ClassifyImage(ctx, img)
	if err != nil {
		return "", fmt.Errorf("classification failed: %w", err)
	}
	p.logger.WithFields(log.Fields{
		"category": category,
		"elapsed":  time.Since(start).String(),
	}).Debug("Garment classified")
	return category, nil
}

// Place resolves the placement of a logo on a garment photo. An empty
// req.Category is filled in by the classifier; a given one must name a
// catalog category.
func (p *Placer) Place(ctx context.Context, img image.Image, req placement.Request) (types.PlacementResult, error) {
	if img == nil {
		return types.PlacementResult{}, fmt.Errorf("%w: nil garment image", types.ErrInvalidInput)
	}

	if req.Category == "" {
		category, err := p.Classify(ctx, img)
		if err != nil {
			return types.PlacementResult{}, err
		}
		req.Category = category
	} else if !p.catalog.Contains(req.Category) {
		return types.PlacementResult{}, fmt.Errorf("%w: unknown garment category %q", types.ErrInvalidInput, req.Category)
	}

	result, err := p.resolver.Resolve(ctx, img, req)
	if err != nil {
		return types.PlacementResult{}, err
	}

	p.logger.WithFields(log.Fields{
		"category": result.Category,
		"logo":     result.LogoAsset,
		"source":   result.Source,
		"width":    result.Width,
		"top":      result.Top,
		"left":     result.Left,
		"rotation": result.Rotation,
		"bg":       result.BackgroundHex,
	}).Info("Logo placed")
	return result, nil
}

// Preview renders result onto the garment photo. The logo is the upload of
// req when present, otherwise the catalog asset named by the result.
func (p *Placer) Preview(ctx context.Context, img image.Image, req placement.Request, result types.PlacementResult) (*image.NRGBA, error) {
	logo, err := p.logoImage(ctx, req, result)
	if err != nil {
		return nil, err
	}
	return p.processor.ComposePreview(img, logo, result)
}

// DebugPreview renders result and marks the sample point, the logo box and
// the sampled color
func (p *Placer) DebugPreview(ctx context.Context, img image.Image, req placement.Request, result types.PlacementResult) (image.Image, error) {
	preview, err := p.Preview(ctx, img, req, result)
	if err != nil {
		return nil, err
	}
	logo, err := p.logoImage(ctx, req, result)
	if err != nil {
		return nil, err
	}
	rect, err := processing.LogoRect(img.Bounds(), logo.Bounds(), result)
	if err != nil {
		return nil, err
	}
	// the preview is a copy with a zero origin
	origin := img.Bounds().Min
	point := sampler.Point(img.Bounds(), result.Left, result.Top).Sub(origin)
	return p.processor.CreateDebugOverlay(preview, point, rect.Sub(origin), result.BackgroundColor), nil
}

func (p *Placer) logoImage(ctx context.Context, req placement.Request, result types.PlacementResult) (image.Image, error) {
	if req.Upload != nil && req.Upload.Image != nil {
		return req.Upload.Image, nil
	}
	if p.assets == nil {
		return nil, fmt.Errorf("no asset source for logo %q", req.Logo)
	}
	return p.assets.LoadAsset(ctx, req.Logo, result.LogoAsset)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
