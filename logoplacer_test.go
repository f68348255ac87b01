package logoplacer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/menta2k/logo-placer/pkg/garment"
	"github.com/menta2k/logo-placer/pkg/palette"
	"github.com/menta2k/logo-placer/pkg/placement"
	"github.com/menta2k/logo-placer/pkg/types"
)

// createTestImage creates a uniformly colored test image
func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// createTestLogo is transparent with an opaque block over columns [x0, x1)
func createTestLogo(width, height, x0, x1 int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := x0; x < x1; x++ {
			img.SetNRGBA(x, y, color.NRGBA{200, 30, 30, 255})
		}
	}
	return img
}

type fixedClassifier struct {
	category string
	err      error
	calls    int
}

func (f *fixedClassifier) ClassifyImage(ctx context.Context, img image.Image) (string, error) {
	f.calls++
	return f.category, f.err
}

type memoryLogos struct {
	palettes map[string]palette.Palette
	images   map[string]image.Image
}

func (m memoryLogos) Palette(logo, production string) (palette.Palette, error) {
	p, ok := m.palettes[logo+"/"+production]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownLogo, logo)
	}
	return p, nil
}

func (m memoryLogos) LoadAsset(_ context.Context, logo, asset string) (image.Image, error) {
	img, ok := m.images[asset]
	if !ok {
		return nil, fmt.Errorf("asset %s not found", asset)
	}
	return img, nil
}

func testLogos() memoryLogos {
	return memoryLogos{
		palettes: map[string]palette.Palette{
			"ure/screen": {
				{Key: types.ColorKey{R: 255, G: 255, B: 255}, Asset: "ure-white.png"},
				{Key: types.ColorKey{R: 0, G: 0, B: 0}, Asset: "ure-black.png"},
			},
		},
		images: map[string]image.Image{
			"ure-white.png": createTestLogo(100, 50, 0, 100),
			"ure-black.png": createTestLogo(100, 50, 25, 75),
		},
	}
}

func testPlacer(t *testing.T, classifier GarmentClassifier) *Placer {
	t.Helper()
	catalog, err := garment.NewCatalog([]string{"tshirt", "hat"})
	if err != nil {
		t.Fatal(err)
	}
	logger := log.New()
	logger.SetOutput(io.Discard)
	logos := testLogos()

	p, err := New(Options{
		Classifier: classifier,
		Catalog:    catalog,
		Layout: types.LayoutDefaults{
			"tshirt": {Top: 30, Left: 40, Width: 120},
			"hat":    {Top: 40, Left: 42, Width: 60},
		},
		Palettes: logos,
		Assets:   logos,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	catalog, _ := garment.NewCatalog([]string{"tshirt", "hat"})

	if _, err := New(Options{Catalog: catalog}); err == nil {
		t.Error("Expected error without classifier")
	}
	if _, err := New(Options{Classifier: &fixedClassifier{}}); err == nil {
		t.Error("Expected error without catalog")
	}

	_, err := New(Options{
		Classifier: &fixedClassifier{},
		Catalog:    catalog,
		Layout:     types.LayoutDefaults{"tshirt": {Top: 30, Left: 40, Width: 120}},
	})
	if !errors.Is(err, types.ErrMissingCategoryDefaults) {
		t.Errorf("Expected ErrMissingCategoryDefaults, got %v", err)
	}
}

func TestPlaceClassifies(t *testing.T) {
	classifier := &fixedClassifier{category: "tshirt"}
	p := testPlacer(t, classifier)
	shirt := createTestImage(200, 200, color.RGBA{10, 10, 10, 255})

	result, err := p.Place(context.Background(), shirt, placement.Request{Logo: "ure", Production: "screen"})
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if classifier.calls != 1 {
		t.Errorf("Expected one classification, got %d", classifier.calls)
	}
	if result.Category != "tshirt" || result.Top != 30 || result.Left != 40 {
		t.Errorf("Unexpected placement %+v", result)
	}
	if result.LogoAsset != "ure-black.png" {
		t.Errorf("Expected black variant, got %s", result.LogoAsset)
	}
	// half-width logo: 120 * 100 / 49
	if math.Abs(result.Width-245) > 2 {
		t.Errorf("Expected width close to 245, got %v", result.Width)
	}
}

func TestPlaceCategoryOverride(t *testing.T) {
	classifier := &fixedClassifier{category: "tshirt"}
	p := testPlacer(t, classifier)
	hat := createTestImage(100, 100, color.RGBA{250, 250, 250, 255})

	result, err := p.Place(context.Background(), hat, placement.Request{Category: "hat", Logo: "ure", Production: "screen"})
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if classifier.calls != 0 {
		t.Errorf("Expected no classification with an override, got %d", classifier.calls)
	}
	if result.Category != "hat" || result.LogoAsset != "ure-white.png" {
		t.Errorf("Unexpected placement %+v", result)
	}

	_, err = p.Place(context.Background(), hat, placement.Request{Category: "scarf", Logo: "ure", Production: "screen"})
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for unknown category, got %v", err)
	}
}

func TestPlaceErrors(t *testing.T) {
	failing := &fixedClassifier{err: errors.New("model offline")}
	p := testPlacer(t, failing)
	img := createTestImage(50, 50, color.RGBA{0, 0, 0, 255})

	if _, err := p.Place(context.Background(), img, placement.Request{Logo: "ure", Production: "screen"}); err == nil {
		t.Error("Expected classifier error")
	}
	if _, err := p.Place(context.Background(), nil, placement.Request{}); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil image, got %v", err)
	}
	if _, err := p.Classify(context.Background(), nil); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil image, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	p := testPlacer(t, &fixedClassifier{category: "tshirt"})
	shirt := createTestImage(200, 200, color.RGBA{10, 10, 10, 255})
	req := placement.Request{
		UseCustom:   true,
		CustomTop:   "10",
		CustomLeft:  "20",
		CustomWidth: "50",
		CustomSkew:  "0",
		Logo:        "ure",
		Production:  "screen",
	}

	result, err := p.Place(context.Background(), shirt, req)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	preview, err := p.Preview(context.Background(), shirt, req, result)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if preview.Bounds() != shirt.Bounds() {
		t.Errorf("Expected preview bounds %v, got %v", shirt.Bounds(), preview.Bounds())
	}
	// the black variant's opaque middle lands at x 40+12..40+37, y 20..45
	c := preview.NRGBAAt(40+25, 30)
	if c.R < 150 {
		t.Errorf("Expected logo color at the anchor, got %v", c)
	}
	if c := preview.NRGBAAt(5, 5); c.R != 10 {
		t.Errorf("Expected garment color away from the logo, got %v", c)
	}

	debug, err := p.DebugPreview(context.Background(), shirt, req, result)
	if err != nil {
		t.Fatalf("DebugPreview failed: %v", err)
	}
	if debug.Bounds() != shirt.Bounds() {
		t.Errorf("Unexpected debug bounds %v", debug.Bounds())
	}
}

func TestPreviewUpload(t *testing.T) {
	p := testPlacer(t, &fixedClassifier{category: "hat"})
	hat := createTestImage(100, 100, color.RGBA{250, 250, 250, 255})
	req := placement.Request{Upload: &placement.Upload{Name: "mine.png", Image: createTestLogo(40, 40, 0, 40)}}

	result, err := p.Place(context.Background(), hat, req)
	if err != nil {
		t.Fatalf("Place failed: %v", err)
	}
	if result.Source != types.LogoUploaded || result.LogoAsset != "mine.png" {
		t.Errorf("Unexpected logo %s (%s)", result.LogoAsset, result.Source)
	}
	if _, err := p.Preview(context.Background(), hat, req, result); err != nil {
		t.Errorf("Preview failed: %v", err)
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("Expected %s, got %s", Version, GetVersion())
	}
}

func BenchmarkPlace(b *testing.B) {
	catalog, _ := garment.NewCatalog([]string{"tshirt", "hat"})
	logos := testLogos()
	logger := log.New()
	logger.SetOutput(io.Discard)
	p, err := New(Options{
		Classifier: &fixedClassifier{category: "tshirt"},
		Catalog:    catalog,
		Layout: types.LayoutDefaults{
			"tshirt": {Top: 30, Left: 40, Width: 120},
			"hat":    {Top: 40, Left: 42, Width: 60},
		},
		Palettes: logos,
		Assets:   logos,
		Logger:   logger,
	})
	if err != nil {
		b.Fatal(err)
	}
	img := createTestImage(400, 400, color.RGBA{10, 10, 10, 255})
	req := placement.Request{Logo: "ure", Production: "screen"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Place(context.Background(), img, req); err != nil {
			b.Fatal(err)
		}
	}
}
