package features

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/logo-placer/pkg/types"
)

// createTestImage creates a garment-like image with a bright body on a gradient
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/4 && x < 3*width/4 && y > height/5 {
				img.Set(x, y, color.RGBA{230, 30, 30, 255})
			} else {
				r := uint8((x * 255) / width)
				g := uint8((y * 255) / height)
				img.Set(x, y, color.RGBA{r, g, 128, 255})
			}
		}
	}
	return img
}

func TestExtractLengthAndRange(t *testing.T) {
	extractor := New()

	sizes := [][2]int{{32, 32}, {640, 480}, {17, 93}, {1, 1}, {1000, 10}}
	for _, sz := range sizes {
		grid, err := extractor.Extract(createTestImage(sz[0], sz[1]))
		if err != nil {
			t.Fatalf("Extract %dx%d failed: %v", sz[0], sz[1], err)
		}
		if len(grid) != types.GridLen {
			t.Errorf("Expected %d values for %dx%d, got %d", types.GridLen, sz[0], sz[1], len(grid))
		}
		for i, v := range grid {
			if v < 0 || v > 1 || math.IsNaN(v) {
				t.Fatalf("Value %d out of range for %dx%d: %f", i, sz[0], sz[1], v)
			}
		}
	}
}

func TestExtractNormalization(t *testing.T) {
	tests := []struct {
		name     string
		c        color.NRGBA
		expected float64
	}{
		{"white", color.NRGBA{255, 255, 255, 255}, 1},
		{"black", color.NRGBA{0, 0, 0, 255}, 0},
		{"red", color.NRGBA{255, 0, 0, 255}, 1.0 / 3.0},
		{"mixed", color.NRGBA{10, 20, 30, 255}, 60.0 / 765.0},
		// alpha is ignored
		{"translucent", color.NRGBA{255, 255, 255, 10}, 1},
	}

	extractor := New()
	for _, test := range tests {
		img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
		for y := 0; y < 64; y++ {
			for x := 0; x < 64; x++ {
				img.SetNRGBA(x, y, test.c)
			}
		}
		grid, err := extractor.Extract(img)
		if err != nil {
			t.Fatalf("%s: Extract failed: %v", test.name, err)
		}
		for i, v := range grid {
			if math.Abs(v-test.expected) > 1e-9 {
				t.Errorf("%s: expected %f at %d, got %f", test.name, test.expected, i, v)
				break
			}
		}
	}
}

func TestExtractRowMajor(t *testing.T) {
	// left half black, right half white at model resolution
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if x >= 16 {
				img.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
			}
		}
	}

	grid, err := NewWithConfig(Config{Size: 32, Filter: imaging.NearestNeighbor}).Extract(img)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if grid[0] != 0 || grid[31] != 1 || grid[32] != 0 || grid[32*31+31] != 1 {
		t.Errorf("Expected row-major layout, got first row ends %f/%f", grid[0], grid[31])
	}
}

func TestExtractDeterministic(t *testing.T) {
	extractor := New()
	img := createTestImage(300, 200)

	a, _ := extractor.Extract(img)
	b, _ := extractor.Extract(img)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Expected identical grids, differ at %d", i)
		}
	}
}

func TestExtractInvalid(t *testing.T) {
	extractor := New()

	if _, err := extractor.Extract(nil); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil image, got %v", err)
	}
	empty := image.NewRGBA(image.Rect(0, 0, 0, 10))
	if _, err := extractor.Extract(empty); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty image, got %v", err)
	}
}

func TestFilterByName(t *testing.T) {
	for _, name := range []string{"nearest", "Linear", "bilinear", " lanczos "} {
		if _, err := FilterByName(name); err != nil {
			t.Errorf("Filter %q should be known: %v", name, err)
		}
	}
	if _, err := FilterByName("bicubic-ish"); err == nil {
		t.Error("Expected error for unknown filter")
	}
}

func BenchmarkExtract(b *testing.B) {
	extractor := New()
	img := createTestImage(1200, 1600)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		extractor.Extract(img)
	}
}
