package garment

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"github.com/menta2k/logo-placer/pkg/features"
	"github.com/menta2k/logo-placer/pkg/nn"
	"github.com/menta2k/logo-placer/pkg/types"
)

type fileLoader struct{}

func (fileLoader) LoadImage(path string) (image.Image, error) {
	return imaging.Open(path)
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func uniformGrid(v float64) types.FeatureGrid {
	g := make(types.FeatureGrid, types.GridLen)
	for i := range g {
		g[i] = v
	}
	return g
}

func testCatalog(t *testing.T, names ...string) *Catalog {
	t.Helper()
	c, err := NewCatalog(names)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	return c
}

func smallConfig(epochs int) Config {
	cfg := DefaultConfig()
	cfg.Epochs = epochs
	cfg.ReportEvery = 1
	cfg.Logger = quietLogger()
	return cfg
}

func TestNewCatalog(t *testing.T) {
	c := testCatalog(t, "shirt", "hat", "hoodie")

	if c.Len() != 3 {
		t.Errorf("Expected 3 categories, got %d", c.Len())
	}
	if i, ok := c.Index("hat"); !ok || i != 1 {
		t.Errorf("Expected hat at index 1, got %d (%v)", i, ok)
	}
	if name, ok := c.Name(2); !ok || name != "hoodie" {
		t.Errorf("Expected hoodie at index 2, got %q", name)
	}
	if _, ok := c.Name(3); ok {
		t.Error("Expected index 3 to be out of range")
	}
	if c.Contains("sock") {
		t.Error("Expected sock to be unknown")
	}

	invalid := [][]string{
		nil,
		{"shirt"},
		{"shirt", ""},
		{"shirt", "hat", "shirt"},
	}
	for _, names := range invalid {
		if _, err := NewCatalog(names); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("NewCatalog(%v): expected ErrInvalidInput, got %v", names, err)
		}
	}
}

func TestCatalogCheckLayout(t *testing.T) {
	c := testCatalog(t, "shirt", "hat")

	full := types.LayoutDefaults{
		"shirt": {Top: 30, Left: 40, Width: 120},
		"hat":   {Top: 20, Left: 45, Width: 60},
	}
	if err := c.CheckLayout(full); err != nil {
		t.Errorf("Expected complete layout to pass, got %v", err)
	}

	partial := types.LayoutDefaults{"shirt": {Top: 30, Left: 40, Width: 120}}
	if err := c.CheckLayout(partial); !errors.Is(err, types.ErrMissingCategoryDefaults) {
		t.Errorf("Expected ErrMissingCategoryDefaults, got %v", err)
	}
}

func TestArchitecture(t *testing.T) {
	out, err := nn.Validate(Architecture(7))
	if err != nil {
		t.Fatalf("Architecture does not validate: %v", err)
	}
	if out.Depth != 7 {
		t.Errorf("Expected 7 outputs, got %d", out.Depth)
	}
}

func TestClassifyWithoutModel(t *testing.T) {
	c := New(testCatalog(t, "shirt", "hat"))

	if c.Ready() {
		t.Error("Expected new classifier to have no model")
	}
	if _, err := c.Classify(uniformGrid(0.5)); !errors.Is(err, ErrNoModel) {
		t.Errorf("Expected ErrNoModel, got %v", err)
	}
	if err := c.Save(io.Discard); !errors.Is(err, ErrNoModel) {
		t.Errorf("Expected ErrNoModel from Save, got %v", err)
	}
}

// zeroModel is a snapshot whose scoring layer is all zeros, so every class
// gets the same probability
func zeroModel(t *testing.T, classes int) []byte {
	t.Helper()
	net, err := nn.NewNet(Architecture(classes), nil)
	if err != nil {
		t.Fatalf("NewNet failed: %v", err)
	}
	var buf bytes.Buffer
	if err := net.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return buf.Bytes()
}

func TestClassifyTieBreak(t *testing.T) {
	c := New(testCatalog(t, "shirt", "hat", "hoodie"))
	if err := c.Load(bytes.NewReader(zeroModel(t, 3))); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	probs, err := c.Scores(uniformGrid(0.3))
	if err != nil {
		t.Fatalf("Scores failed: %v", err)
	}
	if probs[0] != probs[1] || probs[1] != probs[2] {
		t.Fatalf("Expected equal scores, got %v", probs)
	}

	name, err := c.Classify(uniformGrid(0.3))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if name != "shirt" {
		t.Errorf("Expected first category on tie, got %s", name)
	}
}

func TestClassifyInvalidGrid(t *testing.T) {
	c := New(testCatalog(t, "shirt", "hat"))
	c.Load(bytes.NewReader(zeroModel(t, 2)))

	for _, grid := range []types.FeatureGrid{nil, make(types.FeatureGrid, 10), make(types.FeatureGrid, types.GridLen+1)} {
		if _, err := c.Classify(grid); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %d values, got %v", len(grid), err)
		}
	}
}

func TestLoadCatalogMismatch(t *testing.T) {
	c := New(testCatalog(t, "shirt", "hat", "hoodie"))

	err := c.Load(bytes.NewReader(zeroModel(t, 2)))
	if !errors.Is(err, types.ErrModelFormat) {
		t.Errorf("Expected ErrModelFormat, got %v", err)
	}
	if c.Ready() {
		t.Error("Expected failed load to leave the classifier empty")
	}
}

func trainingSet() []types.LabeledExample {
	return []types.LabeledExample{
		{Grid: uniformGrid(0.05), Label: 0, Source: "dark-1"},
		{Grid: uniformGrid(0.10), Label: 0, Source: "dark-2"},
		{Grid: uniformGrid(0.90), Label: 1, Source: "light-1"},
		{Grid: uniformGrid(0.95), Label: 1, Source: "light-2"},
	}
}

func TestTrainSaveLoad(t *testing.T) {
	catalog := testCatalog(t, "dark", "light")
	c := NewWithConfig(catalog, smallConfig(3))

	report, err := c.Train(context.Background(), trainingSet())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if report.Epochs != 3 || report.Examples != 4 {
		t.Errorf("Unexpected report: %+v", report)
	}
	if report.Accuracy < 0 || report.Accuracy > 1 {
		t.Errorf("Accuracy out of range: %f", report.Accuracy)
	}
	if report.Loss <= 0 {
		t.Errorf("Expected positive loss, got %f", report.Loss)
	}

	grid := uniformGrid(0.5)
	first, err := c.Classify(grid)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !catalog.Contains(first) {
		t.Errorf("Classify returned unknown category %q", first)
	}
	for i := 0; i < 3; i++ {
		if again, _ := c.Classify(grid); again != first {
			t.Errorf("Expected deterministic result %s, got %s", first, again)
		}
	}

	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded := New(catalog)
	if err := loaded.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for _, ex := range trainingSet() {
		a, _ := c.Scores(ex.Grid)
		b, _ := loaded.Scores(ex.Grid)
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("%s: scores differ after reload: %v vs %v", ex.Source, a, b)
				break
			}
		}
	}
}

func TestTrainSameSeedSameModel(t *testing.T) {
	catalog := testCatalog(t, "dark", "light")
	a := NewWithConfig(catalog, smallConfig(2))
	b := NewWithConfig(catalog, smallConfig(2))

	a.Train(context.Background(), trainingSet())
	b.Train(context.Background(), trainingSet())

	pa, _ := a.Scores(uniformGrid(0.4))
	pb, _ := b.Scores(uniformGrid(0.4))
	for i := range pa {
		if pa[i] != pb[i] {
			t.Fatalf("Expected identical models for identical seeds, got %v and %v", pa, pb)
		}
	}
}

func TestTrainRejectsBadExamples(t *testing.T) {
	c := NewWithConfig(testCatalog(t, "dark", "light"), smallConfig(1))

	if _, err := c.Train(context.Background(), nil); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty set, got %v", err)
	}

	bad := []types.LabeledExample{{Grid: uniformGrid(0.1), Label: 2}}
	if _, err := c.Train(context.Background(), bad); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for label 2, got %v", err)
	}

	short := []types.LabeledExample{{Grid: make(types.FeatureGrid, 5), Label: 0}}
	if _, err := c.Train(context.Background(), short); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for short grid, got %v", err)
	}
	if c.Ready() {
		t.Error("Expected no model after failed training")
	}
}

func TestTrainCancelled(t *testing.T) {
	c := NewWithConfig(testCatalog(t, "dark", "light"), smallConfig(5))
	if err := c.Load(bytes.NewReader(zeroModel(t, 2))); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	before, _ := c.Scores(uniformGrid(0.5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Train(ctx, trainingSet()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	after, _ := c.Scores(uniformGrid(0.5))
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("Expected cancelled training to keep the previous model")
		}
	}
}

func TestClassifyImage(t *testing.T) {
	c := New(testCatalog(t, "shirt", "hat"))
	c.Load(bytes.NewReader(zeroModel(t, 2)))

	img := createTestImage(64, 48, color.RGBA{200, 10, 10, 255})
	name, err := c.ClassifyImage(context.Background(), img)
	if err != nil {
		t.Fatalf("ClassifyImage failed: %v", err)
	}
	if name != "shirt" {
		t.Errorf("Expected shirt, got %s", name)
	}

	if _, err := c.ClassifyImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 0))); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty image, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ClassifyImage(ctx, img); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	if err := imaging.Save(createTestImage(40, 40, c), path); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	catalog := testCatalog(t, "shirt", "hat")

	os.MkdirAll(filepath.Join(dir, "hat"), 0755)
	os.MkdirAll(filepath.Join(dir, "shirt"), 0755)
	writePNG(t, filepath.Join(dir, "hat", "a.png"), color.White)
	writePNG(t, filepath.Join(dir, "shirt", "a.png"), color.Black)
	writePNG(t, filepath.Join(dir, "shirt", "b.png"), color.Black)
	os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0644)

	examples, err := LoadDataset(context.Background(), dir, catalog, features.New(), fileLoader{})
	if err != nil {
		t.Fatalf("LoadDataset failed: %v", err)
	}
	if len(examples) != 3 {
		t.Fatalf("Expected 3 examples, got %d", len(examples))
	}

	// shirt sorts after hat on disk but comes first in the catalog
	for i, want := range []int{0, 0, 1} {
		if examples[i].Label != want {
			t.Errorf("Example %d (%s): expected label %d, got %d", i, examples[i].Source, want, examples[i].Label)
		}
	}
	if examples[0].Grid[0] > 0.01 {
		t.Errorf("Expected black shirt grid, got %f", examples[0].Grid[0])
	}
	if examples[2].Grid[0] < 0.99 {
		t.Errorf("Expected white hat grid, got %f", examples[2].Grid[0])
	}
}

func TestLoadDatasetErrors(t *testing.T) {
	catalog := testCatalog(t, "shirt", "hat")

	t.Run("unknown subdirectory", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"shirt", "hat", "sock"} {
			os.MkdirAll(filepath.Join(dir, name), 0755)
			writePNG(t, filepath.Join(dir, name, "a.png"), color.Black)
		}
		if _, err := LoadDataset(context.Background(), dir, catalog, features.New(), fileLoader{}); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("missing category", func(t *testing.T) {
		dir := t.TempDir()
		os.MkdirAll(filepath.Join(dir, "shirt"), 0755)
		writePNG(t, filepath.Join(dir, "shirt", "a.png"), color.Black)
		if _, err := LoadDataset(context.Background(), dir, catalog, features.New(), fileLoader{}); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("empty category", func(t *testing.T) {
		dir := t.TempDir()
		os.MkdirAll(filepath.Join(dir, "shirt"), 0755)
		os.MkdirAll(filepath.Join(dir, "hat"), 0755)
		writePNG(t, filepath.Join(dir, "shirt", "a.png"), color.Black)
		if _, err := LoadDataset(context.Background(), dir, catalog, features.New(), fileLoader{}); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("undecodable image", func(t *testing.T) {
		dir := t.TempDir()
		os.MkdirAll(filepath.Join(dir, "shirt"), 0755)
		os.MkdirAll(filepath.Join(dir, "hat"), 0755)
		writePNG(t, filepath.Join(dir, "shirt", "a.png"), color.Black)
		os.WriteFile(filepath.Join(dir, "hat", "broken.png"), []byte("not a png"), 0644)
		if _, err := LoadDataset(context.Background(), dir, catalog, features.New(), fileLoader{}); err == nil {
			t.Error("Expected error for undecodable image")
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		if _, err := LoadDataset(context.Background(), filepath.Join(t.TempDir(), "nope"), catalog, features.New(), fileLoader{}); err == nil {
			t.Error("Expected error for missing directory")
		}
	})
}

func BenchmarkClassify(b *testing.B) {
	catalog, _ := NewCatalog([]string{"shirt", "hat", "hoodie", "jacket", "polo", "tank", "cap"})
	c := New(catalog)
	net, _ := nn.NewNet(Architecture(7), nil)
	var buf bytes.Buffer
	net.Save(&buf)
	c.Load(&buf)
	grid := uniformGrid(0.5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Classify(grid)
	}
}
