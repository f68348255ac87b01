package garment

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/logo-placer/internal/utils"
	"github.com/menta2k/logo-placer/pkg/features"
	"github.com/menta2k/logo-placer/pkg/types"
)

// ImageLoader decodes an image file from disk
type ImageLoader interface {
	LoadImage(path string) (image.Image, error)
}

// LoadDataset reads a training directory holding one subdirectory per catalog
// category and returns the labeled feature grids. Subdirectory names are
// resolved through the catalog; an unknown subdirectory, a category without a
// subdirectory or images, or an undecodable image aborts the whole load.
// Examples are ordered by category index, then by file path.
func LoadDataset(ctx context.Context, dir string, catalog *Catalog, extractor *features.Extractor, loader ImageLoader) ([]types.LabeledExample, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read training directory: %w", err)
	}

	dirs := make([]string, catalog.Len())
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		idx, ok := catalog.Index(entry.Name())
		if !ok {
			return nil, fmt.Errorf("%w: training subdirectory %q is not a catalog category", types.ErrInvalidInput, entry.Name())
		}
		dirs[idx] = filepath.Join(dir, entry.Name())
	}
	for i, d := range dirs {
		if d == "" {
			name, _ := catalog.Name(i)
			return nil, fmt.Errorf("%w: no training subdirectory for category %q", types.ErrInvalidInput, name)
		}
	}

	perClass := make([][]types.LabeledExample, catalog.Len())
	g, ctx := errgroup.WithContext(ctx)
	for label, d := range dirs {
		g.Go(func() error {
			examples, err := loadCategory(ctx, d, label, extractor, loader)
			if err != nil {
				return err
			}
			perClass[label] = examples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []types.LabeledExample
	for _, examples := range perClass {
		all = append(all, examples...)
	}
	return all, nil
}

func loadCategory(ctx context.Context, dir string, label int, extractor *features.Extractor, loader ImageLoader) ([]types.LabeledExample, error) {
	files, err := utils.ListImageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: training subdirectory %s has no images", types.ErrInvalidInput, dir)
	}

	examples := make([]types.LabeledExample, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := loader.LoadImage(path)
		if err != nil {
			return nil, fmt.Errorf("failed to decode training image %s: %w", path, err)
		}
		grid, err := extractor.Extract(img)
		if err != nil {
			return nil, fmt.Errorf("failed to extract features from %s: %w", path, err)
		}
		examples = append(examples, types.LabeledExample{Grid: grid, Label: label, Source: path})
	}
	return examples, nil
}
