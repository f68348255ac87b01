// Package store manages the on-disk logo catalog and the directories holding
// uploaded garments and logos.
package store

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/menta2k/logo-placer/internal/config"
	"github.com/menta2k/logo-placer/internal/utils"
	"github.com/menta2k/logo-placer/pkg/palette"
	"github.com/menta2k/logo-placer/pkg/types"
)

// ImageLoader decodes an image file
type ImageLoader interface {
	LoadImage(path string) (image.Image, error)
}

// Store is a logo store rooted at a directory holding logos/<name>/data.json
// and the variant images next to it.
type Store struct {
	logosDir  string
	uploadDir string
	blankDir  string
	loader    ImageLoader

	mu      sync.RWMutex
	catalog *palette.Catalog

	assets sync.Map // asset path -> image.Image
}

// Open loads the catalog of the store described by cfg and creates the upload
// directories. A store without a logos directory has an empty catalog.
func Open(cfg config.StoreConfig, loader ImageLoader) (*Store, error) {
	s := &Store{
		logosDir:  cfg.LogosDir(),
		uploadDir: cfg.UploadDir,
		blankDir:  cfg.BlankDir,
		loader:    loader,
	}

	for _, dir := range []string{s.uploadDir, s.blankDir} {
		if dir == "" {
			continue
		}
		if err := utils.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rereads the logo catalog from disk and drops cached assets
func (s *Store) Reload() error {
	catalog := palette.NewCatalog()
	if utils.DirExists(s.logosDir) {
		c, err := palette.LoadCatalog(s.logosDir)
		if err != nil {
			return err
		}
		catalog = c
	} else {
		log.WithField("dir", s.logosDir).Warn("Logo directory not found, catalog is empty")
	}

	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
	s.assets.Clear()

	for _, name := range catalog.Names() {
		if l, err := catalog.Logo(name); err == nil {
			log.WithFields(log.Fields{
				"logo":        name,
				"productions": l.Productions(),
			}).Debug("Logo loaded")
		}
	}
	log.WithFields(log.Fields{
		"dir":   s.logosDir,
		"logos": len(catalog.Names()),
	}).Info("Logo catalog loaded")
	return nil
}

// Catalog returns the current logo catalog
func (s *Store) Catalog() *palette.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// LogoNames lists the catalog logos
func (s *Store) LogoNames() []string {
	return s.Catalog().Names()
}

// Palette returns the variants of a catalog logo for one production method
func (s *Store) Palette(logo, production string) (palette.Palette, error) {
	return s.Catalog().Palette(logo, production)
}

// LoadAsset loads the image of a catalog logo variant. Decoded images are
// cached until the next Reload.
func (s *Store) LoadAsset(ctx context.Context, logo, asset string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l, err := s.Catalog().Logo(logo)
	if err != nil {
		return nil, err
	}
	path := l.AssetPath(asset)

	if img, ok := s.assets.Load(path); ok {
		return img.(image.Image), nil
	}

	if s.loader == nil {
		return nil, fmt.Errorf("no image loader for %s", path)
	}
	img, err := s.loader.LoadImage(path)
	if err != nil {
		return nil, err
	}
	s.assets.Store(path, img)
	return img, nil
}

// Dirs returns the directories whose files are served to the browser, in
// lookup order: blanks, uploads, then each catalog logo.
func (s *Store) Dirs() []string {
	dirs := []string{s.blankDir, s.uploadDir}
	c := s.Catalog()
	for _, name := range c.Names() {
		l, err := c.Logo(name)
		if err != nil {
			continue
		}
		dirs = append(dirs, l.Dir)
	}
	return dirs
}

// SaveUpload stores an uploaded logo and returns its file name
func (s *Store) SaveUpload(name string, r io.Reader) (string, error) {
	return save(s.uploadDir, name, r)
}

// SaveBlank stores an uploaded garment photo and returns its file name
func (s *Store) SaveBlank(name string, r io.Reader) (string, error) {
	return save(s.blankDir, name, r)
}

// UploadPath returns the path of a stored upload
func (s *Store) UploadPath(name string) string {
	return filepath.Join(s.uploadDir, filepath.Base(name))
}

// BlankPath returns the path of a stored garment photo
func (s *Store) BlankPath(name string) string {
	return filepath.Join(s.blankDir, filepath.Base(name))
}

func save(dir, name string, r io.Reader) (string, error) {
	if dir == "" {
		return "", errors.New("no upload directory configured")
	}
	if r == nil {
		return "", fmt.Errorf("%w: empty upload %q", types.ErrInvalidInput, name)
	}

	filename := utils.UniqueFilename(name)
	path := filepath.Join(dir, filename)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"file": filename,
		"size": utils.FormatFileSize(n),
	}).Debug("Upload stored")
	return filename, nil
}
