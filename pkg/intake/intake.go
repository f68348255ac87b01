// Package intake checks garment and logo images received from clients before
// they reach the classifier or the placement engine.
package intake

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/menta2k/logo-placer/pkg/types"
)

// Validator checks uploaded images against size and format limits
type Validator struct {
	config Config
}

// Config holds limits for one kind of upload
type Config struct {
	SupportedFormats []string
	MinImageSize     int
	// MaxPixels bounds width*height before the image is decoded
	MaxPixels int
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Format      string  `json:"format"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspectRatio"`
	Area        int     `json:"area"`
}

// New creates a validator accepting non-empty jpeg, png, gif and webp images
// of at most 40 megapixels. Small images are fine, the feature extractor
// upsamples them.
func New() *Validator {
	return &Validator{
		config: Config{
			SupportedFormats: []string{"jpeg", "png", "gif", "webp"},
			MinImageSize:     1,
			MaxPixels:        40_000_000,
		},
	}
}

// NewWithConfig creates a validator with custom limits
func NewWithConfig(config Config) *Validator {
	return &Validator{config: config}
}

// Decode reads the header, checks format and dimensions, then decodes the
// full image. Every rejection wraps types.ErrInvalidInput.
func (v *Validator) Decode(r io.Reader) (image.Image, ImageInfo, error) {
	var head bytes.Buffer
	header, format, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		if head.Len() == 0 {
			return nil, ImageInfo{}, fmt.Errorf("%w: empty image", types.ErrInvalidInput)
		}
		return nil, ImageInfo{}, fmt.Errorf("%w: unrecognized image: %v", types.ErrInvalidInput, err)
	}

	info := ImageInfo{
		Format: format,
		Width:  header.Width,
		Height: header.Height,
		Area:   header.Width * header.Height,
	}
	if header.Height > 0 {
		info.AspectRatio = float64(header.Width) / float64(header.Height)
	}

	if err := v.check(info); err != nil {
		return nil, info, err
	}

	// the header bytes were consumed, replay them ahead of the rest
	img, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, info, fmt.Errorf("%w: failed to decode image: %v", types.ErrInvalidInput, err)
	}
	return img, info, nil
}

// ValidateImage checks an already decoded image against the size limits
func (v *Validator) ValidateImage(img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", types.ErrInvalidInput)
	}
	return v.check(GetImageInfo(img))
}

func (v *Validator) check(info ImageInfo) error {
	if info.Format != "" && !v.isFormatSupported(info.Format) {
		return fmt.Errorf("%w: unsupported image format: %s", types.ErrInvalidInput, info.Format)
	}
	if info.Width < v.config.MinImageSize || info.Height < v.config.MinImageSize {
		return fmt.Errorf("%w: image too small: %dx%d (minimum: %d)",
			types.ErrInvalidInput, info.Width, info.Height, v.config.MinImageSize)
	}
	if v.config.MaxPixels > 0 && info.Area > v.config.MaxPixels {
		return fmt.Errorf("%w: image too large: %dx%d (maximum: %d pixels)",
			types.ErrInvalidInput, info.Width, info.Height, v.config.MaxPixels)
	}
	return nil
}

// GetImageInfo returns basic information about an image
func GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{
		Width:  width,
		Height: height,
		Area:   width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

func (v *Validator) isFormatSupported(format string) bool {
	for _, supported := range v.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}
