package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/menta2k/logo-placer/pkg/sampler"
	"github.com/menta2k/logo-placer/pkg/types"
)

// LogoRect returns where a logo of the given size lands on a garment image
// for a placement: the top-left corner sits at (left%, top%) and the logo is
// scaled to the placement width keeping its aspect ratio.
func LogoRect(garment image.Rectangle, logo image.Rectangle, placement types.PlacementResult) (image.Rectangle, error) {
	if logo.Dx() == 0 || logo.Dy() == 0 {
		return image.Rectangle{}, fmt.Errorf("%w: logo has zero area", types.ErrInvalidInput)
	}
	w := int(math.Round(placement.Width))
	if w < 1 {
		return image.Rectangle{}, fmt.Errorf("%w: logo width %v", types.ErrInvalidInput, placement.Width)
	}
	h := int(math.Round(float64(w) * float64(logo.Dy()) / float64(logo.Dx())))
	if h < 1 {
		h = 1
	}
	origin := sampler.Point(garment, placement.Left, placement.Top)
	return image.Rect(origin.X, origin.Y, origin.X+w, origin.Y+h), nil
}

// ComposePreview draws logo onto a copy of garment the way the browser UI
// lays it out. Rotation is a turn about the vertical axis, so it narrows the
// logo by |cos| around its center and mirrors it past 90 degrees.
func (p *Processor) ComposePreview(garment, logo image.Image, placement types.PlacementResult) (*image.NRGBA, error) {
	rect, err := LogoRect(garment.Bounds(), logo.Bounds(), placement)
	if err != nil {
		return nil, err
	}

	scaled := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), logo, logo.Bounds(), xdraw.Src, nil)

	art := scaled
	offset := 0
	if placement.Rotation != 0 {
		cos := math.Cos(placement.Rotation * math.Pi / 180)
		narrow := int(math.Round(float64(rect.Dx()) * math.Abs(cos)))
		if narrow < 1 {
			return imaging.Clone(garment), nil
		}
		art = imaging.Resize(scaled, narrow, rect.Dy(), imaging.Linear)
		if cos < 0 {
			art = imaging.FlipH(art)
		}
		offset = (rect.Dx() - narrow) / 2
	}

	canvas := imaging.Clone(garment)
	pos := rect.Min.Sub(garment.Bounds().Min).Add(image.Pt(offset, 0))
	return imaging.Overlay(canvas, art, pos, 1.0), nil
}

// CreateDebugOverlay marks the sample point with a crosshair, outlines the
// logo rectangle and paints a swatch of the sampled color in the corner
func (p *Processor) CreateDebugOverlay(img image.Image, samplePoint image.Point, logoRect image.Rectangle, background types.Color) image.Image {
	nrgba := imaging.Clone(img)
	origin := img.Bounds().Min
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	gold := color.NRGBA{255, 204, 0, 255}                   // logo box
	red := color.NRGBA{255, 0, 0, 255}                      // sample point
	stroke := int(math.Max(2, 0.004*float64(minInt(w, h)))) // ~0.4% of min side
	cross := int(math.Max(4, 0.01*float64(minInt(w, h))))   // ~1% of min side

	if !logoRect.Empty() {
		drawRect(nrgba, logoRect.Sub(origin), gold, stroke)
	}

	px, py := samplePoint.X-origin.X, samplePoint.Y-origin.Y
	drawHLine(nrgba, py, px-cross, px+cross, red)
	drawVLine(nrgba, px, py-cross, py+cross, red)

	swatch := int(math.Max(12, 0.06*float64(minInt(w, h))))
	fill := color.NRGBA{background.R, background.G, background.B, 255}
	for y := 0; y < swatch; y++ {
		drawHLine(nrgba, y, 0, swatch, fill)
	}
	drawRect(nrgba, image.Rect(0, 0, swatch, swatch), red, 1)

	return nrgba
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	if err := EncodeImage(&buf, img, format, quality); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodeImage writes img as png, webp or jpeg
func EncodeImage(w io.Writer, img image.Image, format string, quality int) error {
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	case "webp":
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	default: // jpg
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// FormatFromPath picks an output format from a file extension
func FormatFromPath(path string) string {
	low := strings.ToLower(path)
	switch {
	case strings.HasSuffix(low, ".png"):
		return "png"
	case strings.HasSuffix(low, ".webp"):
		return "webp"
	default:
		return "jpg"
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
