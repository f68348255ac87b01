package palette

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/menta2k/logo-placer/pkg/types"
)

// DataFile is the palette description stored in every logo directory
const DataFile = "data.json"

// Logo is one catalog logo with a palette per production method
type Logo struct {
	Name        string
	Dir         string
	productions map[string]Palette
	order       []string
}

// NewLogo creates a logo from palettes listed in production order
func NewLogo(name, dir string, productions []string, palettes []Palette) *Logo {
	l := &Logo{Name: name, Dir: dir, productions: make(map[string]Palette, len(productions))}
	for i, p := range productions {
		if _, ok := l.productions[p]; !ok {
			l.order = append(l.order, p)
		}
		l.productions[p] = palettes[i]
	}
	return l
}

// Productions returns the production methods in file order
func (l *Logo) Productions() []string {
	return append([]string(nil), l.order...)
}

// Palette returns the color variants for a production method
func (l *Logo) Palette(production string) (Palette, error) {
	p, ok := l.productions[production]
	if !ok || len(p) == 0 {
		return nil, fmt.Errorf("%w: logo %q has no %q variants", types.ErrEmptyPalette, l.Name, production)
	}
	return p, nil
}

// AssetPath returns the file holding an asset of this logo
func (l *Logo) AssetPath(asset string) string {
	return filepath.Join(l.Dir, filepath.Base(asset))
}

// ParseColorKey parses an "r,g,b" palette key
func ParseColorKey(s string) (types.ColorKey, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return types.ColorKey{}, fmt.Errorf("%w: color key %q must have 3 channels", types.ErrInvalidInput, s)
	}
	var ch [3]int
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 || v > 255 {
			return types.ColorKey{}, fmt.Errorf("%w: color key %q has invalid channel %q", types.ErrInvalidInput, s, part)
		}
		ch[i] = v
	}
	return types.ColorKey{R: ch[0], G: ch[1], B: ch[2]}, nil
}

// ParseData decodes a data.json document of the form
// {"production": {"r,g,b": "asset.png", ...}, ...}.
// Object key order is kept since it decides ties during selection.
func ParseData(r io.Reader) ([]string, []Palette, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, nil, err
	}

	var names []string
	var palettes []Palette
	for dec.More() {
		name, err := stringToken(dec)
		if err != nil {
			return nil, nil, err
		}
		p, err := parsePalette(dec)
		if err != nil {
			return nil, nil, fmt.Errorf("production %q: %w", name, err)
		}
		names = append(names, name)
		palettes = append(palettes, p)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, err
	}
	return names, palettes, nil
}

func parsePalette(dec *json.Decoder) (Palette, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var p Palette
	seen := make(map[types.ColorKey]int)
	for dec.More() {
		raw, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		key, err := ParseColorKey(raw)
		if err != nil {
			return nil, err
		}
		var asset string
		if err := dec.Decode(&asset); err != nil {
			return nil, fmt.Errorf("failed to decode asset for %s: %w", raw, err)
		}
		// a repeated key keeps its first position and takes the last asset
		if i, ok := seen[key]; ok {
			p[i].Asset = asset
			continue
		}
		seen[key] = len(p)
		p = append(p, Entry{Key: key, Asset: asset})
	}
	return p, expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read palette data: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q in palette data, got %v", types.ErrInvalidInput, want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("failed to read palette data: %w", err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected object key in palette data, got %v", types.ErrInvalidInput, tok)
	}
	return s, nil
}

// LoadLogo reads dir/data.json. A directory without a data file yields a logo
// with no palettes.
func LoadLogo(name, dir string) (*Logo, error) {
	f, err := os.Open(filepath.Join(dir, DataFile))
	if errors.Is(err, os.ErrNotExist) {
		return NewLogo(name, dir, nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open palette for %s: %w", name, err)
	}
	defer f.Close()

	productions, palettes, err := ParseData(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse palette for %s: %w", name, err)
	}
	return NewLogo(name, dir, productions, palettes), nil
}

// Catalog holds every logo of a store, keyed by directory name
type Catalog struct {
	logos map[string]*Logo
	names []string
}

// NewCatalog creates a catalog from already loaded logos
func NewCatalog(logos ...*Logo) *Catalog {
	c := &Catalog{logos: make(map[string]*Logo, len(logos))}
	for _, l := range logos {
		if _, ok := c.logos[l.Name]; !ok {
			c.names = append(c.names, l.Name)
		}
		c.logos[l.Name] = l
	}
	return c
}

// LoadCatalog loads every subdirectory of dir as a logo
func LoadCatalog(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read logo directory: %w", err)
	}

	var logos []*Logo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		l, err := LoadLogo(entry.Name(), filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		logos = append(logos, l)
	}
	return NewCatalog(logos...), nil
}

// Names returns the logo names in directory order
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Logo returns a logo by name
func (c *Catalog) Logo(name string) (*Logo, error) {
	l, ok := c.logos[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownLogo, name)
	}
	return l, nil
}

// Palette returns the variants of a logo for one production method
func (c *Catalog) Palette(logo, production string) (Palette, error) {
	l, err := c.Logo(logo)
	if err != nil {
		return nil, err
	}
	return l.Palette(production)
}
