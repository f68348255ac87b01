package garment

import (
	"fmt"
	"strings"

	"github.com/menta2k/logo-placer/pkg/types"
)

// Catalog is the ordered list of garment categories. A category's position is
// the classifier output index that stands for it.
type Catalog struct {
	names []string
	index map[string]int
}

// NewCatalog validates names and builds the name to index association.
// Names must be non-empty and unique.
func NewCatalog(names []string) (*Catalog, error) {
	if len(names) < 2 {
		return nil, fmt.Errorf("%w: catalog needs at least 2 categories, got %d", types.ErrInvalidInput, len(names))
	}

	c := &Catalog{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: category %d has an empty name", types.ErrInvalidInput, i)
		}
		if prev, ok := c.index[name]; ok {
			return nil, fmt.Errorf("%w: category %q listed at %d and %d", types.ErrInvalidInput, name, prev, i)
		}
		c.names[i] = name
		c.index[name] = i
	}
	return c, nil
}

// Len returns the number of categories
func (c *Catalog) Len() int {
	return len(c.names)
}

// Names returns the categories in index order
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Index returns the output index of a category
func (c *Catalog) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Name returns the category at index i
func (c *Catalog) Name(i int) (string, bool) {
	if i < 0 || i >= len(c.names) {
		return "", false
	}
	return c.names[i], true
}

// Contains reports whether name is a known category
func (c *Catalog) Contains(name string) bool {
	_, ok := c.index[name]
	return ok
}

// CheckLayout verifies that every category has placement defaults
func (c *Catalog) CheckLayout(layout types.LayoutDefaults) error {
	for _, name := range c.names {
		if _, err := layout.Lookup(name); err != nil {
			return err
		}
	}
	return nil
}
