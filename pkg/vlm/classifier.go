package vlm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/menta2k/logo-placer/pkg/garment"
	"github.com/menta2k/logo-placer/pkg/processing"
)

// ErrNoCategory is returned when the model's answer names no catalog category
var ErrNoCategory = errors.New("model answer matches no garment category")

// PromptTemplate asks for one category out of the list substituted for %s
const PromptTemplate = `You classify product photos of blank garments.

Pick exactly one category from this list: %s

Return JSON only:
{"category": "one of the listed names", "confidence": 0.0}

No markdown, no code fences, no comments.`

// Answer is the JSON the model is asked to return
type Answer struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Config holds classifier settings
type Config struct {
	Model   string
	MaxDim  int
	Quality int
	// Timeout bounds one model query, zero leaves it to the client
	Timeout time.Duration
	Logger  log.FieldLogger
}

// Classifier maps garment photos to catalog categories by asking a vision model
type Classifier struct {
	client    Client
	catalog   *garment.Catalog
	processor *processing.Processor
	config    Config
	prompt    string
}

// NewClassifier creates a classifier answering with names from catalog
func NewClassifier(client Client, catalog *garment.Catalog, processor *processing.Processor, config Config) *Classifier {
	if config.MaxDim <= 0 {
		config.MaxDim = 768
	}
	if config.Quality <= 0 {
		config.Quality = 85
	}
	if config.Logger == nil {
		config.Logger = log.StandardLogger()
	}
	return &Classifier{
		client:    client,
		catalog:   catalog,
		processor: processor,
		config:    config,
		prompt:    fmt.Sprintf(PromptTemplate, strings.Join(catalog.Names(), ", ")),
	}
}

// Catalog returns the categories the classifier answers with
func (c *Classifier) Catalog() *garment.Catalog {
	return c.catalog
}

// ClassifyImage asks the model for the category of img
func (c *Classifier) ClassifyImage(ctx context.Context, img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("nil image")
	}

	imgB64, err := c.processor.PrepareImageForModel(img, "jpg", c.config.MaxDim, c.config.Quality)
	if err != nil {
		return "", fmt.Errorf("failed to prepare image: %w", err)
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	raw, err := c.client.Query(ctx, c.config.Model, c.prompt, imgB64)
	if err != nil {
		return "", err
	}

	category, err := c.match(raw)
	if err != nil {
		c.config.Logger.WithField("answer", raw).Warn("Vision model answer not understood")
		return "", err
	}

	c.config.Logger.WithFields(log.Fields{
		"model":    c.config.Model,
		"category": category,
	}).Debug("Vision model classified garment")
	return category, nil
}

// match resolves a raw answer to a catalog name. The JSON category field is
// preferred; otherwise the first catalog name found in the text wins.
func (c *Classifier) match(raw string) (string, error) {
	var answer Answer
	if err := json.Unmarshal([]byte(sanitizeModelJSON(raw)), &answer); err == nil {
		if name, ok := c.lookup(answer.Category); ok {
			return name, nil
		}
	}

	text := strings.ToLower(raw)
	best, bestAt := "", -1
	for _, name := range c.catalog.Names() {
		at := strings.Index(text, strings.ToLower(name))
		if at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = name, at
		}
	}
	if bestAt < 0 {
		return "", fmt.Errorf("%w: %q", ErrNoCategory, strings.TrimSpace(raw))
	}
	return best, nil
}

func (c *Classifier) lookup(category string) (string, bool) {
	category = strings.TrimSpace(category)
	for _, name := range c.catalog.Names() {
		if strings.EqualFold(name, category) {
			return name, true
		}
	}
	return "", false
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments and trailing commas and
// keeps the outermost object
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
