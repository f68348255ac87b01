// Package garment classifies clothing photos into catalog categories with a
// small convolutional network.
package garment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/logo-placer/pkg/features"
	"github.com/menta2k/logo-placer/pkg/nn"
	"github.com/menta2k/logo-placer/pkg/types"
)

// ErrNoModel is returned by Classify before a model was trained or loaded
var ErrNoModel = errors.New("classifier has no trained model")

// Architecture returns the fixed layer stack for a catalog of the given size:
// three conv(5x5, pad 2)+ReLU / pool(2x2) stages with 8, 16 and 32 filters,
// then a softmax over the categories.
func Architecture(classes int) []nn.LayerSpec {
	return []nn.LayerSpec{
		nn.InputSpec{SX: types.GridSize, SY: types.GridSize, Depth: 1},
		nn.ConvSpec{Size: 5, Filters: 8, Stride: 1, Pad: 2, ReLU: true},
		nn.PoolSpec{Size: 2, Stride: 2},
		nn.ConvSpec{Size: 5, Filters: 16, Stride: 1, Pad: 2, ReLU: true},
		nn.PoolSpec{Size: 2, Stride: 2},
		nn.ConvSpec{Size: 5, Filters: 32, Stride: 1, Pad: 2, ReLU: true},
		nn.PoolSpec{Size: 2, Stride: 2},
		nn.SoftmaxSpec{Classes: classes},
	}
}

// Config holds configuration for training
type Config struct {
	Epochs      int
	ReportEvery int
	Seed        uint64
	Trainer     nn.TrainerConfig
	Extractor   *features.Extractor
	Logger      log.FieldLogger
}

// DefaultConfig returns 10000 epochs of online Adadelta, reporting every 1000
func DefaultConfig() Config {
	return Config{
		Epochs:      10000,
		ReportEvery: 1000,
		Seed:        1,
		Trainer:     nn.DefaultTrainerConfig(),
	}
}

// Report summarizes a finished training run
type Report struct {
	Epochs   int           `json:"epochs"`
	Examples int           `json:"examples"`
	Loss     float64       `json:"loss"`
	Accuracy float64       `json:"accuracy"`
	Duration time.Duration `json:"duration"`
}

// Classifier maps feature grids to catalog categories
type Classifier struct {
	catalog   *Catalog
	config    Config
	extractor *features.Extractor
	logger    log.FieldLogger

	mu  sync.RWMutex
	net *nn.Net
}

// New creates a classifier with default configuration
func New(catalog *Catalog) *Classifier {
	return NewWithConfig(catalog, DefaultConfig())
}

// NewWithConfig creates a classifier with custom configuration
func NewWithConfig(catalog *Catalog, config Config) *Classifier {
	if config.Epochs <= 0 {
		config.Epochs = DefaultConfig().Epochs
	}
	if config.ReportEvery <= 0 {
		config.ReportEvery = DefaultConfig().ReportEvery
	}
	if config.Trainer.Ro == 0 {
		config.Trainer = nn.DefaultTrainerConfig()
	}
	c := &Classifier{
		catalog:   catalog,
		config:    config,
		extractor: config.Extractor,
		logger:    config.Logger,
	}
	if c.extractor == nil {
		c.extractor = features.New()
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	return c
}

// Catalog returns the category list the classifier predicts over
func (c *Classifier) Catalog() *Catalog {
	return c.catalog
}

// Ready reports whether a model is available
func (c *Classifier) Ready() bool {
	return c.model() != nil
}

func (c *Classifier) model() *nn.Net {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.net
}

// Train builds a fresh network and fits it to examples. The trained model
// replaces the current one only when every epoch completed; on error or
// cancellation the previous model is kept.
func (c *Classifier) Train(ctx context.Context, examples []types.LabeledExample) (Report, error) {
	if len(examples) == 0 {
		return Report{}, fmt.Errorf("%w: no training examples", types.ErrInvalidInput)
	}
	for i, ex := range examples {
		if err := ex.Grid.Validate(); err != nil {
			return Report{}, fmt.Errorf("example %d (%s): %w", i, ex.Source, err)
		}
		if _, ok := c.catalog.Name(ex.Label); !ok {
			return Report{}, fmt.Errorf("%w: example %d (%s) has label %d outside catalog of %d",
				types.ErrInvalidInput, i, ex.Source, ex.Label, c.catalog.Len())
		}
	}

	rng := rand.New(rand.NewPCG(c.config.Seed, c.config.Seed^0x9e3779b97f4a7c15))
	net, err := nn.NewNet(Architecture(c.catalog.Len()), rng)
	if err != nil {
		return Report{}, fmt.Errorf("failed to build network: %w", err)
	}
	trainer := nn.NewTrainer(net, c.config.Trainer)

	c.logger.WithFields(log.Fields{
		"examples": len(examples),
		"epochs":   c.config.Epochs,
		"params":   net.ParamCount(),
	}).Info("Training garment classifier")

	start := time.Now()
	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}
	losses := make([]float64, len(examples))
	costs := make([]float64, len(examples))
	l2 := make([]float64, len(examples))
	hits := make([]float64, len(examples))

	var report Report
	for epoch := 1; epoch <= c.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return Report{}, fmt.Errorf("training aborted at epoch %d: %w", epoch, err)
		}

		shuffle(rng, order)
		for i, idx := range order {
			ex := examples[idx]
			s, err := trainer.Train(ex.Grid, ex.Label)
			if err != nil {
				return Report{}, fmt.Errorf("failed to train on %s: %w", ex.Source, err)
			}
			losses[i], costs[i], l2[i] = s.Loss, s.CostLoss, s.L2DecayLoss
			hits[i] = 0
			if s.Correct {
				hits[i] = 1
			}
		}

		report = Report{
			Epochs:   epoch,
			Examples: len(examples),
			Loss:     stat.Mean(losses, nil),
			Accuracy: stat.Mean(hits, nil),
		}
		if epoch%c.config.ReportEvery == 0 || epoch == c.config.Epochs {
			c.logger.WithFields(log.Fields{
				"epoch":         epoch,
				"loss":          report.Loss,
				"cost_loss":     stat.Mean(costs, nil),
				"l2_decay_loss": stat.Mean(l2, nil),
				"accuracy":      report.Accuracy,
			}).Info("Training progress")
		}
	}
	report.Duration = time.Since(start)

	c.mu.Lock()
	c.net = net
	c.mu.Unlock()
	return report, nil
}

// shuffle is an in-place Fisher-Yates shuffle
func shuffle(rng *rand.Rand, order []int) {
	for i := len(order) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		order[i], order[j] = order[j], order[i]
	}
}

// Load replaces the model with a snapshot written by Save
func (c *Classifier) Load(r io.Reader) error {
	net, err := nn.Load(r, Architecture(c.catalog.Len()))
	if err != nil {
		return fmt.Errorf("failed to load classifier: %w", err)
	}
	if net.Classes() != c.catalog.Len() {
		return fmt.Errorf("%w: model has %d classes, catalog has %d", types.ErrModelFormat, net.Classes(), c.catalog.Len())
	}
	c.mu.Lock()
	c.net = net
	c.mu.Unlock()
	return nil
}

// Save writes the current model as a JSON snapshot
func (c *Classifier) Save(w io.Writer) error {
	net := c.model()
	if net == nil {
		return ErrNoModel
	}
	return net.Save(w)
}

// Scores returns the class probabilities for grid in catalog order
func (c *Classifier) Scores(grid types.FeatureGrid) ([]float64, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	net := c.model()
	if net == nil {
		return nil, ErrNoModel
	}
	probs, err := net.Forward(grid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	return probs, nil
}

// Classify returns the most probable category for grid. Equal scores resolve
// to the category listed first in the catalog.
func (c *Classifier) Classify(grid types.FeatureGrid) (string, error) {
	probs, err := c.Scores(grid)
	if err != nil {
		return "", err
	}
	name, ok := c.catalog.Name(nn.Argmax(probs))
	if !ok {
		return "", fmt.Errorf("%w: argmax outside catalog", types.ErrModelFormat)
	}
	return name, nil
}

// ClassifyImage extracts the feature grid of img and classifies it
func (c *Classifier) ClassifyImage(ctx context.Context, img image.Image) (string, error) {
	grid, err := c.extractor.Extract(img)
	if err != nil {
		return "", fmt.Errorf("failed to extract features: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.Classify(grid)
}
