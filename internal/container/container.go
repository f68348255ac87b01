package container

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	logoplacer "github.com/menta2k/logo-placer"
	"github.com/menta2k/logo-placer/internal/config"
	"github.com/menta2k/logo-placer/internal/server"
	"github.com/menta2k/logo-placer/internal/store"
	"github.com/menta2k/logo-placer/internal/utils"
	"github.com/menta2k/logo-placer/pkg/features"
	"github.com/menta2k/logo-placer/pkg/garment"
	"github.com/menta2k/logo-placer/pkg/logowidth"
	"github.com/menta2k/logo-placer/pkg/nn"
	"github.com/menta2k/logo-placer/pkg/processing"
	"github.com/menta2k/logo-placer/pkg/sampler"
	"github.com/menta2k/logo-placer/pkg/vlm"
)

// Container holds all initialized components
type Container struct {
	Config     *config.Config
	Processor  *processing.Processor
	Store      *store.Store
	Catalog    *garment.Catalog
	Classifier logoplacer.GarmentClassifier
	// CNN is the trained network classifier, nil with a vision model backend
	CNN    *garment.Classifier
	Placer *logoplacer.Placer
	Server *server.Server

	extractor *features.Extractor
	logger    log.FieldLogger
}

// Options selects how much of the container New brings up
type Options struct {
	// SkipModel leaves the CNN untrained and unloaded, for the train command
	SkipModel bool
}

// New creates a new container with all dependencies initialized. With the
// cnn backend the model is loaded from its snapshot or trained from the
// training directory.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	c := &Container{
		Config:    cfg,
		Processor: processing.NewProcessor(),
		logger:    log.StandardLogger(),
	}

	catalog, err := garment.NewCatalog(cfg.Catalog.Categories)
	if err != nil {
		return nil, fmt.Errorf("failed to build garment catalog: %w", err)
	}
	c.Catalog = catalog

	st, err := store.Open(cfg.Store, c.Processor)
	if err != nil {
		return nil, fmt.Errorf("failed to open logo store: %w", err)
	}
	c.Store = st

	if err := c.initClassifier(ctx, opts); err != nil {
		return nil, err
	}

	mode, err := sampler.ParseMode(cfg.Sampling.Mode)
	if err != nil {
		return nil, err
	}
	estimator := logowidth.DefaultConfig()
	estimator.RowStride = cfg.Estimator.RowStride

	placer, err := logoplacer.New(logoplacer.Options{
		Classifier: c.Classifier,
		Catalog:    catalog,
		Layout:     cfg.LayoutDefaults(),
		Palettes:   st,
		Assets:     st,
		Sampler:    sampler.NewWithConfig(sampler.Config{Mode: mode, Radius: cfg.Sampling.Radius}),
		Estimator:  logowidth.NewWithConfig(estimator),
		Processor:  c.Processor,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.Placer = placer
	c.Server = server.New(cfg.Server, placer, st, c.logger)

	return c, nil
}

func (c *Container) initClassifier(ctx context.Context, opts Options) error {
	cfg := c.Config
	backend := strings.ToLower(cfg.Vision.Backend)
	if backend != "" && backend != "cnn" {
		client, err := vlm.NewClient(backend, cfg.Vision.URL)
		if err != nil {
			return err
		}
		c.Classifier = vlm.NewClassifier(client, c.Catalog, c.Processor, vlm.Config{
			Model:   cfg.Vision.Model,
			MaxDim:  cfg.Vision.MaxDim,
			Timeout: time.Duration(cfg.Vision.Timeout) * time.Second,
			Logger:  c.logger,
		})
		log.WithFields(log.Fields{
			"backend": backend,
			"url":     cfg.Vision.URL,
			"model":   cfg.Vision.Model,
		}).Info("Using vision model classifier")
		return nil
	}

	filter, err := features.FilterByName(cfg.Model.Resample)
	if err != nil {
		return err
	}
	c.extractor = features.NewWithConfig(features.Config{Filter: filter})
	trainer := nn.DefaultTrainerConfig()
	trainer.L2Decay = cfg.Model.L2Decay

	c.CNN = garment.NewWithConfig(c.Catalog, garment.Config{
		Epochs:      cfg.Model.Epochs,
		ReportEvery: cfg.Model.ReportEvery,
		Seed:        cfg.Model.Seed,
		Trainer:     trainer,
		Extractor:   c.extractor,
		Logger:      c.logger,
	})
	c.Classifier = c.CNN

	if opts.SkipModel {
		return nil
	}

	if cfg.Model.UseSnapshot {
		if utils.FileExists(cfg.Model.SnapshotPath) {
			return c.LoadSnapshot()
		}
		log.WithField("path", cfg.Model.SnapshotPath).Warn("Snapshot not found, training a new model")
	}

	if _, err := c.Train(ctx); err != nil {
		return err
	}
	return nil
}

// LoadSnapshot loads the CNN from the configured snapshot file
func (c *Container) LoadSnapshot() error {
	path := c.Config.Model.SnapshotPath
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if err := c.CNN.Load(f); err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", path, err)
	}
	log.WithField("path", path).Info("Classifier loaded from snapshot")
	return nil
}

// Train fits the CNN to the training directory and, when configured, writes
// the snapshot. A failed or cancelled run leaves the snapshot untouched.
func (c *Container) Train(ctx context.Context) (garment.Report, error) {
	if c.CNN == nil {
		return garment.Report{}, fmt.Errorf("training needs the cnn backend, configured %q", c.Config.Vision.Backend)
	}
	cfg := c.Config.Model

	log.WithField("dir", cfg.TrainingDir).Info("Loading training images...")
	examples, err := garment.LoadDataset(ctx, cfg.TrainingDir, c.Catalog, c.extractor, c.Processor)
	if err != nil {
		return garment.Report{}, fmt.Errorf("failed to load training data: %w", err)
	}

	log.WithFields(log.Fields{
		"examples": len(examples),
		"epochs":   cfg.Epochs,
	}).Info("Creating item classifier...")
	report, err := c.CNN.Train(ctx, examples)
	if err != nil {
		return garment.Report{}, fmt.Errorf("training failed: %w", err)
	}
	log.WithFields(log.Fields{
		"loss":     report.Loss,
		"accuracy": report.Accuracy,
		"duration": report.Duration.String(),
	}).Info("Finished creating classifier")

	if cfg.SaveAfterTrain {
		if err := c.SaveSnapshot(); err != nil {
			return report, err
		}
	}
	return report, nil
}

// SaveSnapshot writes the CNN to the configured snapshot file atomically
func (c *Container) SaveSnapshot() error {
	path := c.Config.Model.SnapshotPath
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := c.CNN.Save(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	log.WithField("path", path).Info("Classifier snapshot saved")
	return nil
}

// Run serves HTTP until ctx is cancelled. SIGHUP reloads the logo catalog.
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Server.Run(ctx)
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				if err := c.Store.Reload(); err != nil {
					log.WithError(err).Error("Failed to reload logo catalog")
				}
			}
		}
	})

	return g.Wait()
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Info("Shutting down container...")
	if err := c.Processor.Close(); err != nil {
		return err
	}
	log.Info("Container shut down successfully")
	return nil
}
