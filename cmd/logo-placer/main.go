package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/menta2k/logo-placer/internal/config"
	"github.com/menta2k/logo-placer/internal/container"
	"github.com/menta2k/logo-placer/internal/utils"
	"github.com/menta2k/logo-placer/pkg/placement"
	"github.com/menta2k/logo-placer/pkg/processing"
)

const usage = `usage: %s [serve|train|place] [flags]

  serve   start the HTTP server (default)
  train   train the garment classifier and write the snapshot
  place   compute a placement for one garment image
  config  write the effective configuration as JSON to --out

Run "%[1]s <command> --help" for the flags of a command.
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	fs := pflag.NewFlagSet(cmd, pflag.ExitOnError)
	config.RegisterFlags(fs)

	var run func(ctx context.Context, cfg *config.Config) error
	switch cmd {
	case "serve":
		run = serve
	case "train":
		run = train
	case "place":
		run = placeCommand(fs)
	case "config":
		out := fs.StringP("out", "o", "config.json", "File the configuration is written to")
		run = func(ctx context.Context, cfg *config.Config) error {
			if err := cfg.SaveToFile(*out); err != nil {
				return err
			}
			log.WithField("path", *out).Info("Configuration written")
			return nil
		}
	default:
		fmt.Fprintf(os.Stderr, usage, filepath.Base(os.Args[0]))
		os.Exit(2)
	}
	fs.Parse(args)

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := setupLogging(cfg.Log); err != nil {
		log.Fatalf("Invalid log configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Debug("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func setupLogging(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info("Starting logo placer...")

	app, err := container.New(ctx, cfg, container.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}

func train(ctx context.Context, cfg *config.Config) error {
	cfg.Model.SaveAfterTrain = true

	app, err := container.New(ctx, cfg, container.Options{SkipModel: true})
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer app.Close()

	report, err := app.Train(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(report)
}

// placeCommand registers the flags of the place command and returns its runner
func placeCommand(fs *pflag.FlagSet) func(ctx context.Context, cfg *config.Config) error {
	in := fs.StringP("in", "i", "", "Garment image path or URL")
	logo := fs.String("logo", "", "Catalog logo name")
	production := fs.String("production", "", "Production method used to pick the palette")
	upload := fs.String("upload", "", "Logo image file used instead of a catalog logo")
	category := fs.String("category", "", "Garment category, skips classification")
	custom := fs.Bool("custom", false, "Use the custom-* placement instead of the category layout")
	top := fs.String("custom-top", "", "Custom logo top, percent of height")
	left := fs.String("custom-left", "", "Custom logo left, percent of width")
	width := fs.String("custom-width", "", "Custom logo width in pixels")
	skew := fs.String("custom-skew", "0", "Custom logo rotation, degrees")
	preview := fs.Bool("preview", false, "Write a preview image with the logo composited")
	debug := fs.Bool("debug", false, "Write a debug overlay image")
	outDir := fs.String("out", "", "Output directory for preview images, defaults to the input directory")
	format := fs.String("format", "png", "Preview format: png|jpg|webp")

	return func(ctx context.Context, cfg *config.Config) error {
		if *in == "" {
			return fmt.Errorf("--in is required")
		}
		if *upload == "" && *logo == "" {
			return fmt.Errorf("either --logo or --upload is required")
		}

		app, err := container.New(ctx, cfg, container.Options{})
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer app.Close()

		img, err := app.Processor.LoadImageSmart(ctx, *in)
		if err != nil {
			return err
		}

		req := placement.Request{
			Category:    *category,
			UseCustom:   *custom,
			CustomTop:   *top,
			CustomLeft:  *left,
			CustomWidth: *width,
			CustomSkew:  *skew,
			Logo:        *logo,
			Production:  *production,
			BlankImage:  filepath.Base(*in),
		}
		if *upload != "" {
			logoImg, err := app.Processor.LoadImage(*upload)
			if err != nil {
				return err
			}
			req.Upload = &placement.Upload{Name: filepath.Base(*upload), Image: logoImg}
		}

		result, err := app.Placer.Place(ctx, img, req)
		if err != nil {
			return err
		}

		if (*preview || *debug) && *outDir != "" {
			if err := utils.EnsureDir(*outDir); err != nil {
				return err
			}
		}
		if *preview {
			out, err := app.Placer.Preview(ctx, img, req, result)
			if err != nil {
				return err
			}
			path := utils.PreviewFilename(*in, *outDir, "_preview", *format)
			if err := app.Processor.SaveImage(out, path, processing.FormatFromPath(path), 92, false); err != nil {
				return fmt.Errorf("preview save failed: %w", err)
			}
			log.WithField("path", path).Info("Preview written")
		}
		if *debug {
			out, err := app.Placer.DebugPreview(ctx, img, req, result)
			if err != nil {
				return err
			}
			path := utils.PreviewFilename(*in, *outDir, "_debug", *format)
			if err := app.Processor.SaveImage(out, path, processing.FormatFromPath(path), 92, false); err != nil {
				return fmt.Errorf("debug overlay save failed: %w", err)
			}
			log.WithField("path", path).Info("Debug overlay written")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}
