package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/menta2k/logo-placer/pkg/types"
)

// EnvPrefix is prepended to every environment override, e.g. LOGOPLACER_SERVER_PORT
const EnvPrefix = "LOGOPLACER"

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Model     ModelConfig     `mapstructure:"model" json:"model"`
	Catalog   CatalogConfig   `mapstructure:"catalog" json:"catalog"`
	Store     StoreConfig     `mapstructure:"store" json:"store"`
	Estimator EstimatorConfig `mapstructure:"estimator" json:"estimator"`
	Sampling  SamplingConfig  `mapstructure:"sampling" json:"sampling"`
	Vision    VisionConfig    `mapstructure:"vision" json:"vision"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Host            string `mapstructure:"host" json:"host"`
	Port            int    `mapstructure:"port" json:"port"`
	StaticDir       string `mapstructure:"static_dir" json:"static_dir"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" json:"max_upload_mb"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig holds classifier training and snapshot settings
type ModelConfig struct {
	SnapshotPath   string  `mapstructure:"snapshot_path" json:"snapshot_path"`
	UseSnapshot    bool    `mapstructure:"use_snapshot" json:"use_snapshot"`
	TrainingDir    string  `mapstructure:"training_dir" json:"training_dir"`
	Epochs         int     `mapstructure:"epochs" json:"epochs"`
	ReportEvery    int     `mapstructure:"report_every" json:"report_every"`
	L2Decay        float64 `mapstructure:"l2_decay" json:"l2_decay"`
	Seed           uint64  `mapstructure:"seed" json:"seed"`
	Resample       string  `mapstructure:"resample" json:"resample"`
	SaveAfterTrain bool    `mapstructure:"save_after_train" json:"save_after_train"`
}

// CatalogConfig lists the garment categories and their default logo layout
type CatalogConfig struct {
	Categories []string                `mapstructure:"categories" json:"categories"`
	Layout     map[string]types.Layout `mapstructure:"layout" json:"layout"`
}

// StoreConfig locates the logo store and the upload directories
type StoreConfig struct {
	Root      string `mapstructure:"root" json:"root"`
	UploadDir string `mapstructure:"upload_dir" json:"upload_dir"`
	BlankDir  string `mapstructure:"blank_dir" json:"blank_dir"`
}

// LogosDir is the directory holding one subdirectory per catalog logo
func (s StoreConfig) LogosDir() string {
	return filepath.Join(s.Root, "logos")
}

// EstimatorConfig holds logo width estimation settings
type EstimatorConfig struct {
	RowStride int `mapstructure:"row_stride" json:"row_stride"`
}

// SamplingConfig holds background color sampling settings
type SamplingConfig struct {
	Mode   string `mapstructure:"mode" json:"mode"`
	Radius int    `mapstructure:"radius" json:"radius"`
}

// VisionConfig selects the garment classifier backend
type VisionConfig struct {
	Backend string `mapstructure:"backend" json:"backend"`
	URL     string `mapstructure:"url" json:"url"`
	Model   string `mapstructure:"model" json:"model"`
	Timeout int    `mapstructure:"timeout" json:"timeout"`
	MaxDim  int    `mapstructure:"max_dim" json:"max_dim"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			StaticDir:       "./public",
			MaxUploadMB:     20,
			ShutdownTimeout: 10,
		},
		Model: ModelConfig{
			SnapshotPath:   "./item-network.json",
			UseSnapshot:    true,
			TrainingDir:    "./training-items",
			Epochs:         10000,
			ReportEvery:    1000,
			L2Decay:        0.001,
			Seed:           1,
			Resample:       "linear",
			SaveAfterTrain: true,
		},
		Catalog: CatalogConfig{
			Categories: []string{"tshirt", "hoodie", "hat"},
			Layout: map[string]types.Layout{
				"tshirt": {Top: 30, Left: 40, Width: 120},
				"hoodie": {Top: 35, Left: 40, Width: 110},
				"hat":    {Top: 40, Left: 42, Width: 60},
			},
		},
		Store: StoreConfig{
			Root:      "./stores/default",
			UploadDir: "./logo-uploads",
			BlankDir:  "./blank-imgs",
		},
		Estimator: EstimatorConfig{
			RowStride: 20,
		},
		Sampling: SamplingConfig{
			Mode:   "pixel",
			Radius: 6,
		},
		Vision: VisionConfig{
			Backend: "cnn",
			URL:     "http://localhost:11434",
			Model:   "llava",
			Timeout: 60,
			MaxDim:  768,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.static_dir", d.Server.StaticDir)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("model.snapshot_path", d.Model.SnapshotPath)
	v.SetDefault("model.use_snapshot", d.Model.UseSnapshot)
	v.SetDefault("model.training_dir", d.Model.TrainingDir)
	v.SetDefault("model.epochs", d.Model.Epochs)
	v.SetDefault("model.report_every", d.Model.ReportEvery)
	v.SetDefault("model.l2_decay", d.Model.L2Decay)
	v.SetDefault("model.seed", d.Model.Seed)
	v.SetDefault("model.resample", d.Model.Resample)
	v.SetDefault("model.save_after_train", d.Model.SaveAfterTrain)

	v.SetDefault("catalog.categories", d.Catalog.Categories)
	for name, l := range d.Catalog.Layout {
		v.SetDefault("catalog.layout."+name, map[string]any{"top": l.Top, "left": l.Left, "width": l.Width})
	}

	v.SetDefault("store.root", d.Store.Root)
	v.SetDefault("store.upload_dir", d.Store.UploadDir)
	v.SetDefault("store.blank_dir", d.Store.BlankDir)

	v.SetDefault("estimator.row_stride", d.Estimator.RowStride)

	v.SetDefault("sampling.mode", d.Sampling.Mode)
	v.SetDefault("sampling.radius", d.Sampling.Radius)

	v.SetDefault("vision.backend", d.Vision.Backend)
	v.SetDefault("vision.url", d.Vision.URL)
	v.SetDefault("vision.model", d.Vision.Model)
	v.SetDefault("vision.timeout", d.Vision.Timeout)
	v.SetDefault("vision.max_dim", d.Vision.MaxDim)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"host":         "server.host",
	"port":         "server.port",
	"static":       "server.static_dir",
	"snapshot":     "model.snapshot_path",
	"use-snapshot": "model.use_snapshot",
	"training-dir": "model.training_dir",
	"epochs":       "model.epochs",
	"seed":         "model.seed",
	"store":        "store.root",
	"sampling":     "sampling.mode",
	"backend":      "vision.backend",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// RegisterFlags adds the configuration flags to fs. Flags only override the
// file and environment when set explicitly.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "", "Path to a YAML or JSON config file")
	fs.String("host", d.Server.Host, "Listen host")
	fs.IntP("port", "p", d.Server.Port, "Listen port")
	fs.String("static", d.Server.StaticDir, "Directory served as the web UI")
	fs.String("snapshot", d.Model.SnapshotPath, "Classifier snapshot file")
	fs.Bool("use-snapshot", d.Model.UseSnapshot, "Load the classifier snapshot instead of training")
	fs.String("training-dir", d.Model.TrainingDir, "Directory with one subdirectory of images per category")
	fs.Int("epochs", d.Model.Epochs, "Training epochs")
	fs.Uint64("seed", d.Model.Seed, "Training shuffle and init seed")
	fs.String("store", d.Store.Root, "Logo store root")
	fs.String("sampling", d.Sampling.Mode, "Background sampling mode: pixel or dominant")
	fs.String("backend", d.Vision.Backend, "Garment classifier backend: cnn, ollama or llamacpp")
	fs.String("log-level", d.Log.Level, "Log level")
	fs.String("log-format", d.Log.Format, "Log format: text or json")
}

// Load reads configuration from the defaults, an optional config file, the
// environment and explicitly set flags, in increasing precedence. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := ""
	if fs != nil {
		path, _ = fs.GetString("config")
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(GetConfigPath()))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &config, nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Set("config", filename); err != nil {
		return nil, err
	}
	return Load(fs)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LayoutDefaults returns the layout table keyed by the catalog's category
// names. Config keys are case-insensitive, so layout entries are matched to
// categories ignoring case.
func (c *Config) LayoutDefaults() types.LayoutDefaults {
	lower := make(map[string]types.Layout, len(c.Catalog.Layout))
	for k, l := range c.Catalog.Layout {
		lower[strings.ToLower(k)] = l
	}
	out := make(types.LayoutDefaults, len(c.Catalog.Categories))
	for _, name := range c.Catalog.Categories {
		if l, ok := lower[strings.ToLower(name)]; ok {
			out[name] = l
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}

	if len(c.Catalog.Categories) < 2 {
		return fmt.Errorf("catalog.categories needs at least 2 entries")
	}

	seen := make(map[string]bool, len(c.Catalog.Categories))
	layout := c.LayoutDefaults()
	for _, name := range c.Catalog.Categories {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("catalog.categories contains an empty name")
		}
		if seen[name] {
			return fmt.Errorf("catalog.categories lists %q twice", name)
		}
		seen[name] = true
		if _, err := layout.Lookup(name); err != nil {
			return fmt.Errorf("catalog.layout: %w", err)
		}
	}

	if c.Model.Epochs < 1 {
		return fmt.Errorf("model.epochs must be positive")
	}

	if c.Model.ReportEvery < 1 {
		return fmt.Errorf("model.report_every must be positive")
	}

	if c.Model.L2Decay < 0 {
		return fmt.Errorf("model.l2_decay cannot be negative")
	}

	if !c.Model.UseSnapshot && c.Model.TrainingDir == "" {
		return fmt.Errorf("model.training_dir is required when model.use_snapshot is false")
	}

	if c.Estimator.RowStride < 1 {
		return fmt.Errorf("estimator.row_stride must be at least 1")
	}

	switch strings.ToLower(c.Sampling.Mode) {
	case "pixel", "dominant":
	default:
		return fmt.Errorf("sampling.mode must be pixel or dominant, got %q", c.Sampling.Mode)
	}

	if c.Sampling.Radius < 0 {
		return fmt.Errorf("sampling.radius cannot be negative")
	}

	switch strings.ToLower(c.Vision.Backend) {
	case "cnn", "ollama", "llamacpp":
	default:
		return fmt.Errorf("vision.backend must be cnn, ollama or llamacpp, got %q", c.Vision.Backend)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "logo-placer", "config.yaml")
}
