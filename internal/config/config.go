// Package config holds the runtime knobs for a training run.
//
// Values come from Default, then an optional YAML file, then any
// command-line flag explicitly set by the user.
package config

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate and Load for unusable settings.
var ErrInvalidConfig = errors.New("invalid config")

// Config captures the runtime knobs for a training run.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	Download bool   `yaml:"download"`

	// Synthetic replaces the dataset files with generated digit patterns.
	Synthetic       bool `yaml:"synthetic"`
	MaxTrainSamples int  `yaml:"max_train_samples"` // 0 = all.
	TestSamples     int  `yaml:"test_samples"`      // Held-out samples used for reports.

	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`
	DropoutRate  float64 `yaml:"dropout_rate"`
	Seed         uint64  `yaml:"seed"`

	ReportInterval time.Duration `yaml:"report_interval"`
	Device         string        `yaml:"device"`
	Checkpoint     string        `yaml:"checkpoint"` // Written after training when set.
	Resume         bool          `yaml:"resume"`     // Load Checkpoint before training.
	Progress       bool          `yaml:"progress"`
}

// Default returns the settings used when nothing else is given.
func Default() *Config {
	return &Config{
		DataDir:        "./data",
		TestSamples:    1000,
		BatchSize:      128,
		Epochs:         1,
		Optimizer:      "adam",
		LearningRate:   0.001,
		Momentum:       0.9,
		DropoutRate:    0.5,
		Seed:           42,
		ReportInterval: 10 * time.Second,
		Device:         "cpu",
		Progress:       true,
	}
}

// BindFlags registers one flag per field on fs, defaulting to the current
// values of c.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DataDir, "data", c.DataDir, "Directory holding the MNIST IDX files")
	fs.BoolVar(&c.Download, "download", c.Download, "Download missing dataset files")
	fs.BoolVar(&c.Synthetic, "synthetic", c.Synthetic, "Use generated digit patterns instead of dataset files")
	fs.IntVar(&c.MaxTrainSamples, "samples", c.MaxTrainSamples, "Max training samples to load (0 = all)")
	fs.IntVar(&c.TestSamples, "test-samples", c.TestSamples, "Held-out samples used for accuracy reports")
	fs.IntVar(&c.BatchSize, "batch", c.BatchSize, "Batch size")
	fs.IntVar(&c.Epochs, "epochs", c.Epochs, "Number of passes over the training batches")
	fs.StringVar(&c.Optimizer, "optimizer", c.Optimizer, "Optimizer: adam or sgd")
	fs.Float64Var(&c.LearningRate, "lr", c.LearningRate, "Learning rate")
	fs.Float64Var(&c.Momentum, "momentum", c.Momentum, "SGD momentum")
	fs.Float64Var(&c.DropoutRate, "dropout", c.DropoutRate, "Dropout rate before the dense layer")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "Seed for synthetic data and dropout masks")
	fs.DurationVar(&c.ReportInterval, "report-every", c.ReportInterval, "Minimum time between accuracy reports")
	fs.StringVar(&c.Device, "device", c.Device, "Compute device: cpu or webgpu")
	fs.StringVar(&c.Checkpoint, "checkpoint", c.Checkpoint, "Write a checkpoint to this path after training")
	fs.BoolVar(&c.Resume, "resume", c.Resume, "Load -checkpoint before training")
	fs.BoolVar(&c.Progress, "progress", c.Progress, "Show progress bars")
}

// Load builds the effective configuration: Default, overlaid with the YAML
// file at path (if not empty), overlaid with every flag of fs that was set
// on the command line. fs must already be parsed; it may be nil.
func Load(path string, fs *flag.FlagSet) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if fs != nil {
		if err := cfg.applyFlags(fs); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "parsing %s: %v", path, err)
	}
	return nil
}

// applyFlags copies the explicitly set flags of fs onto c.
func (c *Config) applyFlags(fs *flag.FlagSet) error {
	overlay := flag.NewFlagSet("config", flag.ContinueOnError)
	c.BindFlags(overlay)
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil || overlay.Lookup(f.Name) == nil {
			return
		}
		if setErr := overlay.Set(f.Name, f.Value.String()); setErr != nil {
			err = errors.Wrapf(ErrInvalidConfig, "flag -%s: %v", f.Name, setErr)
		}
	})
	return err
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.Wrap(ErrInvalidConfig, "config is nil")
	}
	switch {
	case !c.Synthetic && c.DataDir == "":
		return errors.Wrap(ErrInvalidConfig, "data_dir must be set unless synthetic is enabled")
	case c.BatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "batch_size must be > 0 (got %d)", c.BatchSize)
	case c.Epochs <= 0:
		return errors.Wrapf(ErrInvalidConfig, "epochs must be > 0 (got %d)", c.Epochs)
	case c.MaxTrainSamples < 0:
		return errors.Wrapf(ErrInvalidConfig, "max_train_samples must be >= 0 (got %d)", c.MaxTrainSamples)
	case c.TestSamples <= 0:
		return errors.Wrapf(ErrInvalidConfig, "test_samples must be > 0 (got %d)", c.TestSamples)
	case c.Optimizer != "adam" && c.Optimizer != "sgd":
		return errors.Wrapf(ErrInvalidConfig, "optimizer must be adam or sgd (got %q)", c.Optimizer)
	case c.LearningRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "learning_rate must be > 0 (got %g)", c.LearningRate)
	case c.Momentum < 0 || c.Momentum >= 1:
		return errors.Wrapf(ErrInvalidConfig, "momentum must be in [0, 1) (got %g)", c.Momentum)
	case c.DropoutRate < 0 || c.DropoutRate >= 1:
		return errors.Wrapf(ErrInvalidConfig, "dropout_rate must be in [0, 1) (got %g)", c.DropoutRate)
	case c.ReportInterval < 0:
		return errors.Wrapf(ErrInvalidConfig, "report_interval must be >= 0 (got %s)", c.ReportInterval)
	case c.Device == "":
		return errors.Wrap(ErrInvalidConfig, "device must be set")
	case c.Resume && c.Checkpoint == "":
		return errors.Wrap(ErrInvalidConfig, "resume requires checkpoint")
	}
	return nil
}
