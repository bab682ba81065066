// Package config loads the YAML run configuration shared by the train and
// eval commands.
//
// Example file:
//
//	data:
//	  root: ./data/mnist
//	  batch_size: 32
//	model:
//	  kind: galerkin
//	  harmonics: 5
//	  ode:
//	    solver: rk4
//	    sensitivity: adjoint
//	optim:
//	  lr: 0.001
//	train:
//	  epochs: 3
//
// Fields left out keep their Default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/neuralode/internal/galerkin"
	"github.com/born-ml/neuralode/internal/learner"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/trainer"
)

// Data configures the dataset provider.
type Data struct {
	Root   string `yaml:"root"`
	Fetch  bool   `yaml:"fetch"`
	Mirror string `yaml:"mirror"`

	BatchSize     int `yaml:"batch_size"`
	TestBatchSize int `yaml:"test_batch_size"`
	// Normalize standardises pixels with the MNIST mean and std after
	// scaling them to [0, 1].
	Normalize bool `yaml:"normalize"`
	// Limit and TestLimit truncate the splits when positive.
	Limit     int    `yaml:"limit"`
	TestLimit int    `yaml:"test_limit"`
	Seed      uint64 `yaml:"seed"`
	// Synthetic replaces MNIST with this many generated examples per split.
	Synthetic int `yaml:"synthetic"`
}

// Config is a complete run description.
type Config struct {
	Data  Data           `yaml:"data"`
	Model model.Options  `yaml:"model"`
	Optim learner.Config `yaml:"optim"`
	Train trainer.Config `yaml:"train"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Data: Data{
			Root:          "data/mnist",
			BatchSize:     32,
			TestBatchSize: 128,
			Seed:          1,
		},
		Model: model.DefaultOptions(),
		Optim: learner.DefaultConfig(),
		Train: trainer.DefaultConfig(),
	}
}

// Load reads path (if set) over the defaults, then resolves the result
// against the environment and o. Unknown keys are errors.
func Load(path string, o Overrides) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if cfg, err = Parse(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Resolve(o); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve applies NEURALODE_DATA and o to c, then validates it.
func (c *Config) Resolve(o Overrides) error {
	if c == nil {
		return errors.New("config is nil")
	}
	c.Data.Root = DataRoot(c.Data.Root)
	c.ApplyOverrides(o)
	return c.Validate()
}

// Parse decodes YAML from r over the defaults without validating.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Overrides captures CLI supplied values. Zero values leave the
// configuration unchanged, except Seed, which applies whenever it is set.
type Overrides struct {
	Root        string
	Kind        string
	Solver      string
	Sensitivity string
	Optimizer   string
	Harmonics   int
	Epochs      int
	BatchSize   int
	LR          float32
	Limit       int
	TestLimit   int
	Synthetic   int
	Seed        *uint64
	LogEvery    int
}

// ApplyOverrides updates c using any set override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Root != "" {
		c.Data.Root = o.Root
	}
	if o.Kind != "" {
		c.Model.Kind = o.Kind
	}
	if o.Solver != "" {
		c.Model.ODE.Solver = o.Solver
	}
	if o.Sensitivity != "" {
		c.Model.ODE.Sensitivity = o.Sensitivity
	}
	if o.Optimizer != "" {
		c.Optim.Optimizer = o.Optimizer
	}
	if o.Harmonics > 0 {
		c.Model.Harmonics = o.Harmonics
	}
	if o.Epochs > 0 {
		c.Train.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Data.BatchSize = o.BatchSize
	}
	if o.LR > 0 {
		c.Optim.LR = o.LR
	}
	if o.Limit > 0 {
		c.Data.Limit = o.Limit
	}
	if o.TestLimit > 0 {
		c.Data.TestLimit = o.TestLimit
	}
	if o.Synthetic > 0 {
		c.Data.Synthetic = o.Synthetic
	}
	if o.Seed != nil {
		c.Data.Seed = *o.Seed
	}
	if o.LogEvery > 0 {
		c.Train.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Data.Root == "" && c.Data.Synthetic == 0 {
		return errors.New("data.root must be set unless data.synthetic is used")
	}
	if c.Data.BatchSize <= 0 {
		return fmt.Errorf("data.batch_size must be > 0 (got %d)", c.Data.BatchSize)
	}
	if c.Data.TestBatchSize <= 0 {
		return fmt.Errorf("data.test_batch_size must be > 0 (got %d)", c.Data.TestBatchSize)
	}
	if c.Data.Limit < 0 || c.Data.TestLimit < 0 || c.Data.Synthetic < 0 {
		return errors.New("data.limit, data.test_limit and data.synthetic must be non-negative")
	}
	if c.Data.Synthetic > 0 && c.Model.ImageSize < 10 {
		return fmt.Errorf("synthetic data needs model.image_size >= 10 (got %d)", c.Model.ImageSize)
	}
	if c.Model.InChannels != 1 {
		return fmt.Errorf("model.in_channels must be 1 for MNIST (got %d)", c.Model.InChannels)
	}

	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Model.ODE.Validate(); err != nil {
		return fmt.Errorf("model.ode: %w", err)
	}
	switch c.Model.Kind {
	case model.KindDepthInvariant:
	case model.KindGalerkin:
		if _, err := galerkin.ParseBasis(c.Model.Basis, c.Model.Harmonics); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w %q", model.ErrUnknownKind, c.Model.Kind)
	}
	if err := c.Optim.Validate(); err != nil {
		return err
	}
	return c.Train.Validate()
}
