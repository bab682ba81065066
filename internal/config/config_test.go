package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/ode"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_Validates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	t.Setenv("NEURALODE_DATA", "")
	path := writeConfig(t, `
data:
  root: /tmp/mnist
  batch_size: 64
model:
  kind: galerkin
  harmonics: 3
  ode:
    solver: rk4
    sensitivity: adjoint
    span: [0, 0.5, 1]
optim:
  lr: 0.01
train:
  epochs: 1
`)
	cfg, err := Load(path, Overrides{})
	require.NoError(t, err)

	want := Default()
	want.Data.Root = "/tmp/mnist"
	want.Data.BatchSize = 64
	want.Model.Kind = model.KindGalerkin
	want.Model.Harmonics = 3
	want.Model.ODE.Solver = ode.RK4
	want.Model.ODE.Sensitivity = ode.Adjoint
	want.Model.ODE.Span = ode.Span{0, 0.5, 1}
	want.Optim.LR = 0.01
	want.Train.Epochs = 1

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	t.Setenv("NEURALODE_DATA", "")
	cfg, err := Load(writeConfig(t, ""), Overrides{})
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_NoPathResolvesDefaults(t *testing.T) {
	t.Setenv("NEURALODE_DATA", "/data/mnist")
	cfg, err := Load("", Overrides{Epochs: 2, Optimizer: "sgd"})
	require.NoError(t, err)

	want := Default()
	want.Data.Root = "/data/mnist"
	want.Train.Epochs = 2
	want.Optim.Optimizer = "sgd"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	_, err = Load("", Overrides{Optimizer: "rmsprop"})
	assert.ErrorContains(t, err, "unknown optimizer")
}

func TestResolve_OverridesWinOverEnvironment(t *testing.T) {
	t.Setenv("NEURALODE_DATA", "/env/mnist")
	cfg := Default()
	require.NoError(t, cfg.Resolve(Overrides{Root: "/flag/mnist"}))
	assert.Equal(t, "/flag/mnist", cfg.Data.Root)

	cfg = Default()
	cfg.Train.Epochs = 0
	assert.ErrorContains(t, cfg.Resolve(Overrides{}), "epochs")

	var nilCfg *Config
	assert.Error(t, nilCfg.Resolve(Overrides{}))
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), Overrides{})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(writeConfig(t, "model:\n  depth: 3\n"), Overrides{})
		assert.ErrorContains(t, err, "depth")
	})

	t.Run("unknown solver", func(t *testing.T) {
		_, err := Load(writeConfig(t, "model:\n  ode:\n    solver: leapfrog\n"), Overrides{})
		assert.ErrorIs(t, err, ode.ErrUnknownSolver)
	})

	t.Run("unknown sensitivity", func(t *testing.T) {
		_, err := Load(writeConfig(t, "model:\n  ode:\n    sensitivity: finite-difference\n"), Overrides{})
		assert.ErrorIs(t, err, ode.ErrUnknownSensitivity)
	})

	t.Run("decreasing span", func(t *testing.T) {
		_, err := Load(writeConfig(t, "model:\n  ode:\n    span: [1, 0]\n"), Overrides{})
		assert.ErrorIs(t, err, ode.ErrInvalidSpan)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := Load(writeConfig(t, "model:\n  kind: resnet\n"), Overrides{})
		assert.ErrorIs(t, err, model.ErrUnknownKind)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"no data source", func(c *Config) { c.Data.Root = "" }, "data.root"},
		{"batch size", func(c *Config) { c.Data.BatchSize = 0 }, "data.batch_size"},
		{"test batch size", func(c *Config) { c.Data.TestBatchSize = -1 }, "data.test_batch_size"},
		{"negative limit", func(c *Config) { c.Data.Limit = -1 }, "non-negative"},
		{"rgb input", func(c *Config) { c.Model.InChannels = 3 }, "in_channels"},
		{"odd image size", func(c *Config) { c.Model.ImageSize = 27 }, "image_size"},
		{"synthetic too small", func(c *Config) {
			c.Data.Synthetic = 10
			c.Model.ImageSize = 8
		}, "synthetic"},
		{"galerkin basis", func(c *Config) {
			c.Model.Kind = model.KindGalerkin
			c.Model.Basis = "wavelet"
		}, "basis"},
		{"activation", func(c *Config) { c.Model.Activation = "gelu" }, "activation"},
		{"optimizer", func(c *Config) { c.Optim.Optimizer = "rmsprop" }, "optimizer"},
		{"learning rate", func(c *Config) { c.Optim.LR = 0 }, "lr"},
		{"plateau factor", func(c *Config) { c.Optim.Plateau.Factor = 0 }, "factor"},
		{"epochs", func(c *Config) { c.Train.Epochs = 0 }, "epochs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{
		Kind:      model.KindGalerkin,
		Solver:    ode.Euler,
		Epochs:    7,
		LR:        0.05,
		Synthetic: 100,
	})

	want := Default()
	want.Model.Kind = model.KindGalerkin
	want.Model.ODE.Solver = ode.Euler
	want.Train.Epochs = 7
	want.Optim.LR = 0.05
	want.Data.Synthetic = 100
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("ApplyOverrides() mismatch (-want +got):\n%s", diff)
	}

	before := *cfg
	cfg.ApplyOverrides(Overrides{})
	assert.Equal(t, before, *cfg, "zero overrides change nothing")

	var seed uint64
	cfg.ApplyOverrides(Overrides{Seed: &seed})
	assert.Equal(t, uint64(0), cfg.Data.Seed, "an explicit zero seed applies")
}

func TestLoad_ZeroValuedFieldsAreKept(t *testing.T) {
	t.Setenv("NEURALODE_DATA", "")
	cfg, err := Load(writeConfig(t, `
data:
  seed: 0
optim:
  plateau:
    patience: 0
    threshold: 0
`), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cfg.Data.Seed)
	assert.Equal(t, 0, cfg.Optim.Plateau.Patience)
	assert.Equal(t, 0.0, cfg.Optim.Plateau.Threshold)
	assert.Equal(t, Default().Optim.Plateau.Factor, cfg.Optim.Plateau.Factor)
}

func TestMarshal_ParsesBack(t *testing.T) {
	cfg := Default()
	cfg.Model.Kind = model.KindGalerkin
	cfg.Model.ODE.Span = ode.Span{0, 0.25, 1}
	cfg.Data.Normalize = true

	out, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "kind: galerkin")

	got, err := Parse(bytes.NewReader(out))
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("Parse(Marshal()) mismatch (-want +got):\n%s", diff)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"0", slog.LevelInfo},
		{"false", slog.LevelInfo},
		{"1", slog.LevelDebug},
		{"true", slog.LevelDebug},
		{"'true'", slog.LevelDebug},
		{"2", slog.Level(-8)},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("NEURALODE_DEBUG", tt.value)
			assert.Equal(t, tt.want, LogLevel())
		})
	}
}

func TestDataRoot(t *testing.T) {
	t.Setenv("NEURALODE_DATA", "")
	assert.Equal(t, "fallback", DataRoot("fallback"))
	t.Setenv("NEURALODE_DATA", " \"/data/mnist\" ")
	assert.Equal(t, "/data/mnist", DataRoot("fallback"))
}
