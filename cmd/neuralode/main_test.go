package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/neuralode/internal/checkpoint"
	"github.com/born-ml/neuralode/internal/config"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/ode"
)

const smallConfig = `
data:
  batch_size: 4
  test_batch_size: 4
  synthetic: 8
model:
  image_size: 10
  augment_dims: 1
  hidden_channels: 4
  harmonics: 2
  ode:
    solver: rk4
train:
  epochs: 1
  log_every: 1
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainThenEval(t *testing.T) {
	t.Setenv("NEURALODE_DATA", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(smallConfig), 0o644))
	ckpt := filepath.Join(dir, "model.safetensors")

	out, err := execute(t, "train", "-c", cfgPath, "--kind", model.KindGalerkin, "--save", ckpt)
	require.NoError(t, err)
	assert.Contains(t, out, "TRAIN LOSS")

	meta, err := checkpoint.ReadMetadata(ckpt)
	require.NoError(t, err)
	assert.Contains(t, meta, metaRun)
	assert.Contains(t, meta, metaTestAcc)
	assert.Equal(t, version, meta[metaVersion])

	stored, err := config.Parse(bytes.NewReader([]byte(meta[metaConfig])))
	require.NoError(t, err)
	assert.Equal(t, model.KindGalerkin, stored.Model.Kind)
	assert.Equal(t, ode.RK4, stored.Model.ODE.Solver)

	out, err = execute(t, "eval", ckpt)
	require.NoError(t, err)
	assert.Contains(t, out, "TEST ACC")
	assert.Contains(t, out, model.KindGalerkin)
}

func TestTrain_ExplicitZeroSeedAndOptimizer(t *testing.T) {
	t.Setenv("NEURALODE_DATA", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(smallConfig), 0o644))
	ckpt := filepath.Join(dir, "model.safetensors")

	_, err := execute(t, "train", "-c", cfgPath, "--seed", "0", "--optimizer", "sgd", "--save", ckpt)
	require.NoError(t, err)

	meta, err := checkpoint.ReadMetadata(ckpt)
	require.NoError(t, err)
	stored, err := config.Parse(bytes.NewReader([]byte(meta[metaConfig])))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stored.Data.Seed)
	assert.Equal(t, "sgd", stored.Optim.Optimizer)
}

func TestSeedValue(t *testing.T) {
	var seed *uint64
	v := seedValue{&seed}
	assert.Equal(t, "", v.String())
	assert.Equal(t, "uint64", v.Type())

	require.NoError(t, v.Set("0"))
	require.NotNil(t, seed)
	assert.Equal(t, uint64(0), *seed)
	assert.Equal(t, "0", v.String())

	assert.Error(t, v.Set("-1"))
}

func TestTrain_RejectsUnknownSolver(t *testing.T) {
	_, err := execute(t, "train", "--solver", "leapfrog", "--synthetic", "8")
	assert.ErrorIs(t, err, ode.ErrUnknownSolver)
}

func TestEval_Errors(t *testing.T) {
	_, err := execute(t, "eval")
	assert.Error(t, err, "checkpoint argument is required")

	_, err = execute(t, "eval", filepath.Join(t.TempDir(), "missing.safetensors"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "neuralode version "+version+"\n", out)
}
