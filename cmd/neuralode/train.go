package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/checkpoint"
	"github.com/born-ml/neuralode/internal/config"
	"github.com/born-ml/neuralode/internal/dataset"
	"github.com/born-ml/neuralode/internal/learner"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/trainer"
)

// Checkpoint metadata keys.
const (
	metaConfig  = "config"
	metaRun     = "run"
	metaVersion = "version"
	metaTestAcc = "test_acc"
)

type trainOptions struct {
	configPath string
	overrides  config.Overrides
	fetch      bool
	save       string
}

func newTrainCmd() *cobra.Command {
	var opts trainOptions
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML run configuration")
	f.BoolVar(&opts.fetch, "fetch", false, "Download MNIST into the data root if missing")
	f.StringVar(&opts.save, "save", "", "Write the trained parameters to this .safetensors file")
	addOverrideFlags(cmd, &opts.overrides)
	f.StringVar(&opts.overrides.Kind, "kind", "", "Model variant (depth-invariant or galerkin)")
	f.StringVar(&opts.overrides.Solver, "solver", "", "ODE solver (euler, midpoint, rk4 or dopri5)")
	f.StringVar(&opts.overrides.Sensitivity, "sensitivity", "", "Gradient method (autograd or adjoint)")
	f.IntVar(&opts.overrides.Harmonics, "harmonics", 0, "Galerkin basis order")
	f.IntVar(&opts.overrides.Epochs, "epochs", 0, "Number of training epochs")
	f.StringVar(&opts.overrides.Optimizer, "optimizer", "", "Optimizer (adam or sgd)")
	f.Float32Var(&opts.overrides.LR, "lr", 0, "Learning rate")
	f.IntVar(&opts.overrides.Limit, "limit", 0, "Use at most this many training examples")
	f.IntVar(&opts.overrides.LogEvery, "log-every", 0, "Steps between progress logs")
	return cmd
}

// addOverrideFlags registers the flags shared by train and eval.
func addOverrideFlags(cmd *cobra.Command, o *config.Overrides) {
	f := cmd.Flags()
	f.StringVar(&o.Root, "data", "", "MNIST directory (default from NEURALODE_DATA or the config)")
	f.IntVar(&o.BatchSize, "batch-size", 0, "Training batch size")
	f.IntVar(&o.TestLimit, "test-limit", 0, "Use at most this many test examples")
	f.IntVar(&o.Synthetic, "synthetic", 0, "Replace MNIST with this many generated examples per split")
	f.Var(seedValue{&o.Seed}, "seed", "Seed for weight initialisation and shuffling")
}

// seedValue is a uint64 flag that records whether it was given, so that
// --seed 0 is distinct from leaving the configured seed alone.
type seedValue struct{ p **uint64 }

func (v seedValue) Set(s string) error {
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	*v.p = &n
	return nil
}

func (v seedValue) String() string {
	if v.p == nil || *v.p == nil {
		return ""
	}
	return strconv.FormatUint(**v.p, 10)
}

func (seedValue) Type() string { return "uint64" }

func runTrain(ctx context.Context, out io.Writer, opts trainOptions) error {
	cfg, err := config.Load(opts.configPath, opts.overrides)
	if err != nil {
		return err
	}
	cfg.Data.Fetch = cfg.Data.Fetch || opts.fetch

	trainData, err := loadSplit(ctx, cfg, dataset.Train)
	if err != nil {
		return err
	}
	testData, err := loadSplit(ctx, cfg, dataset.Test)
	if err != nil {
		return err
	}

	backend := autodiff.New(cpu.New())
	nn.Seed(cfg.Data.Seed)
	m, err := model.New(backend, cfg.Model)
	if err != nil {
		return err
	}
	slog.Info("built model",
		"kind", cfg.Model.Kind,
		"params", nn.CountParameters(m.Parameters()),
		"solver", cfg.Model.ODE.Solver,
		"sensitivity", cfg.Model.ODE.Sensitivity)

	trainLoader, err := dataset.NewLoader(trainData, cfg.Data.BatchSize, true, cfg.Data.Seed, backend)
	if err != nil {
		return err
	}
	testLoader, err := dataset.NewLoader(testData, cfg.Data.TestBatchSize, false, 0, backend)
	if err != nil {
		return err
	}

	l, err := learner.New[Backend](m, cfg.Optim, trainLoader.Len())
	if err != nil {
		return err
	}
	tr, err := trainer.New[Backend](cfg.Train, out)
	if err != nil {
		return err
	}

	summary, err := tr.Fit(ctx, l, trainLoader, testLoader)
	if err != nil {
		return err
	}

	if opts.save == "" {
		return nil
	}
	meta, err := checkpointMetadata(cfg, summary)
	if err != nil {
		return err
	}
	if err := checkpoint.Save(opts.save, m.Parameters(), meta); err != nil {
		return err
	}
	slog.Info("saved checkpoint", "path", opts.save, "run", summary.RunID)
	return nil
}

func checkpointMetadata(cfg *config.Config, s trainer.Summary) (map[string]string, error) {
	raw, err := cfg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	meta := map[string]string{
		metaConfig:  string(raw),
		metaRun:     s.RunID,
		metaVersion: version,
	}
	if n := len(s.Epochs); n > 0 {
		meta[metaTestAcc] = strconv.FormatFloat(s.Epochs[n-1].TestAcc, 'f', 4, 64)
	}
	return meta, nil
}
