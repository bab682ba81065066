package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/checkpoint"
	"github.com/born-ml/neuralode/internal/config"
	"github.com/born-ml/neuralode/internal/dataset"
	"github.com/born-ml/neuralode/internal/learner"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/trainer"
)

type evalOptions struct {
	configPath string
	overrides  config.Overrides
	fetch      bool
}

func newEvalCmd() *cobra.Command {
	var opts evalOptions
	cmd := &cobra.Command{
		Use:   "eval CHECKPOINT",
		Short: "Evaluate a saved classifier on the test split",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML run configuration (default: the one stored in the checkpoint)")
	f.BoolVar(&opts.fetch, "fetch", false, "Download MNIST into the data root if missing")
	addOverrideFlags(cmd, &opts.overrides)
	return cmd
}

// evalConfig returns the configuration the checkpoint was trained with,
// unless one is given explicitly.
func evalConfig(path string, opts evalOptions) (*config.Config, error) {
	if opts.configPath != "" {
		return config.Load(opts.configPath, opts.overrides)
	}

	meta, err := checkpoint.ReadMetadata(path)
	if err != nil {
		return nil, err
	}
	stored, ok := meta[metaConfig]
	if !ok {
		return nil, fmt.Errorf("%s has no stored configuration; pass --config", path)
	}
	cfg, err := config.Parse(strings.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("stored configuration: %w", err)
	}
	if err := cfg.Resolve(opts.overrides); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runEval(ctx context.Context, out io.Writer, path string, opts evalOptions) error {
	cfg, err := evalConfig(path, opts)
	if err != nil {
		return err
	}
	cfg.Data.Fetch = cfg.Data.Fetch || opts.fetch

	testData, err := loadSplit(ctx, cfg, dataset.Test)
	if err != nil {
		return err
	}

	backend := autodiff.New(cpu.New())
	m, err := model.New(backend, cfg.Model)
	if err != nil {
		return err
	}
	meta, err := checkpoint.Load(path, m.Parameters())
	if err != nil {
		return err
	}
	slog.Debug("loaded checkpoint", "path", path, "run", meta[metaRun], "version", meta[metaVersion])

	loader, err := dataset.NewLoader(testData, cfg.Data.TestBatchSize, false, 0, backend)
	if err != nil {
		return err
	}
	l, err := learner.New[Backend](m, cfg.Optim, loader.Len())
	if err != nil {
		return err
	}
	metrics, err := trainer.Evaluate(ctx, l, loader)
	if err != nil {
		return err
	}

	renderEval(out, path, cfg, testData.Len(), metrics)
	return nil
}

func renderEval(w io.Writer, path string, cfg *config.Config, examples int, m learner.Metrics) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"CHECKPOINT", "KIND", "SOLVER", "EXAMPLES", "TEST LOSS", "TEST ACC", "NFE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.Append([]string{
		path,
		cfg.Model.Kind,
		cfg.Model.ODE.Solver,
		fmt.Sprint(examples),
		fmt.Sprintf("%.4f", m[learner.MetricTestLoss]),
		fmt.Sprintf("%.2f%%", 100*m[learner.MetricTestAcc]),
		fmt.Sprintf("%.1f", m[learner.MetricNFE]),
	})
	table.Render()
}
