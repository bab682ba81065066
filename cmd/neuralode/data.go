package main

import (
	"context"
	"log/slog"

	"github.com/born-ml/neuralode/internal/config"
	"github.com/born-ml/neuralode/internal/dataset"
)

func pipeline(cfg *config.Config) dataset.Pipeline {
	p := dataset.DefaultPipeline(cfg.Model.ImageSize)
	if cfg.Data.Normalize {
		p = append(p, dataset.Normalize(dataset.MNISTMean, dataset.MNISTStd))
	}
	return p
}

// loadSplit returns the requested split, downloading MNIST first when
// data.fetch is set.
func loadSplit(ctx context.Context, cfg *config.Config, split dataset.Split) (*dataset.MNIST, error) {
	if n := cfg.Data.Synthetic; n > 0 {
		slog.Warn("using synthetic data", "split", split, "examples", n)
		return dataset.Synthetic(n, cfg.Model.ImageSize, cfg.Data.Seed+uint64(split)), nil
	}
	if cfg.Data.Fetch {
		if err := dataset.Fetch(ctx, cfg.Data.Root, cfg.Data.Mirror); err != nil {
			return nil, err
		}
	}

	limit := cfg.Data.Limit
	if split == dataset.Test {
		limit = cfg.Data.TestLimit
	}
	data, err := dataset.Load(cfg.Data.Root, split, pipeline(cfg), dataset.LoadOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	slog.Info("loaded dataset", "split", split, "examples", data.Len(), "pipeline", pipeline(cfg))
	return data, nil
}
