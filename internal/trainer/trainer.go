// Package trainer drives a learner through epochs: it pulls batches from the
// loaders, differentiates the training loss, steps the optimizer and the
// learning-rate schedule, and reports progress.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/dataset"
	"github.com/born-ml/neuralode/internal/learner"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/optim"
)

// Config controls the training loop.
type Config struct {
	Epochs int `yaml:"epochs"`
	// LogEvery is the number of training steps between progress logs.
	LogEvery int `yaml:"log_every"`
}

// DefaultConfig trains for 3 epochs and logs every 50 steps.
func DefaultConfig() Config {
	return Config{Epochs: 3, LogEvery: 50}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("trainer: epochs must be positive, got %d", c.Epochs)
	}
	if c.LogEvery <= 0 {
		return fmt.Errorf("trainer: log_every must be positive, got %d", c.LogEvery)
	}
	return nil
}

// EpochSummary aggregates one epoch.
type EpochSummary struct {
	Epoch     int
	TrainLoss float64
	TrainAcc  float64
	TrainNFE  float64
	// Test metrics are NaN when no test loader was given.
	TestLoss float64
	TestAcc  float64
	TestNFE  float64
	LR       float64
	Duration time.Duration
}

// Summary describes a finished or aborted run.
type Summary struct {
	RunID    string
	Steps    int
	Epochs   []EpochSummary
	Duration time.Duration
}

// Trainer runs the training loop on a backend that records a gradient tape.
type Trainer[B autodiff.BackwardCapable] struct {
	cfg Config
	out io.Writer
}

// New creates a trainer. The epoch table is written to out when it is not nil.
func New[B autodiff.BackwardCapable](cfg Config, out io.Writer) (*Trainer[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Trainer[B]{cfg: cfg, out: out}, nil
}

// Fit trains l on train for the configured number of epochs, evaluating on
// test after each epoch when test is not nil.
//
// A panic inside a step (shape mismatch, solver failure) aborts the run and
// is returned as an error. Cancelling ctx stops the run between steps. The
// summary covers the epochs completed before any error.
func (t *Trainer[B]) Fit(ctx context.Context, l *learner.Learner[B], train, test *dataset.Loader[B]) (Summary, error) {
	runID := uuid.NewString()
	log := slog.With("run", runID)
	start := time.Now()

	opt, sched, schedCfg := l.ConfigureOptimizers()
	summary := Summary{RunID: runID}

	log.Info("trainer: starting",
		"epochs", t.cfg.Epochs,
		"train_examples", train.Examples(),
		"train_batches", train.Len(),
		"parameters", nn.CountParameters(l.Model().Parameters()),
		"lr", opt.LR())

	finish := func(err error) (Summary, error) {
		summary.Steps = l.Steps()
		summary.Duration = time.Since(start)
		if t.out != nil && len(summary.Epochs) > 0 {
			RenderSummary(t.out, summary)
		}
		return summary, err
	}

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		es, err := t.runEpoch(ctx, log, epoch, l, opt, sched, schedCfg, train, test)
		if err != nil {
			return finish(err)
		}
		summary.Epochs = append(summary.Epochs, es)
		log.Info("trainer: epoch done",
			"epoch", epoch,
			"train_loss", es.TrainLoss,
			"train_acc", es.TrainAcc,
			"test_loss", es.TestLoss,
			"test_acc", es.TestAcc,
			"elapsed", es.Duration.Round(time.Millisecond))
	}
	return finish(nil)
}

func (t *Trainer[B]) runEpoch(
	ctx context.Context,
	log *slog.Logger,
	epoch int,
	l *learner.Learner[B],
	opt optim.Optimizer,
	sched *optim.ReduceLROnPlateau,
	schedCfg learner.SchedulerConfig,
	train, test *dataset.Loader[B],
) (EpochSummary, error) {
	start := time.Now()
	var losses, accs, nfes []float64

	window := time.Now()
	windowImages := 0
	for batch := range train.Epoch() {
		if err := ctx.Err(); err != nil {
			return EpochSummary{}, fmt.Errorf("trainer: epoch %d: %w", epoch, err)
		}

		m, err := trainStep(l, opt, batch)
		if err != nil {
			return EpochSummary{}, fmt.Errorf("trainer: epoch %d step %d: %w", epoch, l.Steps()+1, err)
		}
		losses = append(losses, m[learner.MetricLoss])
		accs = append(accs, m[learner.MetricAcc])
		nfes = append(nfes, m[learner.MetricNFE])
		windowImages += batch.Size

		step := l.Steps()
		if step%schedCfg.Frequency == 0 {
			if sched.Step(m[schedCfg.Monitor]) {
				log.Info("trainer: reducing learning rate", "step", step, "lr", opt.LR())
			}
		}
		if step%t.cfg.LogEvery == 0 {
			elapsed := time.Since(window).Seconds()
			log.Info("trainer: step",
				"step", step,
				"epoch", fmt.Sprintf("%.2f", m[learner.MetricEpoch]),
				"loss", m[learner.MetricLoss],
				"acc", m[learner.MetricAcc],
				"nfe", m[learner.MetricNFE],
				"lr", opt.LR(),
				"images_per_sec", math.Round(float64(windowImages)/math.Max(elapsed, 1e-9)))
			window, windowImages = time.Now(), 0
		}
	}
	if len(losses) == 0 {
		return EpochSummary{}, errors.New("trainer: training loader yielded no batches")
	}

	es := EpochSummary{
		Epoch:     epoch,
		TrainLoss: stat.Mean(losses, nil),
		TrainAcc:  stat.Mean(accs, nil),
		TrainNFE:  stat.Mean(nfes, nil),
		TestLoss:  math.NaN(),
		TestAcc:   math.NaN(),
		TestNFE:   math.NaN(),
		LR:        float64(opt.LR()),
	}

	if test != nil {
		agg, err := Evaluate(ctx, l, test)
		if err != nil {
			return EpochSummary{}, fmt.Errorf("trainer: epoch %d: %w", epoch, err)
		}
		es.TestLoss = agg[learner.MetricTestLoss]
		es.TestAcc = agg[learner.MetricTestAcc]
		es.TestNFE = agg[learner.MetricNFE]
	}
	es.Duration = time.Since(start)
	return es, nil
}

// trainStep runs one optimisation step. The tape records only for the
// duration of the step and is cleared afterwards.
func trainStep[B autodiff.BackwardCapable](l *learner.Learner[B], opt optim.Optimizer, batch dataset.Batch[B]) (m learner.Metrics, err error) {
	backend := batch.Images.Backend()
	tape := backend.Tape()

	defer func() {
		tape.StopRecording()
		tape.Clear()
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()

	opt.ZeroGrad()
	tape.Clear()
	tape.StartRecording()

	out, err := l.TrainingStep(batch)
	if err != nil {
		return nil, err
	}
	if v := out.Metrics[learner.MetricLoss]; math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("non-finite loss %v", v)
	}

	grads := autodiff.Backward(out.Loss, backend)
	tape.StopRecording()
	nn.CollectGrads(l.Model().Parameters(), grads, backend)
	opt.Step(grads)
	return out.Metrics, nil
}

// Evaluate runs every batch of test through l and returns the aggregate
// metrics. Test steps left over from an earlier interrupted run are
// discarded first.
func Evaluate[B autodiff.BackwardCapable](ctx context.Context, l *learner.Learner[B], test *dataset.Loader[B]) (m learner.Metrics, err error) {
	l.ResetTest()
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()

	for batch := range test.Epoch() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := l.TestStep(batch); err != nil {
			return nil, err
		}
	}
	return l.TestEpochEnd()
}

// panicError converts a recovered panic value into an error, keeping wrapped
// errors such as ode.ErrNonFinite reachable through errors.Is.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
