// Package learner holds a classifier and turns batches into loss, accuracy
// and solver-cost metrics. It declares the optimizer and learning-rate
// schedule a trainer should use, but never steps them itself.
//
// A Learner moves through four states:
//
//	Idle ──TrainingStep──▶ TrainingStep ──▶ Idle
//	Idle ──TestStep──────▶ TestStep ─────▶ Idle   (accumulates)
//	Idle ──TestEpochEnd──▶ TestAggregation ▶ Idle (averages, clears)
package learner

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/dataset"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/ode"
	"github.com/born-ml/neuralode/internal/optim"
	"github.com/born-ml/neuralode/internal/tensor"
)

// State is the phase a Learner is in.
type State int

const (
	Idle State = iota
	TrainingStep
	TestStep
	TestAggregation
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TrainingStep:
		return "training-step"
	case TestStep:
		return "test-step"
	case TestAggregation:
		return "test-aggregation"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Metric names.
const (
	MetricLoss     = "loss"
	MetricAcc      = "acc"
	MetricNFE      = "nfe"
	MetricEpoch    = "epoch"
	MetricLR       = "lr"
	MetricTestLoss = "test_loss"
	MetricTestAcc  = "test_acc"
)

// Metrics maps metric names to values for one step or one epoch.
type Metrics map[string]float64

// ErrBusy is returned when a step is requested while another is running.
var ErrBusy = errors.New("learner: step already in progress")

// ErrNoTestSteps is returned by TestEpochEnd when nothing was accumulated.
var ErrNoTestSteps = errors.New("learner: no test steps to aggregate")

// Model is a classifier with a continuous-depth block.
type Model[B tensor.Backend] interface {
	nn.Module[B]
	Block() *ode.NeuralODE[B]
}

// Optimizer names.
const (
	OptimizerAdam = "adam"
	OptimizerSGD  = "sgd"
)

// Config declares the optimizer and learning-rate schedule.
type Config struct {
	Optimizer   string  `yaml:"optimizer"`
	LR          float32 `yaml:"lr"`
	WeightDecay float32 `yaml:"weight_decay"`
	// Decoupled selects AdamW-style decay (adam only).
	Decoupled bool `yaml:"decoupled"`
	// Momentum applies to sgd only.
	Momentum float32 `yaml:"momentum"`

	Plateau optim.PlateauConfig `yaml:"plateau"`
	// SchedulerFrequency is the number of training steps between scheduler
	// updates.
	SchedulerFrequency int `yaml:"scheduler_frequency"`
}

// DefaultConfig returns Adam at 1e-3 with 5e-4 weight decay and a plateau
// schedule checked every 10 steps.
func DefaultConfig() Config {
	return Config{
		Optimizer:          OptimizerAdam,
		LR:                 1e-3,
		WeightDecay:        5e-4,
		Plateau:            optim.DefaultPlateauConfig(),
		SchedulerFrequency: 10,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Optimizer != OptimizerAdam && c.Optimizer != OptimizerSGD {
		return fmt.Errorf("learner: unknown optimizer %q (want %s or %s)", c.Optimizer, OptimizerAdam, OptimizerSGD)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("learner: momentum must be in [0, 1), got %g", c.Momentum)
	}
	if c.LR <= 0 {
		return fmt.Errorf("learner: lr must be positive, got %g", c.LR)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("learner: weight_decay must be non-negative, got %g", c.WeightDecay)
	}
	if c.SchedulerFrequency <= 0 {
		return fmt.Errorf("learner: scheduler_frequency must be positive, got %d", c.SchedulerFrequency)
	}
	return c.Plateau.Validate()
}

// SchedulerConfig tells the trainer when to step the scheduler and which
// training metric to feed it.
type SchedulerConfig struct {
	Interval  string // always "step"
	Frequency int
	Monitor   string
}

// StepOutput is the result of a training step. Loss is still attached to
// the tape so the trainer can differentiate it.
type StepOutput[B tensor.Backend] struct {
	Loss    *tensor.Tensor[float32, B]
	Metrics Metrics
}

// Learner is the training orchestrator for one classifier.
type Learner[B tensor.Backend] struct {
	model         Model[B]
	cfg           Config
	stepsPerEpoch int

	state State
	step  int
	opt   optim.Optimizer

	testLoss []float64
	testAcc  []float64
	testNFE  int
}

// New creates a learner. stepsPerEpoch converts the step counter into
// fractional epochs.
func New[B tensor.Backend](model Model[B], cfg Config, stepsPerEpoch int) (*Learner[B], error) {
	if model == nil {
		return nil, errors.New("learner: nil model")
	}
	if stepsPerEpoch <= 0 {
		return nil, fmt.Errorf("learner: steps per epoch must be positive, got %d", stepsPerEpoch)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Learner[B]{model: model, cfg: cfg, stepsPerEpoch: stepsPerEpoch}, nil
}

// Model returns the wrapped classifier.
func (l *Learner[B]) Model() Model[B] { return l.model }

// State returns the current phase.
func (l *Learner[B]) State() State { return l.state }

// Steps returns the number of completed training steps.
func (l *Learner[B]) Steps() int { return l.step }

// Epoch returns training progress in epochs.
func (l *Learner[B]) Epoch() float64 {
	return float64(l.step) / float64(l.stepsPerEpoch)
}

// ConfigureOptimizers builds the configured optimizer over the model's
// parameters and the plateau schedule driving its learning rate.
func (l *Learner[B]) ConfigureOptimizers() (optim.Optimizer, *optim.ReduceLROnPlateau, SchedulerConfig) {
	var opt optim.Optimizer
	switch l.cfg.Optimizer {
	case OptimizerSGD:
		opt = optim.NewSGD(l.model.Parameters(), optim.SGDConfig{
			LR:          l.cfg.LR,
			Momentum:    l.cfg.Momentum,
			WeightDecay: l.cfg.WeightDecay,
		})
	default:
		opt = optim.NewAdam(l.model.Parameters(), optim.AdamConfig{
			LR:          l.cfg.LR,
			WeightDecay: l.cfg.WeightDecay,
			Decoupled:   l.cfg.Decoupled,
		})
	}
	l.opt = opt
	sched := optim.NewReduceLROnPlateau(opt, l.cfg.Plateau)
	return opt, sched, SchedulerConfig{
		Interval:  "step",
		Frequency: l.cfg.SchedulerFrequency,
		Monitor:   MetricLoss,
	}
}

func (l *Learner[B]) enter(s State) error {
	if l.state != Idle {
		return fmt.Errorf("%w (in %s, requested %s)", ErrBusy, l.state, s)
	}
	l.state = s
	return nil
}

func checkBatch[B tensor.Backend](b dataset.Batch[B]) error {
	if b.Images == nil || b.Labels == nil {
		return errors.New("learner: incomplete batch")
	}
	is, ls := b.Images.Shape(), b.Labels.Shape()
	if len(is) != 4 || len(ls) != 1 || is[0] != ls[0] || is[0] != b.Size {
		return fmt.Errorf("learner: batch images %v and labels %v disagree on size %d", is, ls, b.Size)
	}
	return nil
}

// TrainingStep runs the forward pass and loss for batch. The returned loss
// is recorded on the tape when the backend records one. The block's NFE
// counter is read into the metrics and reset.
//
// Shape errors inside the model panic and are not recovered here.
func (l *Learner[B]) TrainingStep(batch dataset.Batch[B]) (StepOutput[B], error) {
	if err := checkBatch(batch); err != nil {
		return StepOutput[B]{}, err
	}
	if err := l.enter(TrainingStep); err != nil {
		return StepOutput[B]{}, err
	}
	defer func() { l.state = Idle }()

	logits := l.model.Forward(batch.Images)
	loss := nn.CrossEntropyLoss(logits, batch.Labels)
	acc := nn.Accuracy(logits, batch.Labels)

	block := l.model.Block()
	nfe := block.NFE()
	block.ResetNFE()
	l.step++

	m := Metrics{
		MetricLoss:  float64(loss.Item()),
		MetricAcc:   acc,
		MetricNFE:   float64(nfe),
		MetricEpoch: l.Epoch(),
	}
	if l.opt != nil {
		m[MetricLR] = float64(l.opt.LR())
	}
	return StepOutput[B]{Loss: loss, Metrics: m}, nil
}

// TestStep evaluates batch without recording gradients and accumulates its
// loss and accuracy for TestEpochEnd.
func (l *Learner[B]) TestStep(batch dataset.Batch[B]) (Metrics, error) {
	if err := checkBatch(batch); err != nil {
		return nil, err
	}
	if err := l.enter(TestStep); err != nil {
		return nil, err
	}
	defer func() { l.state = Idle }()

	var (
		loss float64
		acc  float64
	)
	eval := func() {
		logits := l.model.Forward(batch.Images)
		loss = float64(nn.CrossEntropyLoss(logits, batch.Labels).Item())
		acc = nn.Accuracy(logits, batch.Labels)
	}
	if bc, ok := any(batch.Images.Backend()).(autodiff.BackwardCapable); ok {
		bc.NoGrad(eval)
	} else {
		eval()
	}

	block := l.model.Block()
	nfe := block.NFE()
	block.ResetNFE()

	l.testLoss = append(l.testLoss, loss)
	l.testAcc = append(l.testAcc, acc)
	l.testNFE += nfe
	return Metrics{MetricLoss: loss, MetricAcc: acc, MetricNFE: float64(nfe)}, nil
}

// ResetTest discards test steps accumulated since the last TestEpochEnd.
func (l *Learner[B]) ResetTest() {
	l.testLoss = l.testLoss[:0]
	l.testAcc = l.testAcc[:0]
	l.testNFE = 0
}

// TestEpochEnd averages the accumulated test steps and clears them. Each
// step weighs the same regardless of its batch size.
func (l *Learner[B]) TestEpochEnd() (Metrics, error) {
	if err := l.enter(TestAggregation); err != nil {
		return nil, err
	}
	defer func() { l.state = Idle }()

	if len(l.testLoss) == 0 {
		return nil, ErrNoTestSteps
	}
	m := Metrics{
		MetricTestLoss: stat.Mean(l.testLoss, nil),
		MetricTestAcc:  stat.Mean(l.testAcc, nil),
		MetricNFE:      float64(l.testNFE) / float64(len(l.testLoss)),
		MetricEpoch:    l.Epoch(),
	}
	l.ResetTest()
	return m, nil
}
