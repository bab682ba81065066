package learner_test

import (
	"testing"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/dataset"
	"github.com/born-ml/neuralode/internal/learner"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/ode"
	"github.com/born-ml/neuralode/internal/optim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func setup(t *testing.T, stepsPerEpoch int) (*learner.Learner[Backend], *dataset.Loader[Backend], Backend) {
	t.Helper()
	backend := autodiff.New(cpu.New())

	opts := model.DefaultOptions()
	opts.ImageSize = 10
	opts.AugmentDims = 1
	opts.HiddenChannels = 4
	opts.ODE = ode.Config{Solver: ode.RK4, Sensitivity: ode.Autograd, Span: ode.Span{0, 1}}
	m, err := model.New(backend, opts)
	require.NoError(t, err)

	l, err := learner.New[Backend](m, learner.DefaultConfig(), stepsPerEpoch)
	require.NoError(t, err)

	loader, err := dataset.NewLoader(dataset.Synthetic(12, 10, 1), 4, false, 0, backend)
	require.NoError(t, err)
	return l, loader, backend
}

func TestTrainingStep(t *testing.T) {
	l, loader, backend := setup(t, 3)
	opt, _, _ := l.ConfigureOptimizers()

	backend.Tape().StartRecording()
	defer backend.Tape().StopRecording()

	var steps int
	for batch := range loader.Epoch() {
		out, err := l.TrainingStep(batch)
		require.NoError(t, err)
		steps++

		m := out.Metrics
		assert.GreaterOrEqual(t, m[learner.MetricLoss], 0.0)
		assert.GreaterOrEqual(t, m[learner.MetricAcc], 0.0)
		assert.LessOrEqual(t, m[learner.MetricAcc], 1.0)
		assert.Equal(t, 4.0, m[learner.MetricNFE])
		assert.InDelta(t, float64(steps)/3, m[learner.MetricEpoch], 1e-12)
		assert.InDelta(t, float64(opt.LR()), m[learner.MetricLR], 1e-12)

		assert.Equal(t, 0, l.Model().Block().NFE(), "counter resets after being read")
		assert.Equal(t, learner.Idle, l.State())
		assert.InDelta(t, m[learner.MetricLoss], float64(out.Loss.Item()), 1e-6)
		backend.Tape().Clear()
	}
	assert.Equal(t, 3, l.Steps())
	assert.InDelta(t, 1.0, l.Epoch(), 1e-12)
}

func TestTestEpochEnd_AveragesSteps(t *testing.T) {
	l, loader, backend := setup(t, 3)

	backend.Tape().StartRecording()
	var losses, accs []float64
	for batch := range loader.Epoch() {
		m, err := l.TestStep(batch)
		require.NoError(t, err)
		losses = append(losses, m[learner.MetricLoss])
		accs = append(accs, m[learner.MetricAcc])
	}
	assert.Equal(t, 0, backend.Tape().NumOps(), "test steps record nothing")
	assert.True(t, backend.Tape().IsRecording(), "recording resumes after a test step")
	backend.Tape().StopRecording()

	agg, err := l.TestEpochEnd()
	require.NoError(t, err)
	require.Len(t, losses, 3)
	assert.InDelta(t, (losses[0]+losses[1]+losses[2])/3, agg[learner.MetricTestLoss], 1e-12)
	assert.InDelta(t, (accs[0]+accs[1]+accs[2])/3, agg[learner.MetricTestAcc], 1e-12)
	assert.Equal(t, 4.0, agg[learner.MetricNFE])

	_, err = l.TestEpochEnd()
	assert.ErrorIs(t, err, learner.ErrNoTestSteps)
	assert.Equal(t, learner.Idle, l.State())
}

func TestConfigureOptimizers(t *testing.T) {
	l, _, _ := setup(t, 1)
	opt, sched, cfg := l.ConfigureOptimizers()

	assert.Equal(t, float32(1e-3), opt.LR())
	assert.Equal(t, "step", cfg.Interval)
	assert.Equal(t, 10, cfg.Frequency)
	assert.Equal(t, learner.MetricLoss, cfg.Monitor)
	assert.Equal(t, 10, sched.Config().Patience)
	assert.IsType(t, &optim.Adam[Backend]{}, opt)
}

func TestConfigureOptimizers_SGD(t *testing.T) {
	l, _, _ := setup(t, 1)
	cfg := learner.DefaultConfig()
	cfg.Optimizer = learner.OptimizerSGD
	cfg.LR = 0.05
	cfg.Momentum = 0.9
	l, err := learner.New(l.Model(), cfg, 1)
	require.NoError(t, err)

	opt, sched, _ := l.ConfigureOptimizers()
	assert.IsType(t, &optim.SGD[Backend]{}, opt)
	assert.Equal(t, float32(0.05), opt.LR())

	// The schedule drives the optimizer that was built.
	sched.Step(1)
	for range 11 {
		sched.Step(1)
	}
	assert.InDelta(t, 0.005, opt.LR(), 1e-9)
}

func TestResetTest_DropsAccumulatedSteps(t *testing.T) {
	l, loader, _ := setup(t, 3)

	var first float64
	for batch := range loader.Epoch() {
		m, err := l.TestStep(batch)
		require.NoError(t, err)
		first = m[learner.MetricLoss]
		break
	}
	l.ResetTest()
	_, err := l.TestEpochEnd()
	assert.ErrorIs(t, err, learner.ErrNoTestSteps)

	for batch := range loader.Epoch() {
		_, err := l.TestStep(batch)
		require.NoError(t, err)
		break
	}
	agg, err := l.TestEpochEnd()
	require.NoError(t, err)
	assert.InDelta(t, first, agg[learner.MetricTestLoss], 1e-6)
}

func TestStep_RejectsInconsistentBatch(t *testing.T) {
	l, loader, _ := setup(t, 1)
	for batch := range loader.Epoch() {
		batch.Size++
		_, err := l.TrainingStep(batch)
		assert.Error(t, err)
		_, err = l.TestStep(batch)
		assert.Error(t, err)

		_, err = l.TestStep(dataset.Batch[Backend]{})
		assert.Error(t, err)
		break
	}
	assert.Equal(t, 0, l.Steps())
}

func TestNew_Errors(t *testing.T) {
	l, _, _ := setup(t, 1)

	_, err := learner.New[Backend](nil, learner.DefaultConfig(), 1)
	assert.Error(t, err)
	_, err = learner.New(l.Model(), learner.DefaultConfig(), 0)
	assert.Error(t, err)

	cfg := learner.DefaultConfig()
	cfg.LR = 0
	_, err = learner.New(l.Model(), cfg, 1)
	assert.Error(t, err)

	cfg = learner.DefaultConfig()
	cfg.SchedulerFrequency = 0
	_, err = learner.New(l.Model(), cfg, 1)
	assert.Error(t, err)

	cfg = learner.DefaultConfig()
	cfg.Optimizer = "rmsprop"
	_, err = learner.New(l.Model(), cfg, 1)
	assert.ErrorContains(t, err, "unknown optimizer")

	cfg = learner.DefaultConfig()
	cfg.Optimizer = learner.OptimizerSGD
	cfg.Momentum = 1
	_, err = learner.New(l.Model(), cfg, 1)
	assert.ErrorContains(t, err, "momentum")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", learner.Idle.String())
	assert.Equal(t, "training-step", learner.TrainingStep.String())
	assert.Equal(t, "test-step", learner.TestStep.String())
	assert.Equal(t, "test-aggregation", learner.TestAggregation.String())
}
