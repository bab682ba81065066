package trainer_test

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/dataset"
	"github.com/born-ml/neuralode/internal/learner"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/ode"
	"github.com/born-ml/neuralode/internal/trainer"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

type fixture struct {
	backend Backend
	learner *learner.Learner[Backend]
	model   *model.Classifier[Backend]
	train   *dataset.Loader[Backend]
	test    *dataset.Loader[Backend]
}

func newFixture(t *testing.T, kind string, imageSize, dataSize int, configure ...func(*learner.Config)) fixture {
	t.Helper()
	backend := autodiff.New(cpu.New())

	opts := model.DefaultOptions()
	opts.Kind = kind
	opts.ImageSize = imageSize
	opts.AugmentDims = 1
	opts.HiddenChannels = 4
	opts.Harmonics = 2
	opts.ODE = ode.Config{Solver: ode.RK4, Sensitivity: ode.Autograd, Span: ode.Span{0, 1}}
	m, err := model.New(backend, opts)
	require.NoError(t, err)

	train, err := dataset.NewLoader(dataset.Synthetic(16, dataSize, 1), 4, true, 1, backend)
	require.NoError(t, err)
	test, err := dataset.NewLoader(dataset.Synthetic(8, dataSize, 2), 4, false, 0, backend)
	require.NoError(t, err)

	cfg := learner.DefaultConfig()
	cfg.LR = 1e-2
	cfg.SchedulerFrequency = 2
	for _, fn := range configure {
		fn(&cfg)
	}
	l, err := learner.New[Backend](m, cfg, train.Len())
	require.NoError(t, err)

	return fixture{backend: backend, learner: l, model: m, train: train, test: test}
}

func snapshot(m *model.Classifier[Backend]) [][]float32 {
	var out [][]float32
	for _, p := range m.Parameters() {
		out = append(out, append([]float32(nil), p.Tensor().Data()...))
	}
	return out
}

func TestFit(t *testing.T) {
	for _, kind := range []string{model.KindDepthInvariant, model.KindGalerkin} {
		t.Run(kind, func(t *testing.T) {
			f := newFixture(t, kind, 10, 10)
			before := snapshot(f.model)

			var out bytes.Buffer
			tr, err := trainer.New[Backend](trainer.Config{Epochs: 2, LogEvery: 2}, &out)
			require.NoError(t, err)

			summary, err := tr.Fit(context.Background(), f.learner, f.train, f.test)
			require.NoError(t, err)

			_, err = uuid.Parse(summary.RunID)
			assert.NoError(t, err)
			assert.Equal(t, 8, summary.Steps)
			require.Len(t, summary.Epochs, 2)
			for i, e := range summary.Epochs {
				assert.Equal(t, i+1, e.Epoch)
				assert.False(t, math.IsNaN(e.TrainLoss) || math.IsInf(e.TrainLoss, 0))
				assert.GreaterOrEqual(t, e.TestAcc, 0.0)
				assert.LessOrEqual(t, e.TestAcc, 1.0)
				assert.Equal(t, 4.0, e.TrainNFE)
				assert.Equal(t, 4.0, e.TestNFE)
			}

			assert.NotEqual(t, before, snapshot(f.model), "parameters are updated")
			for _, p := range f.model.Parameters() {
				assert.NotNil(t, p.Grad(), p.Name())
			}
			assert.Equal(t, 0, f.backend.Tape().NumOps())
			assert.False(t, f.backend.Tape().IsRecording())

			assert.Contains(t, out.String(), "EPOCH")
			assert.Contains(t, out.String(), "TEST ACC")
		})
	}
}

func TestFit_WithoutTestLoader(t *testing.T) {
	f := newFixture(t, model.KindDepthInvariant, 10, 10)
	tr, err := trainer.New[Backend](trainer.Config{Epochs: 1, LogEvery: 100}, nil)
	require.NoError(t, err)

	summary, err := tr.Fit(context.Background(), f.learner, f.train, nil)
	require.NoError(t, err)
	require.Len(t, summary.Epochs, 1)
	assert.True(t, math.IsNaN(summary.Epochs[0].TestLoss))

	var out bytes.Buffer
	trainer.RenderSummary(&out, summary)
	assert.Contains(t, out.String(), "-")
}

func TestFit_Cancelled(t *testing.T) {
	f := newFixture(t, model.KindDepthInvariant, 10, 10)
	tr, err := trainer.New[Backend](trainer.Config{Epochs: 5, LogEvery: 1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := tr.Fit(ctx, f.learner, f.train, f.test)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Epochs)
	assert.Equal(t, 0, summary.Steps)
}

// A batch that does not fit the model panics inside Forward. The trainer
// turns it into an error and leaves the tape clean.
func TestFit_PanicBecomesError(t *testing.T) {
	f := newFixture(t, model.KindDepthInvariant, 8, 10)
	tr, err := trainer.New[Backend](trainer.Config{Epochs: 1, LogEvery: 1}, nil)
	require.NoError(t, err)

	_, err = tr.Fit(context.Background(), f.learner, f.train, f.test)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model: expected input")
	assert.Contains(t, err.Error(), "step 1")
	assert.False(t, f.backend.Tape().IsRecording())
	assert.Equal(t, learner.Idle, f.learner.State())
}

func TestFit_SolverErrorsStayInspectable(t *testing.T) {
	f := newFixture(t, model.KindDepthInvariant, 10, 10)

	// Infinite weights make the integration non-finite.
	for _, p := range f.model.Parameters() {
		for i := range p.Tensor().Data() {
			p.Tensor().Data()[i] = float32(math.Inf(1))
		}
	}
	tr, err := trainer.New[Backend](trainer.Config{Epochs: 1, LogEvery: 1}, nil)
	require.NoError(t, err)

	_, err = tr.Fit(context.Background(), f.learner, f.train, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ode.ErrNonFinite)
}

func TestFit_StepsPlateauScheduler(t *testing.T) {
	f := newFixture(t, model.KindDepthInvariant, 10, 10, func(cfg *learner.Config) {
		cfg.SchedulerFrequency = 1
		cfg.Plateau.Patience = 1
		cfg.Plateau.Factor = 0.5
		// Only a 99% drop in loss counts as an improvement.
		cfg.Plateau.Threshold = 0.99
	})
	tr, err := trainer.New[Backend](trainer.Config{Epochs: 2, LogEvery: 100}, nil)
	require.NoError(t, err)

	summary, err := tr.Fit(context.Background(), f.learner, f.train, nil)
	require.NoError(t, err)
	require.Len(t, summary.Epochs, 2)

	// Four steps per epoch. The first sets the baseline and every second bad
	// step after it halves the rate: steps 3, 5 and 7.
	assert.InDelta(t, 5e-3, summary.Epochs[0].LR, 1e-8)
	assert.InDelta(t, 1.25e-3, summary.Epochs[1].LR, 1e-8)
}

func TestEvaluate_DiscardsStaleTestSteps(t *testing.T) {
	f := newFixture(t, model.KindDepthInvariant, 10, 10)
	want, err := trainer.Evaluate(context.Background(), f.learner, f.test)
	require.NoError(t, err)

	for batch := range f.test.Epoch() {
		_, err := f.learner.TestStep(batch)
		require.NoError(t, err)
		break
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = trainer.Evaluate(ctx, f.learner, f.test)
	require.ErrorIs(t, err, context.Canceled)

	got, err := trainer.Evaluate(context.Background(), f.learner, f.test)
	require.NoError(t, err)
	assert.InDelta(t, want[learner.MetricTestLoss], got[learner.MetricTestLoss], 1e-9)
	assert.InDelta(t, want[learner.MetricTestAcc], got[learner.MetricTestAcc], 1e-9)
	assert.Equal(t, want[learner.MetricNFE], got[learner.MetricNFE])
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, model.KindDepthInvariant, 10, 10)
	m, err := trainer.Evaluate(context.Background(), f.learner, f.test)
	require.NoError(t, err)
	assert.Contains(t, m, learner.MetricTestLoss)
	assert.Contains(t, m, learner.MetricTestAcc)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, trainer.DefaultConfig().Validate())
	_, err := trainer.New[Backend](trainer.Config{Epochs: 0, LogEvery: 1}, nil)
	assert.Error(t, err)
	_, err = trainer.New[Backend](trainer.Config{Epochs: 1}, nil)
	assert.Error(t, err)
}
