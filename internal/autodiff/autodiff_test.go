package autodiff_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newBackend() Backend {
	return autodiff.New(cpu.New())
}

func fromSlice(t *testing.T, b Backend, data []float32, shape ...int) *tensor.Tensor[float32, Backend] {
	t.Helper()
	x, err := tensor.FromSlice(data, tensor.Shape(shape), b)
	require.NoError(t, err)
	return x
}

func TestBackward_Square(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{3}, 1)
	y := x.Mul(x)

	grads := autodiff.Backward(y, backend)
	require.Contains(t, grads, x.Raw())
	assert.InDelta(t, 6, grads[x.Raw()].AsFloat32()[0], 1e-6)
}

func TestBackward_AccumulatesSharedInputs(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2}, 2)
	y := x.Add(x.MulScalar(3)).AddScalar(1).Sum()

	grads := autodiff.Backward(y, backend)
	assert.Equal(t, []float32{4, 4}, grads[x.Raw()].AsFloat32())
}

func TestBackward_BroadcastBiasReduced(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	bias := fromSlice(t, backend, []float32{0, 0, 0}, 3)
	y := x.Add(bias).Sum()

	grads := autodiff.Backward(y, backend)
	gb := grads[bias.Raw()]
	require.NotNil(t, gb)
	assert.Equal(t, tensor.Shape{3}, gb.Shape())
	assert.Equal(t, []float32{2, 2, 2}, gb.AsFloat32())
}

func TestBackward_MatMul(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	a := fromSlice(t, backend, []float32{1, 2, 3, 4}, 2, 2)
	b := fromSlice(t, backend, []float32{5, 6, 7, 8}, 2, 2)
	y := a.MatMul(b).Sum()

	grads := autodiff.Backward(y, backend)
	// d/dA Σ(AB) = 1 @ Bᵀ: each row is the row sums of B.
	assert.Equal(t, []float32{11, 15, 11, 15}, grads[a.Raw()].AsFloat32())
	// d/dB Σ(AB) = Aᵀ @ 1: each column is the column sums of A.
	assert.Equal(t, []float32{4, 4, 6, 6}, grads[b.Raw()].AsFloat32())
}

func TestBackward_CatNarrow(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	a := fromSlice(t, backend, []float32{1, 2}, 1, 2)
	b := fromSlice(t, backend, []float32{3, 4, 5, 6}, 1, 4)
	cat := tensor.Cat([]*tensor.Tensor[float32, Backend]{a, b}, 1)
	w := fromSlice(t, backend, []float32{1, 2, 3}, 1, 3)
	y := cat.Narrow(1, 2, 3).Mul(w).Sum()

	grads := autodiff.Backward(y, backend)
	assert.Equal(t, []float32{0, 0}, grads[a.Raw()].AsFloat32())
	assert.Equal(t, []float32{1, 2, 3, 0}, grads[b.Raw()].AsFloat32())
}

func TestBackward_NoOpsPanics(t *testing.T) {
	backend := newBackend()
	x := fromSlice(t, backend, []float32{1}, 1)
	assert.Panics(t, func() { autodiff.Backward(x, backend) })
}

func TestNoGrad_PausesRecording(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()

	x := fromSlice(t, backend, []float32{1, 2}, 2)
	backend.NoGrad(func() {
		_ = x.Mul(x)
	})
	assert.Equal(t, 0, backend.Tape().NumOps())
	assert.True(t, backend.Tape().IsRecording())

	_ = x.Mul(x)
	assert.Equal(t, 1, backend.Tape().NumOps())
}

func TestWithTape_NestedVectorJacobianProduct(t *testing.T) {
	backend := newBackend()
	outer := backend.Tape()
	outer.StartRecording()

	x := fromSlice(t, backend, []float32{0.5, -1}, 2)

	var vjp map[*tensor.RawTensor]*tensor.RawTensor
	nested := autodiff.NewGradientTape()
	backend.WithTape(nested, func() {
		nested.StartRecording()
		y := x.Tanh()
		v := tensor.MustNewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
		copy(v.AsFloat32(), []float32{2, 3})
		vjp = nested.BackwardFrom(y.Raw(), v, backend)
	})

	assert.Same(t, outer, backend.Tape())
	assert.Equal(t, 0, outer.NumOps())

	g := vjp[x.Raw()].AsFloat32()
	assert.InDelta(t, 2*(1-math.Pow(math.Tanh(0.5), 2)), g[0], 1e-5)
	assert.InDelta(t, 3*(1-math.Pow(math.Tanh(-1), 2)), g[1], 1e-5)
}

// TestGradientCheck_ConvNet compares tape gradients of a small conv → softplus →
// linear → cross-entropy graph with central finite differences.
func TestGradientCheck_ConvNet(t *testing.T) {
	backend := newBackend()
	rng := rand.New(rand.NewPCG(1, 2))

	x := tensor.Uniform[float32](tensor.Shape{2, 1, 4, 4}, -1, 1, rng, backend)
	k := tensor.Uniform[float32](tensor.Shape{2, 1, 3, 3}, -1, 1, rng, backend)
	w := tensor.Uniform[float32](tensor.Shape{32, 3}, -1, 1, rng, backend)
	bias := tensor.Uniform[float32](tensor.Shape{3}, -0.1, 0.1, rng, backend)
	labels, err := tensor.FromSlice([]int32{0, 2}, tensor.Shape{2}, backend)
	require.NoError(t, err)

	loss := func() *tensor.Tensor[float32, Backend] {
		h := tensor.New[float32](backend.Conv2D(x.Raw(), k.Raw(), 1, 1), backend).Softplus().Flatten()
		logits := h.MatMul(w).Add(bias)
		return tensor.New[float32](backend.CrossEntropy(logits.Raw(), labels.Raw()), backend)
	}

	backend.Tape().StartRecording()
	grads := autodiff.Backward(loss(), backend)
	backend.Tape().StopRecording()

	const eps = 1e-2
	for _, p := range []*tensor.Tensor[float32, Backend]{x, k, w, bias} {
		data := p.Data()
		g := grads[p.Raw()].AsFloat32()
		for i := 0; i < len(data); i += 3 {
			orig := data[i]
			data[i] = orig + eps
			plus := float64(loss().Item())
			data[i] = orig - eps
			minus := float64(loss().Item())
			data[i] = orig

			assert.InDelta(t, (plus-minus)/(2*eps), g[i], 2e-3, "param %v index %d", p.Shape(), i)
		}
	}
}
