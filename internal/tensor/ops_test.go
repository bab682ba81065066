package tensor_test

import (
	"math/rand/v2"
	"testing"

	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSlice(t *testing.T) {
	backend := cpu.New()

	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, backend)
	require.NoError(t, err)
	assert.Equal(t, float32(6), x.At(1, 2))

	x.Set(10, 0, 1)
	assert.Equal(t, []float32{1, 10, 3, 4, 5, 6}, x.Data())

	_, err = tensor.FromSlice([]float32{1, 2}, tensor.Shape{3}, backend)
	assert.Error(t, err)

	assert.Panics(t, func() { x.At(2, 0) })
}

func TestCreation(t *testing.T) {
	backend := cpu.New()

	assert.Equal(t, []float32{1, 1, 1}, tensor.Ones[float32](tensor.Shape{3}, backend).Data())
	assert.Equal(t, []int32{7, 7}, tensor.Full[int32](tensor.Shape{2}, 7, backend).Data())

	rng := rand.New(rand.NewPCG(1, 1))
	u := tensor.Uniform[float32](tensor.Shape{1000}, -0.5, 0.5, rng, backend)
	for _, v := range u.Data() {
		require.GreaterOrEqual(t, v, float32(-0.5))
		require.Less(t, v, float32(0.5))
	}

	a := tensor.Randn[float32](tensor.Shape{16}, 1, rand.New(rand.NewPCG(3, 4)), backend)
	b := tensor.Randn[float32](tensor.Shape{16}, 1, rand.New(rand.NewPCG(3, 4)), backend)
	assert.Equal(t, a.Data(), b.Data(), "same seed must give the same values")
}

func TestTensorOps(t *testing.T) {
	backend := cpu.New()
	x, err := tensor.FromSlice([]float32{1, -2, 3, -4}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)

	assert.Equal(t, []float32{2, -4, 6, -8}, x.Add(x).Data())
	assert.Equal(t, []float32{1, 0, 3, 0}, x.ReLU().Data())
	assert.Equal(t, []float32{1, 3, -2, -4}, x.T().Data())
	assert.Equal(t, tensor.Shape{4}, x.Reshape(4).Shape())
	assert.Equal(t, []int32{0, 0}, x.Argmax(1).Data())
	assert.InDelta(t, -2, x.Sum().Item(), 1e-6)
}

func TestFlattenAndNarrow(t *testing.T) {
	backend := cpu.New()
	x := tensor.Zeros[float32](tensor.Shape{2, 3, 4, 4}, backend)

	assert.Equal(t, tensor.Shape{2, 48}, x.Flatten().Shape())
	assert.Equal(t, tensor.Shape{2, 1, 4, 4}, x.Narrow(1, 2, 1).Shape())
}

func TestDetach_SharesDataNewIdentity(t *testing.T) {
	backend := cpu.New()
	x := tensor.Ones[float32](tensor.Shape{2}, backend)
	d := x.Detach()

	assert.NotSame(t, x.Raw(), d.Raw())
	d.Data()[0] = 5
	assert.Equal(t, float32(5), x.Data()[0])

	c := x.Clone()
	c.Data()[1] = 9
	assert.Equal(t, float32(1), x.Data()[1])
}
