package nn_test

import (
	"testing"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/nn"
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

func TestParameter(t *testing.T) {
	backend := newBackend()
	data := fromSlice(t, backend, []float32{1, 2, 3}, 3)
	param := nn.NewParameter("test_param", data)

	assert.Equal(t, "test_param", param.Name())
	assert.Same(t, data, param.Tensor())
	assert.Nil(t, param.Grad())
	assert.Equal(t, 3, param.NumElements())

	param.SetGrad(data)
	assert.NotNil(t, param.Grad())
	param.ZeroGrad()
	assert.Nil(t, param.Grad())
}

func TestLinear_Forward(t *testing.T) {
	backend := newBackend()
	layer := nn.NewLinear(3, 2, backend)

	assert.Equal(t, tensor.Shape{2, 3}, layer.Weight().Tensor().Shape())
	assert.Equal(t, tensor.Shape{2}, layer.Bias().Tensor().Shape())
	assert.Len(t, layer.Parameters(), 2)

	copy(layer.Weight().Tensor().Data(), []float32{1, 0, 0, 0, 1, 1})
	copy(layer.Bias().Tensor().Data(), []float32{0.5, -1})

	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := layer.Forward(x)

	require.Equal(t, tensor.Shape{2, 2}, y.Shape())
	assert.Equal(t, []float32{1.5, 4, 4.5, 10}, y.Data())
}

func TestLinear_WrongFeaturesPanics(t *testing.T) {
	backend := newBackend()
	layer := nn.NewLinear(3, 2, backend)
	assert.PanicsWithValue(t, "Linear.Forward: expected input with 3 features, got 4", func() {
		layer.Forward(tensor.Zeros[float32](tensor.Shape{1, 4}, backend))
	})
}

func TestConv2D_ShapesAndBias(t *testing.T) {
	backend := newBackend()
	conv := nn.NewConv2D(2, 3, 3, 3, 1, 1, true, backend)

	assert.Equal(t, tensor.Shape{3, 2, 3, 3}, conv.Parameters()[0].Tensor().Shape())
	assert.Equal(t, [2]int{5, 5}, conv.ComputeOutputSize(5, 5))

	// Zero kernel leaves only the bias.
	weight := conv.Parameters()[0].Tensor().Data()
	clear(weight)
	copy(conv.Parameters()[1].Tensor().Data(), []float32{1, 2, 3})

	y := conv.Forward(tensor.Ones[float32](tensor.Shape{2, 2, 5, 5}, backend))
	require.Equal(t, tensor.Shape{2, 3, 5, 5}, y.Shape())
	assert.Equal(t, float32(1), y.At(0, 0, 4, 4))
	assert.Equal(t, float32(3), y.At(1, 2, 0, 0))
}

func TestConv2D_WrongChannelsPanics(t *testing.T) {
	backend := newBackend()
	conv := nn.NewConv2D(2, 3, 3, 3, 1, 1, false, backend)
	assert.Len(t, conv.Parameters(), 1)
	assert.Panics(t, func() {
		conv.Forward(tensor.Zeros[float32](tensor.Shape{1, 1, 5, 5}, backend))
	})
}

func TestMaxPool2D(t *testing.T) {
	backend := newBackend()
	pool := nn.NewMaxPool2D(2, 2, backend)
	x := fromSlice(t, backend, []float32{
		1, 2, 5, 6,
		3, 4, 7, 8,
		-1, -2, 0, 0,
		-3, -4, 0, 9,
	}, 1, 1, 4, 4)

	y := pool.Forward(x)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, y.Shape())
	assert.Equal(t, []float32{4, 8, -1, 9}, y.Data())
	assert.Empty(t, pool.Parameters())
}

func TestActivations(t *testing.T) {
	backend := newBackend()
	x := fromSlice(t, backend, []float32{-1, 0, 2}, 3)

	assert.Equal(t, []float32{0, 0, 2}, nn.NewReLU[Backend]().Forward(x).Data())
	assert.InDelta(t, 0.9640276, nn.NewTanh[Backend]().Forward(x).Data()[2], 1e-6)
	assert.InDelta(t, 0.6931472, nn.NewSoftplus[Backend]().Forward(x).Data()[1], 1e-6)

	_, ok := nn.Activation[Backend]("tanh")
	assert.True(t, ok)
	_, ok = nn.Activation[Backend]("gelu")
	assert.False(t, ok)

	for _, name := range nn.ActivationNames {
		act, ok := nn.Activation[Backend](name)
		assert.True(t, ok, name)
		assert.NotNil(t, act, name)
		assert.True(t, nn.IsActivation(name))
	}
	assert.False(t, nn.IsActivation(""))
}

func TestFlatten(t *testing.T) {
	backend := newBackend()
	y := nn.NewFlatten[Backend]().Forward(tensor.Zeros[float32](tensor.Shape{2, 4, 14, 14}, backend))
	assert.Equal(t, tensor.Shape{2, 784}, y.Shape())
}

func TestSequential(t *testing.T) {
	backend := newBackend()
	model := nn.NewSequential[Backend](
		nn.NewLinear(4, 8, backend),
		nn.NewReLU[Backend](),
	)
	model.Add(nn.NewLinear(8, 2, backend))

	assert.Equal(t, 3, model.Len())
	assert.Len(t, model.Parameters(), 4)
	assert.Equal(t, 4*8+8+8*2+2, nn.CountParameters(model.Parameters()))

	y := model.Forward(tensor.Ones[float32](tensor.Shape{5, 4}, backend))
	assert.Equal(t, tensor.Shape{5, 2}, y.Shape())

	assert.Contains(t, model.String(), "(1): ReLU()")
	assert.Contains(t, model.String(), "Linear(in=8, out=2)")
	assert.Panics(t, func() { model.Module(3) })
}

func TestSequential_PropagatesDepthAndControl(t *testing.T) {
	backend := newBackend()
	depth := nn.NewDepthCat[Backend]()
	control := nn.NewDataControl[Backend]()
	field := nn.NewSequential[Backend](control, nn.NewTanh[Backend](), depth)

	u := fromSlice(t, backend, []float32{7, 8}, 2, 1)
	nn.SetControl[Backend](field, u)
	nn.SetDepth[Backend](field, 0.25)
	assert.Equal(t, 0.25, depth.Depth())

	y := field.Forward(tensor.Zeros[float32](tensor.Shape{2, 1}, backend))
	require.Equal(t, tensor.Shape{2, 3}, y.Shape())
	assert.Equal(t, float32(0.25), y.At(1, 2))
	assert.InDelta(t, 0.9999998, y.At(1, 1), 1e-6)
}

func TestAugmenter_Zeros(t *testing.T) {
	backend := newBackend()
	aug := nn.NewAugmenter[Backend](3, nil)

	x := tensor.Ones[float32](tensor.Shape{2, 1, 4, 4}, backend)
	y := aug.Forward(x)

	require.Equal(t, tensor.Shape{2, 4, 4, 4}, y.Shape())
	assert.Equal(t, float32(1), y.At(1, 0, 3, 3))
	assert.Equal(t, float32(0), y.At(1, 3, 3, 3))
	assert.Empty(t, aug.Parameters())
}

func TestAugmenter_Learned(t *testing.T) {
	backend := newBackend()
	aug := nn.NewAugmenter(2, nn.Module[Backend](nn.NewConv2D(1, 2, 3, 3, 1, 1, true, backend)))

	y := aug.Forward(tensor.Ones[float32](tensor.Shape{2, 1, 6, 6}, backend))
	assert.Equal(t, tensor.Shape{2, 3, 6, 6}, y.Shape())
	assert.Len(t, aug.Parameters(), 2)
	assert.Equal(t, 2, aug.Dims())

	wrong := nn.NewAugmenter(3, nn.Module[Backend](nn.NewConv2D(1, 2, 3, 3, 1, 1, true, backend)))
	assert.Panics(t, func() { wrong.Forward(tensor.Ones[float32](tensor.Shape{1, 1, 6, 6}, backend)) })
}

func TestDataControl_RequiresControl(t *testing.T) {
	backend := newBackend()
	dc := nn.NewDataControl[Backend]()
	x := tensor.Ones[float32](tensor.Shape{2, 1, 3, 3}, backend)
	assert.PanicsWithValue(t, "datacontrol: control not set", func() { dc.Forward(x) })

	dc.SetControl(tensor.Zeros[float32](tensor.Shape{3, 1, 3, 3}, backend))
	assert.Panics(t, func() { dc.Forward(x) })
}

func TestCrossEntropyLossAndAccuracy(t *testing.T) {
	backend := newBackend()
	logits := fromSlice(t, backend, []float32{
		0, 0,
		10, 0,
	}, 2, 2)
	labels, err := tensor.FromSlice([]int32{1, 0}, tensor.Shape{2}, backend)
	require.NoError(t, err)

	loss := nn.CrossEntropyLoss(logits, labels)
	// Row 0: log 2. Row 1: log(1 + e^-10).
	assert.InDelta(t, (0.6931472+4.5398899e-5)/2, loss.Item(), 1e-5)
	assert.GreaterOrEqual(t, loss.Item(), float32(0))

	// Row 0 ties resolve to class 0, so only row 1 is correct.
	assert.InDelta(t, 0.5, nn.Accuracy(logits, labels), 1e-12)
}

func TestCollectGrads(t *testing.T) {
	backend := newBackend()
	layer := nn.NewLinear(2, 1, backend)
	unused := nn.NewParameter("unused", tensor.Zeros[float32](tensor.Shape{1}, backend))

	backend.Tape().StartRecording()
	x := fromSlice(t, backend, []float32{1, 2}, 1, 2)
	loss := layer.Forward(x).Sum()
	grads := autodiff.Backward(loss, backend)

	params := append(layer.Parameters(), unused)
	nn.CollectGrads(params, grads, backend)

	require.NotNil(t, layer.Weight().Grad())
	assert.Equal(t, []float32{1, 2}, layer.Weight().Grad().Data())
	assert.Equal(t, []float32{1}, layer.Bias().Grad().Data())
	assert.Nil(t, unused.Grad())
}

func TestSeed_Reproducible(t *testing.T) {
	backend := newBackend()
	nn.Seed(42)
	a := nn.NewLinear(4, 4, backend).Weight().Tensor().Data()
	nn.Seed(42)
	b := nn.NewLinear(4, 4, backend).Weight().Tensor().Data()
	assert.Equal(t, a, b)
}
