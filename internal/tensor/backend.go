package tensor

// Backend defines the operations a compute backend provides to tensors.
//
// Implementations:
//   - cpu.CPUBackend: float32 kernels in pure Go
//   - autodiff.AutodiffBackend: decorator that records a gradient tape
//
// Shape errors are programmer errors and panic.
type Backend interface {
	// Element-wise binary operations (NumPy broadcasting).
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor

	// Scalar operations.
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// MatMul multiplies 2D matrices: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Convolution and pooling over NCHW tensors.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	MaxPool2D(input *RawTensor, kernelSize, stride int) *RawTensor
	MaxPool2DBackward(input, grad *RawTensor, kernelSize, stride int) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Cat(tensors []*RawTensor, dim int) *RawTensor
	Narrow(x *RawTensor, dim, start, length int) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	Argmax(x *RawTensor, dim int) *RawTensor

	// Activations.
	ReLU(x *RawTensor) *RawTensor
	Tanh(x *RawTensor) *RawTensor
	Softplus(x *RawTensor) *RawTensor

	// CrossEntropy returns the mean cross-entropy of [N, K] logits against [N] int32 targets as a scalar.
	CrossEntropy(logits, targets *RawTensor) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
