// Package ops defines differentiable operations recorded on a gradient tape.
//
// Each operation keeps the tensors it needs for its backward pass and
// computes input gradients from the output gradient:
//   - AddOp, SubOp, MulOp: element-wise, with broadcast reduction
//   - ScaleOp, ShiftOp: scalar multiply and add
//   - MatMulOp: d(A@B)/dA = grad@Bᵀ, d(A@B)/dB = Aᵀ@grad
//   - Conv2DOp, MaxPool2DOp: delegated to backend kernels
//   - ReshapeOp, TransposeOp, CatOp, NarrowOp: shape bookkeeping
//   - SumOp, SumDimOp: reductions
//   - ReLUOp, TanhOp, SoftplusOp: activations
//   - CrossEntropyOp: fused log-softmax + NLL
package ops

import "github.com/born-ml/neuralode/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns one gradient per input, in Inputs() order. A nil entry means
	// no gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}
