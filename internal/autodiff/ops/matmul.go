package ops

import "github.com/born-ml/neuralode/internal/tensor"

// MatMulOp represents matrix multiplication: output = A @ B.
//
// Backward:
//   - grad_A = outputGrad @ Bᵀ
//   - grad_B = Aᵀ @ outputGrad
type MatMulOp struct {
	a, b   *tensor.RawTensor
	output *tensor.RawTensor
}

// NewMatMulOp creates a new MatMulOp.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{a: a, b: b, output: output}
}

// Backward computes gradients for both matrices.
func (op *MatMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	gradA := backend.MatMul(outputGrad, backend.Transpose(op.b))
	gradB := backend.MatMul(backend.Transpose(op.a), outputGrad)
	return []*tensor.RawTensor{gradA, gradB}
}

// Inputs returns [A, B].
func (op *MatMulOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.a, op.b} }

// Output returns A @ B.
func (op *MatMulOp) Output() *tensor.RawTensor { return op.output }
