package ops

import (
	"math"

	"github.com/born-ml/neuralode/internal/tensor"
)

// ReLUOp represents max(0, x).
//
// Backward: d(ReLU(x))/dx = 1 if x > 0, else 0.
type ReLUOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{input: input, output: output}
}

// Backward masks outputGrad by input > 0.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	mask := tensor.MustNewRaw(op.input.Shape(), op.input.DType(), backend.Device())
	maskData := mask.AsFloat32()
	for i, v := range op.input.AsFloat32() {
		if v > 0 {
			maskData[i] = 1
		}
	}
	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}

// Inputs returns [x].
func (op *ReLUOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns max(0, x).
func (op *ReLUOp) Output() *tensor.RawTensor { return op.output }

// TanhOp represents the hyperbolic tangent.
//
// Backward uses the stored output: d(tanh(x))/dx = 1 - tanh²(x).
type TanhOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewTanhOp creates a new TanhOp.
func NewTanhOp(input, output *tensor.RawTensor) *TanhOp {
	return &TanhOp{input: input, output: output}
}

// Backward computes outputGrad * (1 - output²).
func (op *TanhOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	squared := backend.Mul(op.output, op.output)
	derivative := backend.AddScalar(backend.MulScalar(squared, -1), 1)
	return []*tensor.RawTensor{backend.Mul(outputGrad, derivative)}
}

// Inputs returns [x].
func (op *TanhOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns tanh(x).
func (op *TanhOp) Output() *tensor.RawTensor { return op.output }

// SoftplusOp represents log(1 + exp(x)).
//
// Backward: d(softplus(x))/dx = sigmoid(x).
type SoftplusOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewSoftplusOp creates a new SoftplusOp.
func NewSoftplusOp(input, output *tensor.RawTensor) *SoftplusOp {
	return &SoftplusOp{input: input, output: output}
}

// Backward computes outputGrad * sigmoid(x).
func (op *SoftplusOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	sig := tensor.MustNewRaw(op.input.Shape(), op.input.DType(), backend.Device())
	sigData := sig.AsFloat32()
	for i, v := range op.input.AsFloat32() {
		sigData[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
	return []*tensor.RawTensor{backend.Mul(outputGrad, sig)}
}

// Inputs returns [x].
func (op *SoftplusOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns softplus(x).
func (op *SoftplusOp) Output() *tensor.RawTensor { return op.output }
