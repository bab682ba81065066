package ops

import "github.com/born-ml/neuralode/internal/tensor"

// SumOp represents a full reduction to a scalar.
//
// Backward: every input element receives the scalar output gradient.
type SumOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewSumOp creates a new SumOp.
func NewSumOp(input, output *tensor.RawTensor) *SumOp {
	return &SumOp{input: input, output: output}
}

// Backward broadcasts the scalar gradient to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{fill(op.input, outputGrad.AsFloat32()[0], backend)}
}

// Inputs returns [x].
func (op *SumOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the scalar sum.
func (op *SumOp) Output() *tensor.RawTensor { return op.output }

// SumDimOp represents a sum along one dimension.
//
// Backward re-inserts the reduced dimension and broadcasts the gradient over it.
type SumDimOp struct {
	input   *tensor.RawTensor
	output  *tensor.RawTensor
	dim     int
	keepDim bool
}

// NewSumDimOp creates a new SumDimOp. dim must already be normalized.
func NewSumDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{input: input, output: output, dim: dim, keepDim: keepDim}
}

// Backward expands outputGrad along the reduced dimension.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := outputGrad
	if !op.keepDim {
		kept := op.input.Shape().Clone()
		kept[op.dim] = 1
		grad = backend.Reshape(grad, kept)
	}
	// zeros + grad broadcasts grad over the reduced dimension.
	zeros := tensor.MustNewRaw(op.input.Shape(), op.input.DType(), backend.Device())
	return []*tensor.RawTensor{backend.Add(zeros, grad)}
}

// Inputs returns [x].
func (op *SumDimOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the reduced tensor.
func (op *SumDimOp) Output() *tensor.RawTensor { return op.output }
