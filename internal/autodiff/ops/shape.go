package ops

import "github.com/born-ml/neuralode/internal/tensor"

// ReshapeOp records a reshape. Backward reshapes the gradient back.
type ReshapeOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{input: input, output: output}
}

// Backward reshapes outputGrad to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.input.Shape())}
}

// Inputs returns [x].
func (op *ReshapeOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the reshaped tensor.
func (op *ReshapeOp) Output() *tensor.RawTensor { return op.output }

// TransposeOp records an axis permutation. Backward applies the inverse permutation.
type TransposeOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	axes   []int
}

// NewTransposeOp creates a new TransposeOp. Empty axes means full reversal.
func NewTransposeOp(input, output *tensor.RawTensor, axes []int) *TransposeOp {
	if len(axes) == 0 {
		ndim := len(input.Shape())
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	return &TransposeOp{input: input, output: output, axes: axes}
}

// Backward transposes outputGrad with the inverse permutation.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inverse := make([]int, len(op.axes))
	for i, ax := range op.axes {
		inverse[ax] = i
	}
	return []*tensor.RawTensor{backend.Transpose(outputGrad, inverse...)}
}

// Inputs returns [x].
func (op *TransposeOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the transposed tensor.
func (op *TransposeOp) Output() *tensor.RawTensor { return op.output }

// CatOp represents a concatenation along a dimension.
//
// Backward splits outputGrad at the input boundaries; each input receives its slice.
type CatOp struct {
	inputs []*tensor.RawTensor
	dim    int
	output *tensor.RawTensor
}

// NewCatOp creates a new CatOp. dim must already be normalized.
func NewCatOp(inputs []*tensor.RawTensor, dim int, output *tensor.RawTensor) *CatOp {
	return &CatOp{inputs: inputs, dim: dim, output: output}
}

// Backward narrows outputGrad once per input.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, len(op.inputs))
	offset := 0
	for i, in := range op.inputs {
		size := in.Shape()[op.dim]
		grads[i] = backend.Narrow(outputGrad, op.dim, offset, size)
		offset += size
	}
	return grads
}

// Inputs returns the concatenated tensors.
func (op *CatOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the concatenation.
func (op *CatOp) Output() *tensor.RawTensor { return op.output }

// NarrowOp represents taking a contiguous range of one dimension.
//
// Backward pads outputGrad with zeros back to the input extent.
type NarrowOp struct {
	input         *tensor.RawTensor
	output        *tensor.RawTensor
	dim           int
	start, length int
}

// NewNarrowOp creates a new NarrowOp. dim must already be normalized.
func NewNarrowOp(input, output *tensor.RawTensor, dim, start, length int) *NarrowOp {
	return &NarrowOp{input: input, output: output, dim: dim, start: start, length: length}
}

// Backward scatters outputGrad into a zero tensor shaped like the input.
func (op *NarrowOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	parts := make([]*tensor.RawTensor, 0, 3)
	if op.start > 0 {
		parts = append(parts, zerosAlong(op.input, op.dim, op.start, backend))
	}
	parts = append(parts, outputGrad)
	if rest := op.input.Shape()[op.dim] - op.start - op.length; rest > 0 {
		parts = append(parts, zerosAlong(op.input, op.dim, rest, backend))
	}
	if len(parts) == 1 {
		return []*tensor.RawTensor{outputGrad}
	}
	return []*tensor.RawTensor{backend.Cat(parts, op.dim)}
}

// Inputs returns [x].
func (op *NarrowOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the narrowed tensor.
func (op *NarrowOp) Output() *tensor.RawTensor { return op.output }

func zerosAlong(ref *tensor.RawTensor, dim, size int, backend tensor.Backend) *tensor.RawTensor {
	shape := ref.Shape().Clone()
	shape[dim] = size
	return tensor.MustNewRaw(shape, ref.DType(), backend.Device())
}
