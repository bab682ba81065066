package ops

import (
	"github.com/born-ml/neuralode/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor to match the target shape.
// This is necessary when broadcasting was used in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(targetShape) {
		return grad
	}

	if len(targetShape) == 0 {
		return backend.Sum(grad)
	}

	// Leading dimensions that broadcasting added.
	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}

	// Dimensions where the target had size 1.
	for i, size := range targetShape {
		if size == 1 && result.Shape()[i] > 1 {
			result = backend.SumDim(result, i, true)
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}

// fill returns a tensor shaped like ref with every element set to value.
func fill(ref *tensor.RawTensor, value float32, backend tensor.Backend) *tensor.RawTensor {
	out := tensor.MustNewRaw(ref.Shape(), ref.DType(), backend.Device())
	data := out.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return out
}
