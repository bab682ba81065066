package cpu

import "github.com/born-ml/neuralode/internal/tensor"

// broadcastStrides computes strides for reading inShape as if it had outShape.
// Padded and size-1 dimensions get stride 0.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	outDim := len(outShape)
	strides := make([]int, outDim)

	inDim := len(inShape)
	offset := outDim - inDim
	origStrides := inShape.ComputeStrides()

	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		switch {
		case inIdx < 0:
			strides[i] = 0
		case inShape[inIdx] == 1:
			strides[i] = 0
		default:
			strides[i] = origStrides[inIdx]
		}
	}
	return strides
}

// flatIndex maps a flat output index to a flat source index.
// outStrides are the output's row-major strides; inStrides are the source's
// (possibly broadcast or permuted) strides in output dimension order.
func flatIndex(outIdx int, outStrides, inStrides []int) int {
	flat := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flat += coord * inStrides[i]
	}
	return flat
}

// splitAt decomposes shape around dim into (outer, size, inner) extents.
func splitAt(shape tensor.Shape, dim int) (outer, size, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}
