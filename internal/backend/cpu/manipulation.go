package cpu

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// Cat concatenates tensors along dim. Supports negative dim indexing.
//
// All tensors must share dtype, rank, and every extent except dim.
// Works on raw bytes, so any dtype is accepted.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: at least one tensor required")
	}

	first := tensors[0]
	dim = first.Shape().NormalizeDim(dim)
	outShape := first.Shape().Clone()
	outShape[dim] = 0

	for i, t := range tensors {
		if t.DType() != first.DType() {
			panic(fmt.Sprintf("cat: tensor %d has dtype %s, expected %s", i, t.DType(), first.DType()))
		}
		if len(t.Shape()) != len(outShape) {
			panic(fmt.Sprintf("cat: tensor %d has rank %d, expected %d", i, len(t.Shape()), len(outShape)))
		}
		for d, size := range t.Shape() {
			if d != dim && size != first.Shape()[d] {
				panic(fmt.Sprintf("cat: tensor %d shape %v incompatible with %v along dim %d", i, t.Shape(), first.Shape(), d))
			}
		}
		outShape[dim] += t.Shape()[dim]
	}

	result := cpu.alloc("cat", outShape, first.DType())
	elem := first.DType().Size()
	outer, outSize, inner := splitAt(outShape, dim)
	dst := result.Data()

	offset := 0
	for _, t := range tensors {
		size := t.Shape()[dim]
		src := t.Data()
		chunk := size * inner * elem
		for o := 0; o < outer; o++ {
			dstStart := (o*outSize + offset) * inner * elem
			copy(dst[dstStart:dstStart+chunk], src[o*chunk:(o+1)*chunk])
		}
		offset += size
	}
	return result
}

// Narrow copies length entries of dim starting at start into a new tensor.
func (cpu *CPUBackend) Narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	if start < 0 || length <= 0 || start+length > shape[dim] {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for dim %d of shape %v", start, start+length, dim, shape))
	}

	outShape := shape.Clone()
	outShape[dim] = length
	result := cpu.alloc("narrow", outShape, x.DType())

	elem := x.DType().Size()
	outer, size, inner := splitAt(shape, dim)
	src, dst := x.Data(), result.Data()
	chunk := length * inner * elem
	for o := 0; o < outer; o++ {
		srcStart := (o*size + start) * inner * elem
		copy(dst[o*chunk:(o+1)*chunk], src[srcStart:srcStart+chunk])
	}
	return result
}
