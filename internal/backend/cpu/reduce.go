package cpu

import (
	"github.com/born-ml/neuralode/internal/tensor"
)

// Sum reduces all elements to a scalar (shape []).
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("sum", x)
	result := cpu.alloc("sum", tensor.Shape{}, tensor.Float32)

	var sum float64
	for _, v := range x.AsFloat32() {
		sum += float64(v)
	}
	result.AsFloat32()[0] = float32(sum)
	return result
}

// SumDim sums along dim. With keepDim the reduced dimension stays as size 1.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	requireFloat32("sumdim", x)
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)

	result := cpu.alloc("sumdim", reducedShape(shape, dim, keepDim), tensor.Float32)
	src, dst := x.AsFloat32(), result.AsFloat32()

	outer, size, inner := splitAt(shape, dim)
	for o := 0; o < outer; o++ {
		for d := 0; d < size; d++ {
			row := src[(o*size+d)*inner : (o*size+d+1)*inner]
			out := dst[o*inner : (o+1)*inner]
			for i, v := range row {
				out[i] += v
			}
		}
	}
	return result
}

// Argmax returns int32 indices of the maximum along dim (dimension removed).
// Ties resolve to the lowest index.
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	requireFloat32("argmax", x)
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)

	result := cpu.alloc("argmax", reducedShape(shape, dim, false), tensor.Int32)
	src, dst := x.AsFloat32(), result.AsInt32()

	outer, size, inner := splitAt(shape, dim)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			best := 0
			bestVal := src[o*size*inner+i]
			for d := 1; d < size; d++ {
				if v := src[(o*size+d)*inner+i]; v > bestVal {
					best, bestVal = d, v
				}
			}
			dst[o*inner+i] = int32(best) //nolint:gosec // G115: bounded by dimension size
		}
	}
	return result
}

func reducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for i, s := range shape {
		switch {
		case i != dim:
			out = append(out, s)
		case keepDim:
			out = append(out, 1)
		}
	}
	return out
}
