package cpu

import (
	"fmt"
	"sync"

	"github.com/born-ml/neuralode/internal/parallel"
	"github.com/born-ml/neuralode/internal/tensor"
)

// Conv2DInputBackward computes the gradient of Conv2D with respect to its input.
//
// For each image: grad_col = kernelᵀ @ grad_out, folded back with col2im.
// Returns a tensor shaped like input.
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv2d_input_backward", input, kernel, grad)
	g := newConvGeometry("conv2d_input_backward", input, kernel, stride, padding)
	checkConvGrad("conv2d_input_backward", grad, g)

	result := cpu.alloc("conv2d_input_backward", input.Shape(), tensor.Float32)
	k, gOut, dIn := kernel.AsFloat32(), grad.AsFloat32(), result.AsFloat32()

	imgIn := g.CIn * g.H * g.W
	imgOut := g.COut * g.colCols()

	parallel.ForRange(g.N, func(start, end int) {
		col := make([]float32, g.colRows()*g.colCols())
		for n := start; n < end; n++ {
			clear(col)
			gemmAT(col, k, gOut[n*imgOut:(n+1)*imgOut], g.colRows(), g.COut, g.colCols())
			col2im(dIn[n*imgIn:(n+1)*imgIn], col, g)
		}
	}, cpu.par)

	return result
}

// Conv2DKernelBackward computes the gradient of Conv2D with respect to its kernel.
//
// dK = Σₙ grad_out[n] @ im2col(input[n])ᵀ. Each worker accumulates a private
// partial sum that is merged at the end.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv2d_kernel_backward", input, kernel, grad)
	g := newConvGeometry("conv2d_kernel_backward", input, kernel, stride, padding)
	checkConvGrad("conv2d_kernel_backward", grad, g)

	result := cpu.alloc("conv2d_kernel_backward", kernel.Shape(), tensor.Float32)
	in, gOut, dK := input.AsFloat32(), grad.AsFloat32(), result.AsFloat32()

	imgIn := g.CIn * g.H * g.W
	imgOut := g.COut * g.colCols()

	var mu sync.Mutex
	parallel.ForRange(g.N, func(start, end int) {
		col := make([]float32, g.colRows()*g.colCols())
		partial := make([]float32, len(dK))
		for n := start; n < end; n++ {
			im2col(col, in[n*imgIn:(n+1)*imgIn], g)
			gemmBT(partial, gOut[n*imgOut:(n+1)*imgOut], col, g.COut, g.colCols(), g.colRows())
		}

		mu.Lock()
		for i, v := range partial {
			dK[i] += v
		}
		mu.Unlock()
	}, cpu.par)

	return result
}

func checkConvGrad(op string, grad *tensor.RawTensor, g convGeometry) {
	want := tensor.Shape{g.N, g.COut, g.HOut, g.WOut}
	if !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: gradient shape %v, expected %v", op, grad.Shape(), want))
	}
}
