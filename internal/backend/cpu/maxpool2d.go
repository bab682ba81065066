package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/neuralode/internal/tensor"
)

// MaxPool2D performs 2D max pooling over [N, C, H, W] input.
//
// Output shape: [N, C, (H-k)/stride+1, (W-k)/stride+1]. No padding.
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	requireFloat32("maxpool2d", input)
	N, C, H, W, HOut, WOut := poolGeometry(input, kernelSize, stride)

	output := cpu.alloc("maxpool2d", tensor.Shape{N, C, HOut, WOut}, tensor.Float32)
	in, out := input.AsFloat32(), output.AsFloat32()

	for nc := 0; nc < N*C; nc++ {
		plane := in[nc*H*W : (nc+1)*H*W]
		for oh := 0; oh < HOut; oh++ {
			for ow := 0; ow < WOut; ow++ {
				out[(nc*HOut+oh)*WOut+ow] = plane[argmaxWindow(plane, W, oh*stride, ow*stride, kernelSize)]
			}
		}
	}
	return output
}

// MaxPool2DBackward routes each output gradient to the input position that
// held the window maximum. Ties go to the first position in row-major order.
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	requireFloat32("maxpool2d_backward", input, grad)
	N, C, H, W, HOut, WOut := poolGeometry(input, kernelSize, stride)
	if want := (tensor.Shape{N, C, HOut, WOut}); !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("maxpool2d_backward: gradient shape %v, expected %v", grad.Shape(), want))
	}

	result := cpu.alloc("maxpool2d_backward", input.Shape(), tensor.Float32)
	in, gOut, dIn := input.AsFloat32(), grad.AsFloat32(), result.AsFloat32()

	for nc := 0; nc < N*C; nc++ {
		plane := in[nc*H*W : (nc+1)*H*W]
		dPlane := dIn[nc*H*W : (nc+1)*H*W]
		for oh := 0; oh < HOut; oh++ {
			for ow := 0; ow < WOut; ow++ {
				dPlane[argmaxWindow(plane, W, oh*stride, ow*stride, kernelSize)] += gOut[(nc*HOut+oh)*WOut+ow]
			}
		}
	}
	return result
}

func poolGeometry(input *tensor.RawTensor, kernelSize, stride int) (N, C, H, W, HOut, WOut int) {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("maxpool2d: input must be 4D [N,C,H,W], got %dD", len(shape)))
	}
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: kernel size and stride must be positive, got %d and %d", kernelSize, stride))
	}
	N, C, H, W = shape[0], shape[1], shape[2], shape[3]
	HOut = (H-kernelSize)/stride + 1
	WOut = (W-kernelSize)/stride + 1
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("maxpool2d: kernel %d larger than input %dx%d", kernelSize, H, W))
	}
	return N, C, H, W, HOut, WOut
}

// argmaxWindow returns the flat plane index of the maximum in the k×k window at (h0, w0).
func argmaxWindow(plane []float32, W, h0, w0, k int) int {
	best := -1
	bestVal := float32(math.Inf(-1))
	for kh := 0; kh < k; kh++ {
		for kw := 0; kw < k; kw++ {
			idx := (h0+kh)*W + w0 + kw
			if best < 0 || plane[idx] > bestVal {
				best, bestVal = idx, plane[idx]
			}
		}
	}
	return best
}
