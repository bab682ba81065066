package cpu

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/parallel"
	"github.com/born-ml/neuralode/internal/tensor"
)

// convGeometry holds the dimensions of one Conv2D call.
type convGeometry struct {
	N, CIn, H, W    int
	COut, KH, KW    int
	HOut, WOut      int
	stride, padding int
}

// colRows is the height of one image's im2col matrix (C_in * K_h * K_w).
func (g convGeometry) colRows() int { return g.CIn * g.KH * g.KW }

// colCols is the width of one image's im2col matrix (H_out * W_out).
func (g convGeometry) colCols() int { return g.HOut * g.WOut }

func newConvGeometry(op string, input, kernel *tensor.RawTensor, stride, padding int) convGeometry {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", op, len(kernelShape)))
	}
	if inputShape[1] != kernelShape[1] {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, inputShape[1], kernelShape[1]))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("%s: stride must be positive, got %d", op, stride))
	}

	g := convGeometry{
		N: inputShape[0], CIn: inputShape[1], H: inputShape[2], W: inputShape[3],
		COut: kernelShape[0], KH: kernelShape[2], KW: kernelShape[3],
		stride: stride, padding: padding,
	}
	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", op, g.HOut, g.WOut))
	}
	return g
}

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape: [N, C_in, H, W]
// Kernel shape: [C_out, C_in, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// Each image is unfolded into a [C_in*K_h*K_w, H_out*W_out] column matrix and
// multiplied by the kernel viewed as [C_out, C_in*K_h*K_w]. Images are
// processed in parallel.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv2d", input, kernel)
	g := newConvGeometry("conv2d", input, kernel, stride, padding)

	output := cpu.alloc("conv2d", tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, tensor.Float32)
	in, k, out := input.AsFloat32(), kernel.AsFloat32(), output.AsFloat32()

	imgIn := g.CIn * g.H * g.W
	imgOut := g.COut * g.colCols()

	parallel.ForRange(g.N, func(start, end int) {
		col := make([]float32, g.colRows()*g.colCols())
		for n := start; n < end; n++ {
			im2col(col, in[n*imgIn:(n+1)*imgIn], g)
			gemm(out[n*imgOut:(n+1)*imgOut], k, col, g.COut, g.colRows(), g.colCols())
		}
	}, cpu.par)

	return output
}

// im2col unfolds one [C, H, W] image into col laid out as [C*K_h*K_w, H_out*W_out].
// Padded positions are written as zero.
func im2col(col, img []float32, g convGeometry) {
	hw := g.colCols()
	for c := 0; c < g.CIn; c++ {
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := ((c*g.KH+kh)*g.KW + kw) * hw
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.stride - g.padding + kh
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride - g.padding + kw
						idx := row + oh*g.WOut + ow
						if ih < 0 || ih >= g.H || iw < 0 || iw >= g.W {
							col[idx] = 0
							continue
						}
						col[idx] = img[(c*g.H+ih)*g.W+iw]
					}
				}
			}
		}
	}
}

// col2im folds a column matrix back into an image, accumulating overlapping patches.
func col2im(img, col []float32, g convGeometry) {
	hw := g.colCols()
	for c := 0; c < g.CIn; c++ {
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := ((c*g.KH+kh)*g.KW + kw) * hw
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.stride - g.padding + kh
					if ih < 0 || ih >= g.H {
						continue
					}
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride - g.padding + kw
						if iw < 0 || iw >= g.W {
							continue
						}
						img[(c*g.H+ih)*g.W+iw] += col[row+oh*g.WOut+ow]
					}
				}
			}
		}
	}
}
