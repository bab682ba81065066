package galerkin

import (
	"fmt"
	"math"

	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// coefficients holds the [S, P] coefficient parameter and the current depth
// shared by the Galerkin layers.
type coefficients[B tensor.Backend] struct {
	basis  Basis
	coeffs *nn.Parameter[B]
	depth  float64
}

func newCoefficients[B tensor.Backend](basis Basis, numWeights, fanIn, fanOut int, name string, backend B) coefficients[B] {
	// Each weight sums S basis terms, so the Xavier bound is scaled by 1/sqrt(S).
	bound := math.Sqrt(6.0/float64(fanIn+fanOut)) / math.Sqrt(float64(basis.Size()))
	c := nn.Uniform(tensor.Shape{basis.Size(), numWeights}, bound, backend)
	return coefficients[B]{
		basis:  basis,
		coeffs: nn.NewParameter(name, c),
	}
}

// weights evaluates φ(depth) @ C as a [1, P] tensor. φ is a constant, so
// gradients reach only the coefficients.
func (c *coefficients[B]) weights(backend B) *tensor.Tensor[float32, B] {
	phi := c.basis.Eval(c.depth)
	row := make([]float32, len(phi))
	for i, v := range phi {
		row[i] = float32(v)
	}
	p, err := tensor.FromSlice(row, tensor.Shape{1, len(row)}, backend)
	if err != nil {
		panic(err)
	}
	return p.MatMul(c.coeffs.Tensor())
}

// GalConv2D is a same-stride convolution whose kernel and bias are
// functions of depth: [kernel | bias] = φ(s) @ C with
// C of shape [basis.Size(), out*in*k*k + out].
//
// Example:
//
//	conv := galerkin.NewGalConv2D(33, 32, 3, 1, galerkin.NewFourier(5), backend)
//	conv.SetDepth(0.5)
//	y := conv.Forward(x) // [N, 33, 28, 28] -> [N, 32, 28, 28]
type GalConv2D[B tensor.Backend] struct {
	coefficients[B]
	inChannels  int
	outChannels int
	kernelSize  int
	padding     int
	backend     B
}

// NewGalConv2D creates a Galerkin convolution with a square kernel and stride 1.
func NewGalConv2D[B tensor.Backend](inChannels, outChannels, kernelSize, padding int, basis Basis, backend B) *GalConv2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("galconv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 || padding < 0 {
		panic(fmt.Sprintf("galconv2d: invalid kernel size %d or padding %d", kernelSize, padding))
	}
	kk := kernelSize * kernelSize
	numWeights := outChannels*inChannels*kk + outChannels

	return &GalConv2D[B]{
		coefficients: newCoefficients(basis, numWeights, inChannels*kk, outChannels*kk, "galconv2d.coeffs", backend),
		inChannels:   inChannels,
		outChannels:  outChannels,
		kernelSize:   kernelSize,
		padding:      padding,
		backend:      backend,
	}
}

// SetDepth sets the depth at which the next Forward evaluates the basis.
func (g *GalConv2D[B]) SetDepth(s float64) {
	g.depth = s
}

// Forward convolves input with the kernel for the current depth.
func (g *GalConv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("galconv2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if shape[1] != g.inChannels {
		panic(fmt.Sprintf("galconv2d: input channels %d != expected %d", shape[1], g.inChannels))
	}

	w := g.weights(g.backend)
	nk := g.outChannels * g.inChannels * g.kernelSize * g.kernelSize
	kernel := w.Narrow(1, 0, nk).Reshape(g.outChannels, g.inChannels, g.kernelSize, g.kernelSize)
	bias := w.Narrow(1, nk, g.outChannels).Reshape(g.outChannels)

	return nn.Conv2DForward(input, kernel, bias, 1, g.padding)
}

// Parameters returns the coefficient matrix.
func (g *GalConv2D[B]) Parameters() []*nn.Parameter[B] {
	return []*nn.Parameter[B]{g.coeffs}
}

// Basis returns the basis the coefficients are expressed in.
func (g *GalConv2D[B]) Basis() Basis {
	return g.basis
}

// String returns a string representation of the layer.
func (g *GalConv2D[B]) String() string {
	return fmt.Sprintf("GalConv2D(in_channels=%d, out_channels=%d, kernel_size=%d, padding=%d, basis=%s)",
		g.inChannels, g.outChannels, g.kernelSize, g.padding, g.basis.Name())
}
