package ode

import (
	"fmt"
	"slices"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// adjointOp is the tape entry of an adjoint-mode integration from span[0]
// to span[len-1]. Its inputs are the initial state and the field parameters;
// its output is the final state.
//
// Backward integrates the augmented system
//
//	dz/ds = f(s, z)
//	da/ds = -aᵀ ∂f/∂z
//	dg/ds = -aᵀ ∂f/∂θ
//
// from the final depth back to the initial one, with a = ∂L/∂z(end) and
// g = 0 at the start. The vector-Jacobian products come from a nested tape
// that records one field evaluation at a time. When the field reads the
// initial state as a control input, its gradient is integrated alongside
// θ and added to a at the end.
type adjointOp[B tensor.Backend] struct {
	block   *NeuralODE[B]
	backend autodiff.BackwardCapable
	x0      *tensor.Tensor[float32, B]
	z1      *tensor.Tensor[float32, B]
	params  []*tensor.Tensor[float32, B]
	times   []float64 // reversed span prefix, end depth first
}

func newAdjointOp[B tensor.Backend](
	block *NeuralODE[B],
	backend autodiff.BackwardCapable,
	x0, z1 *tensor.Tensor[float32, B],
	span Span,
) *adjointOp[B] {
	ps := block.Parameters()
	params := make([]*tensor.Tensor[float32, B], len(ps))
	for i, p := range ps {
		params[i] = p.Tensor()
	}
	times := slices.Clone([]float64(span))
	slices.Reverse(times)

	return &adjointOp[B]{
		block:   block,
		backend: backend,
		x0:      x0,
		z1:      z1,
		params:  params,
		times:   times,
	}
}

// Inputs returns the initial state followed by the field parameters.
func (op *adjointOp[B]) Inputs() []*tensor.RawTensor {
	inputs := make([]*tensor.RawTensor, 0, 1+len(op.params))
	inputs = append(inputs, op.x0.Raw())
	for _, p := range op.params {
		inputs = append(inputs, p.Raw())
	}
	return inputs
}

// Output returns the final state.
func (op *adjointOp[B]) Output() *tensor.RawTensor {
	return op.z1.Raw()
}

// Backward solves the adjoint system. Integration failures panic, as in the
// forward pass.
func (op *adjointOp[B]) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	var grads []*tensor.RawTensor
	var err error
	op.backend.NoGrad(func() {
		grads, err = op.solve(outputGrad)
	})
	if err != nil {
		panic(fmt.Errorf("NeuralODE adjoint: %w", err))
	}
	return grads
}

// Augmented state layout: [z, a, g_x0, g_θ...].
func (op *adjointOp[B]) solve(outputGrad *tensor.RawTensor) ([]*tensor.RawTensor, error) {
	backend := op.z1.Backend()
	field := op.block.field
	nn.SetControl(field, op.x0)

	y0 := make(state[B], 0, 3+len(op.params))
	y0 = append(y0, op.z1.Detach(), tensor.New[float32](outputGrad, backend))
	y0 = append(y0, tensor.Zeros[float32](op.x0.Shape(), backend))
	for _, p := range op.params {
		y0 = append(y0, tensor.Zeros[float32](p.Shape(), backend))
	}

	f := func(s float64, y state[B]) (state[B], error) {
		return op.dynamics(s, y)
	}
	states, err := newIntegrator[B](op.block.cfg).integrate(f, y0, op.times)
	if err != nil {
		return nil, err
	}
	y := states[len(states)-1]

	grads := make([]*tensor.RawTensor, 0, 1+len(op.params))
	grads = append(grads, y[1].Add(y[2]).Raw())
	for _, g := range y[3:] {
		grads = append(grads, g.Raw())
	}
	return grads, nil
}

func (op *adjointOp[B]) dynamics(s float64, y state[B]) (state[B], error) {
	z, a := y[0], y[1]
	backend := z.Backend()

	var (
		fz   *tensor.Tensor[float32, B]
		vjps map[*tensor.RawTensor]*tensor.RawTensor
		zd   *tensor.Tensor[float32, B]
		err  error
	)
	tape := autodiff.NewGradientTape()
	op.backend.WithTape(tape, func() {
		tape.StartRecording()
		zd = z.Detach()
		fz, err = op.block.eval(s, zd)
		if err != nil {
			return
		}
		vjps = tape.BackwardFrom(fz.Raw(), a.Raw(), op.backend)
	})
	if err != nil {
		return nil, err
	}

	// Tensors the field does not depend on get a zero derivative.
	negVJP := func(key *tensor.RawTensor, shape tensor.Shape) *tensor.Tensor[float32, B] {
		if g, ok := vjps[key]; ok {
			return tensor.New[float32](g, backend).MulScalar(-1)
		}
		return tensor.Zeros[float32](shape, backend)
	}

	dy := make(state[B], 0, len(y))
	dy = append(dy, fz.Detach(), negVJP(zd.Raw(), z.Shape()), negVJP(op.x0.Raw(), op.x0.Shape()))
	for _, p := range op.params {
		dy = append(dy, negVJP(p.Raw(), p.Shape()))
	}
	return dy, nil
}
