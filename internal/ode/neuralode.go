package ode

import (
	"fmt"
	"strings"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// NeuralODE is a continuous-depth block: Forward returns z(s_end) where
// dz/ds = field(s, z) and z(s_start) is the input.
//
// Before integrating, the input is pushed to fields implementing
// nn.ControlSetter, and the current depth is pushed to fields implementing
// nn.DepthSetter before every evaluation.
//
// NeuralODE counts field evaluations (NFE). The count is owned by the block
// and only changes through evaluations and ResetNFE.
type NeuralODE[B tensor.Backend] struct {
	field nn.Module[B]
	cfg   Config
	nfe   int
}

var _ nn.Module[tensor.Backend] = (*NeuralODE[tensor.Backend])(nil)

// New creates a NeuralODE block around field. Zero tolerances, step limits
// and an empty solver or sensitivity take their DefaultConfig values.
func New[B tensor.Backend](field nn.Module[B], cfg Config) (*NeuralODE[B], error) {
	if field == nil {
		return nil, fmt.Errorf("ode: nil vector field")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Span = append(Span(nil), cfg.Span...)
	return &NeuralODE[B]{field: field, cfg: cfg}, nil
}

// Forward integrates the input over the span and returns the final state.
//
// Integration errors are fatal for the surrounding computation: Forward
// panics with the wrapped error (ErrShapeMismatch, ErrMaxSteps, ErrNonFinite).
func (n *NeuralODE[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	traj, err := n.Trajectory(input)
	if err != nil {
		panic(fmt.Errorf("NeuralODE.Forward: %w", err))
	}
	return traj[len(traj)-1]
}

// Trajectory returns the state at every span entry, in span order. The first
// entry is the input itself.
func (n *NeuralODE[B]) Trajectory(input *tensor.Tensor[float32, B]) ([]*tensor.Tensor[float32, B], error) {
	nn.SetControl(n.field, input)

	f := func(s float64, y state[B]) (state[B], error) {
		out, err := n.eval(s, y[0])
		if err != nil {
			return nil, err
		}
		return state[B]{out}, nil
	}

	bc, differentiable := any(input.Backend()).(autodiff.BackwardCapable)
	adjoint := n.cfg.Sensitivity == Adjoint && differentiable && bc.Tape().IsRecording()

	var (
		states []state[B]
		err    error
	)
	if adjoint {
		bc.NoGrad(func() {
			states, err = newIntegrator[B](n.cfg).integrate(f, state[B]{input}, n.cfg.Span)
		})
	} else {
		states, err = newIntegrator[B](n.cfg).integrate(f, state[B]{input}, n.cfg.Span)
	}
	if err != nil {
		return nil, err
	}

	out := make([]*tensor.Tensor[float32, B], len(states))
	for k, st := range states {
		out[k] = st[0]
		if adjoint && k > 0 {
			bc.Tape().Record(newAdjointOp(n, bc, input, st[0], n.cfg.Span[:k+1]))
		}
	}
	return out, nil
}

// eval evaluates the field once at depth s and counts the evaluation.
func (n *NeuralODE[B]) eval(s float64, z *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	nn.SetDepth(n.field, s)
	out := n.field.Forward(z)
	n.nfe++
	if !out.Shape().Equal(z.Shape()) {
		return nil, fmt.Errorf("%w: field returned %v for state %v at depth %g",
			ErrShapeMismatch, out.Shape(), z.Shape(), s)
	}
	return out, nil
}

// Parameters returns the parameters of the vector field.
func (n *NeuralODE[B]) Parameters() []*nn.Parameter[B] {
	return n.field.Parameters()
}

// NFE returns the number of field evaluations since the last reset.
func (n *NeuralODE[B]) NFE() int {
	return n.nfe
}

// ResetNFE sets the evaluation counter to zero.
func (n *NeuralODE[B]) ResetNFE() {
	n.nfe = 0
}

// Field returns the vector field.
func (n *NeuralODE[B]) Field() nn.Module[B] {
	return n.field
}

// Config returns the block configuration with defaults applied.
func (n *NeuralODE[B]) Config() Config {
	return n.cfg
}

// String returns a string representation of the block.
func (n *NeuralODE[B]) String() string {
	field := fmt.Sprint(n.field)
	field = strings.ReplaceAll(field, "\n", "\n  ")
	return fmt.Sprintf("NeuralODE(solver=%s, sensitivity=%s, span=%v,\n  field=%s)",
		n.cfg.Solver, n.cfg.Sensitivity, []float64(n.cfg.Span), field)
}
