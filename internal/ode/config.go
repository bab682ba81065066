// Package ode implements continuous-depth blocks: a vector field f(s, z) is
// integrated over a depth span with an explicit Runge-Kutta solver, and
// gradients are obtained either by differentiating through every solver
// stage or with the adjoint method.
//
// Usage:
//
//	field := nn.NewSequential[B](conv1, nn.NewTanh[B](), conv2)
//	block, err := ode.New[B](field, ode.Config{
//	    Solver:      ode.Dopri5,
//	    Sensitivity: ode.Adjoint,
//	    Span:        ode.Span{0, 1},
//	})
//	y := block.Forward(x)  // state at s = 1
//	nfe := block.NFE()     // field evaluations so far
package ode

import (
	"errors"
	"fmt"
	"math"
)

// Solver names.
const (
	Euler    = "euler"
	Midpoint = "midpoint"
	RK4      = "rk4"
	Dopri5   = "dopri5"
)

// Sensitivity names.
const (
	Autograd = "autograd"
	Adjoint  = "adjoint"
)

// Sentinel errors. Integration failures wrap one of these.
var (
	ErrShapeMismatch      = errors.New("ode: vector field output shape differs from state shape")
	ErrMaxSteps           = errors.New("ode: maximum number of solver steps exceeded")
	ErrNonFinite          = errors.New("ode: non-finite value during integration")
	ErrUnknownSolver      = errors.New("ode: unknown solver")
	ErrUnknownSensitivity = errors.New("ode: unknown sensitivity")
	ErrInvalidSpan        = errors.New("ode: invalid depth span")
)

// Span lists the depths at which the state is reported. It must hold at
// least two strictly increasing finite values.
type Span []float64

// Validate checks the span invariants.
func (s Span) Validate() error {
	if len(s) < 2 {
		return fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidSpan, len(s))
	}
	for i, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite point %v", ErrInvalidSpan, v)
		}
		if i > 0 && v <= s[i-1] {
			return fmt.Errorf("%w: %v is not strictly increasing", ErrInvalidSpan, []float64(s))
		}
	}
	return nil
}

// Start returns the first depth.
func (s Span) Start() float64 { return s[0] }

// End returns the final depth.
func (s Span) End() float64 { return s[len(s)-1] }

// Config configures a NeuralODE block.
type Config struct {
	Solver      string  `yaml:"solver"`
	Sensitivity string  `yaml:"sensitivity"`
	Span        Span    `yaml:"span"`
	Atol        float64 `yaml:"atol"`
	Rtol        float64 `yaml:"rtol"`
	// StepSize subdivides each span interval for fixed-step solvers.
	// Zero means one step per interval.
	StepSize float64 `yaml:"step_size"`
	MaxSteps int     `yaml:"max_steps"`
}

// DefaultConfig returns the adaptive solver with direct differentiation
// over [0, 1].
func DefaultConfig() Config {
	return Config{
		Solver:      Dopri5,
		Sensitivity: Autograd,
		Span:        Span{0, 1},
		Atol:        1e-4,
		Rtol:        1e-4,
		MaxSteps:    1000,
	}
}

// withDefaults fills zero tolerances and step limits.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Solver == "" {
		c.Solver = d.Solver
	}
	if c.Sensitivity == "" {
		c.Sensitivity = d.Sensitivity
	}
	if c.Span == nil {
		c.Span = d.Span
	}
	if c.Atol == 0 {
		c.Atol = d.Atol
	}
	if c.Rtol == 0 {
		c.Rtol = d.Rtol
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = d.MaxSteps
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if _, ok := tableaus[c.Solver]; !ok {
		return fmt.Errorf("%w %q (want euler, midpoint, rk4 or dopri5)", ErrUnknownSolver, c.Solver)
	}
	if c.Sensitivity != Autograd && c.Sensitivity != Adjoint {
		return fmt.Errorf("%w %q (want autograd or adjoint)", ErrUnknownSensitivity, c.Sensitivity)
	}
	if err := c.Span.Validate(); err != nil {
		return err
	}
	if c.Atol < 0 || c.Rtol < 0 || (c.Atol == 0 && c.Rtol == 0) {
		return fmt.Errorf("ode: tolerances must be non-negative and not both zero (atol=%g, rtol=%g)", c.Atol, c.Rtol)
	}
	if c.StepSize < 0 {
		return fmt.Errorf("ode: negative step size %g", c.StepSize)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("ode: negative max steps %d", c.MaxSteps)
	}
	return nil
}
