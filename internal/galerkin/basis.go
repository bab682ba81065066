// Package galerkin implements depth-varying layers whose weights are a
// linear combination of fixed basis functions of the integration depth.
//
// A Galerkin layer stores a coefficient matrix C of shape [S, P], where S is
// the basis size and P the number of weights of the equivalent static layer.
// At depth s the layer weights are φ(s) @ C, so the same block can model
// dynamics whose parameters change smoothly along the trajectory.
package galerkin

import (
	"fmt"
	"math"
)

// Basis is a finite family of scalar functions of depth.
type Basis interface {
	// Size returns the number of functions in the family.
	Size() int
	// Eval returns the value of every function at s.
	Eval(s float64) []float64
	// Name identifies the family in logs and configuration.
	Name() string
}

// Fourier is the trigonometric basis cos(k·s), sin(k·s) for frequencies
// k = 0..Harmonics-1, ordered as all cosines followed by all sines.
type Fourier struct {
	Harmonics int
}

// NewFourier returns a Fourier basis with h harmonics.
func NewFourier(h int) Fourier {
	if h <= 0 {
		panic(fmt.Sprintf("galerkin: invalid harmonic count %d", h))
	}
	return Fourier{Harmonics: h}
}

func (f Fourier) Size() int { return 2 * f.Harmonics }

func (f Fourier) Name() string { return fmt.Sprintf("fourier(%d)", f.Harmonics) }

func (f Fourier) Eval(s float64) []float64 {
	out := make([]float64, 2*f.Harmonics)
	for k := 0; k < f.Harmonics; k++ {
		sin, cos := math.Sincos(float64(k) * s)
		out[k] = cos
		out[f.Harmonics+k] = sin
	}
	return out
}

// Polynomial is the monomial basis 1, s, s², ..., s^Degree.
type Polynomial struct {
	Degree int
}

// NewPolynomial returns a monomial basis of the given degree.
func NewPolynomial(degree int) Polynomial {
	if degree < 0 {
		panic(fmt.Sprintf("galerkin: invalid degree %d", degree))
	}
	return Polynomial{Degree: degree}
}

func (p Polynomial) Size() int { return p.Degree + 1 }

func (p Polynomial) Name() string { return fmt.Sprintf("polynomial(%d)", p.Degree) }

func (p Polynomial) Eval(s float64) []float64 {
	out := make([]float64, p.Degree+1)
	v := 1.0
	for i := range out {
		out[i] = v
		v *= s
	}
	return out
}

// Chebyshev is the basis of Chebyshev polynomials of the first kind
// T_0..T_Degree, from the recurrence T_{n+1} = 2s·T_n - T_{n-1}.
type Chebyshev struct {
	Degree int
}

// NewChebyshev returns a Chebyshev basis of the given degree.
func NewChebyshev(degree int) Chebyshev {
	if degree < 0 {
		panic(fmt.Sprintf("galerkin: invalid degree %d", degree))
	}
	return Chebyshev{Degree: degree}
}

func (c Chebyshev) Size() int { return c.Degree + 1 }

func (c Chebyshev) Name() string { return fmt.Sprintf("chebyshev(%d)", c.Degree) }

func (c Chebyshev) Eval(s float64) []float64 {
	out := make([]float64, c.Degree+1)
	out[0] = 1
	if c.Degree >= 1 {
		out[1] = s
	}
	for n := 2; n <= c.Degree; n++ {
		out[n] = 2*s*out[n-1] - out[n-2]
	}
	return out
}

// ParseBasis builds a basis from its family name and order: the harmonic
// count for "fourier", the degree for "polynomial" and "chebyshev".
func ParseBasis(name string, order int) (Basis, error) {
	switch name {
	case "fourier":
		if order <= 0 {
			return nil, fmt.Errorf("galerkin: fourier needs a positive harmonic count, got %d", order)
		}
		return NewFourier(order), nil
	case "polynomial", "chebyshev":
		if order < 0 {
			return nil, fmt.Errorf("galerkin: %s needs a non-negative degree, got %d", name, order)
		}
		if name == "polynomial" {
			return NewPolynomial(order), nil
		}
		return NewChebyshev(order), nil
	default:
		return nil, fmt.Errorf("galerkin: unknown basis %q", name)
	}
}
