package ode

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/neuralode/internal/tensor"
)

// Step-size controller constants.
const (
	safety    = 0.9
	minFactor = 0.2
	maxFactor = 10.0
)

// state is a tuple of tensors integrated together. The forward pass uses a
// single tensor; the adjoint pass integrates (z, a, parameter gradients).
type state[B tensor.Backend] []*tensor.Tensor[float32, B]

// system is the right-hand side dy/ds = f(s, y).
type system[B tensor.Backend] func(s float64, y state[B]) (state[B], error)

// combine returns y + h·Σ_j w[j]·ks[j]. On a recording backend every term
// lands on the tape.
func (y state[B]) combine(h float64, w []float64, ks []state[B]) state[B] {
	out := make(state[B], len(y))
	for i := range y {
		acc := y[i]
		for j, c := range w {
			if c == 0 {
				continue
			}
			acc = acc.Add(ks[j][i].MulScalar(float32(h * c)))
		}
		out[i] = acc
	}
	return out
}

func (y state[B]) numElements() int {
	n := 0
	for _, t := range y {
		n += t.NumElements()
	}
	return n
}

func (y state[B]) finite() bool {
	for _, t := range y {
		for _, v := range t.Data() {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return false
			}
		}
	}
	return true
}

// integrator runs one tableau with fixed or adaptive steps.
type integrator[B tensor.Backend] struct {
	tab      *tableau
	atol     float64
	rtol     float64
	stepSize float64
	maxSteps int
}

func newIntegrator[B tensor.Backend](cfg Config) *integrator[B] {
	return &integrator[B]{
		tab:      tableaus[cfg.Solver],
		atol:     cfg.Atol,
		rtol:     cfg.Rtol,
		stepSize: cfg.StepSize,
		maxSteps: cfg.MaxSteps,
	}
}

// adaptiveState carries the step size and the reusable first stage across
// span intervals of one integration.
type adaptiveState[B tensor.Backend] struct {
	h     float64
	k0    state[B]
	steps int
}

// integrate solves from times[0] to every later entry, returning one state
// per entry (the first is y0). times must be monotonic in either direction.
func (in *integrator[B]) integrate(f system[B], y0 state[B], times []float64) ([]state[B], error) {
	out := make([]state[B], 1, len(times))
	out[0] = y0

	y := y0
	st := &adaptiveState[B]{}
	for i := 1; i < len(times); i++ {
		var err error
		if in.tab.adaptive() {
			y, err = in.adaptive(f, y, times[i-1], times[i], st)
		} else {
			y, err = in.fixed(f, y, times[i-1], times[i], &st.steps)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return out, nil
}

// step advances y by h from t. k0, when non-nil, is f(t, y) from a previous
// evaluation. It returns the new state and every stage evaluated; for FSAL
// tableaus the last stage is f(t+h, yNew).
func (in *integrator[B]) step(f system[B], t float64, y state[B], h float64, k0 state[B]) (state[B], []state[B], error) {
	tab := in.tab
	ks := make([]state[B], len(tab.c), len(tab.c)+1)
	for i, ci := range tab.c {
		if i == 0 && k0 != nil {
			ks[0] = k0
			continue
		}
		yi := y
		if i > 0 {
			yi = y.combine(h, tab.a[i], ks[:i])
		}
		k, err := f(t+ci*h, yi)
		if err != nil {
			return nil, nil, err
		}
		ks[i] = k
	}

	yNew := y.combine(h, tab.b, ks)
	if tab.fsal {
		k, err := f(t+h, yNew)
		if err != nil {
			return nil, nil, err
		}
		ks = append(ks, k)
	}
	return yNew, ks, nil
}

func (in *integrator[B]) fixed(f system[B], y state[B], t0, t1 float64, steps *int) (state[B], error) {
	n := 1
	if in.stepSize > 0 {
		n = max(1, int(math.Ceil(math.Abs(t1-t0)/in.stepSize-1e-9)))
	}
	h := (t1 - t0) / float64(n)

	for i := 0; i < n; i++ {
		if in.maxSteps > 0 && *steps >= in.maxSteps {
			return nil, fmt.Errorf("%w: %d steps before depth %g", ErrMaxSteps, *steps, t1)
		}
		*steps++

		t := t0 + float64(i)*h
		next, _, err := in.step(f, t, y, h, nil)
		if err != nil {
			return nil, err
		}
		if !next.finite() {
			return nil, fmt.Errorf("%w: state at depth %g", ErrNonFinite, t+h)
		}
		y = next
	}
	return y, nil
}

func (in *integrator[B]) adaptive(f system[B], y state[B], t0, t1 float64, st *adaptiveState[B]) (state[B], error) {
	dir := math.Copysign(1, t1-t0)
	if st.k0 == nil {
		k, err := f(t0, y)
		if err != nil {
			return nil, err
		}
		st.k0 = k
	}
	if st.h == 0 {
		st.h = in.initialStep(y, st.k0, math.Abs(t1-t0))
	}

	t := t0
	tiny := 1e-10 * math.Max(1, math.Abs(t1))
	for math.Abs(t1-t) > tiny {
		if in.maxSteps > 0 && st.steps >= in.maxSteps {
			return nil, fmt.Errorf("%w: %d steps, stuck at depth %g with step %g", ErrMaxSteps, st.steps, t, st.h)
		}
		st.steps++

		rem := math.Abs(t1 - t)
		last := st.h >= rem
		h := dir * math.Min(st.h, rem)

		yNew, ks, err := in.step(f, t, y, h, st.k0)
		if err != nil {
			return nil, err
		}
		ratio := in.errorRatio(h, ks, y, yNew)
		if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
			return nil, fmt.Errorf("%w: error estimate at depth %g", ErrNonFinite, t)
		}

		factor := maxFactor
		if ratio > 0 {
			factor = math.Min(maxFactor, math.Max(minFactor, safety*math.Pow(ratio, -1/float64(in.tab.order))))
		}
		proposed := math.Abs(h) * factor
		if ratio <= 1 {
			if last {
				// Landing on a span point must not shrink the next step.
				proposed = math.Max(proposed, st.h)
				t = t1
			} else {
				t += h
			}
			y = yNew
			st.k0 = nil
			if in.tab.fsal {
				st.k0 = ks[len(ks)-1]
			}
		}
		st.h = proposed
	}
	return y, nil
}

// errorRatio is the RMS over all elements of the local error estimate
// divided by atol + rtol·max(|y|, |yNew|). Steps with a ratio ≤ 1 are
// accepted.
func (in *integrator[B]) errorRatio(h float64, ks []state[B], y, yNew state[B]) float64 {
	ratios := make([]float64, 0, y.numElements())
	for i := range y {
		y0, y1 := y[i].Data(), yNew[i].Data()
		stages := make([][]float32, len(ks))
		for j := range ks {
			stages[j] = ks[j][i].Data()
		}
		for e := range y0 {
			var est float64
			for j, w := range in.tab.errW {
				if w != 0 {
					est += w * float64(stages[j][e])
				}
			}
			scale := in.atol + in.rtol*math.Max(math.Abs(float64(y0[e])), math.Abs(float64(y1[e])))
			ratios = append(ratios, h*est/scale)
		}
	}
	return rms(ratios)
}

// initialStep picks a first step from the scaled norms of y and f(t0, y),
// bounded by the length of the first interval.
func (in *integrator[B]) initialStep(y, f0 state[B], length float64) float64 {
	n := y.numElements()
	sy := make([]float64, 0, n)
	sf := make([]float64, 0, n)
	for i := range y {
		yd, fd := y[i].Data(), f0[i].Data()
		for e := range yd {
			scale := in.atol + in.rtol*math.Abs(float64(yd[e]))
			sy = append(sy, float64(yd[e])/scale)
			sf = append(sf, float64(fd[e])/scale)
		}
	}
	d0, d1 := rms(sy), rms(sf)

	h := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h = 0.01 * d0 / d1
	}
	return math.Min(h, length)
}

func rms(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2) / math.Sqrt(float64(len(v)))
}
