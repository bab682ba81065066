package ode

// tableau is the Butcher tableau of an explicit Runge-Kutta method.
//
// Stage i evaluates f(t + c[i]·h, y + h·Σ_j a[i][j]·k_j) and the step
// returns y + h·Σ_j b[j]·k_j. Adaptive methods also carry errW, the
// difference between the propagated and the embedded weights; when fsal is
// set, errW has one extra entry for f evaluated at the new state, which is
// reused as the first stage of the next step.
type tableau struct {
	c    []float64
	a    [][]float64
	b    []float64
	errW []float64
	fsal bool
	// order of the error estimate, used by the step-size controller.
	order int
}

func (t *tableau) adaptive() bool { return t.errW != nil }

var tableaus = map[string]*tableau{
	Euler: {
		c:     []float64{0},
		a:     [][]float64{nil},
		b:     []float64{1},
		order: 1,
	},
	Midpoint: {
		c:     []float64{0, 0.5},
		a:     [][]float64{nil, {0.5}},
		b:     []float64{0, 1},
		order: 2,
	},
	RK4: {
		c:     []float64{0, 0.5, 0.5, 1},
		a:     [][]float64{nil, {0.5}, {0, 0.5}, {0, 0, 1}},
		b:     []float64{1.0 / 6, 1.0 / 3, 1.0 / 3, 1.0 / 6},
		order: 4,
	},
	// Dormand-Prince 5(4).
	Dopri5: {
		c: []float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1},
		a: [][]float64{
			nil,
			{1.0 / 5},
			{3.0 / 40, 9.0 / 40},
			{44.0 / 45, -56.0 / 15, 32.0 / 9},
			{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
			{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		},
		b: []float64{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
		errW: []float64{
			71.0 / 57600, 0, -71.0 / 16695, 71.0 / 1920, -17253.0 / 339200, 22.0 / 525, -1.0 / 40,
		},
		fsal:  true,
		order: 5,
	},
}
