package optim

import (
	"math"

	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * g
//	v_t = beta2 * v_{t-1} + (1-beta2) * g²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Weight decay is applied in one of two ways. Coupled decay (the default)
// adds weight_decay * param to g before the moments are updated, which is
// L2 regularisation. Decoupled decay (AdamW) shrinks the parameter directly:
//
//	param = param - lr * weight_decay * param
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014),
// "Decoupled Weight Decay Regularization" (Loshchilov & Hutter, 2019).
type Adam[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	beta1       float32
	beta2       float32
	eps         float32
	weightDecay float32
	decoupled   bool
	t           int                           // Timestep for bias correction
	m           map[*nn.Parameter[B]][]float32 // First moment estimates
	v           map[*nn.Parameter[B]][]float32 // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR          float32    // Learning rate (default: 0.001)
	Betas       [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps         float32    // Term for numerical stability (default: 1e-8)
	WeightDecay float32    // Weight decay factor (default: 0)
	Decoupled   bool       // Use AdamW-style decoupled decay
}

// NewAdam creates a new Adam optimizer. Zero-valued fields of config take
// their defaults.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig) *Adam[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam[B]{
		params:      params,
		lr:          config.LR,
		beta1:       config.Betas[0],
		beta2:       config.Betas[1],
		eps:         config.Eps,
		weightDecay: config.WeightDecay,
		decoupled:   config.Decoupled,
		m:           make(map[*nn.Parameter[B]][]float32),
		v:           make(map[*nn.Parameter[B]][]float32),
	}
}

// Step performs a single optimization step. Parameters with no gradient are
// skipped and their moments are left untouched.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		a.updateParameter(param, grad, stateBuffer(a.m, param), stateBuffer(a.v, param),
			biasCorrection1, biasCorrection2)
	}
}

func (a *Adam[B]) updateParameter(
	param *nn.Parameter[B],
	grad, m, v []float32,
	biasCorrection1, biasCorrection2 float32,
) {
	paramData := param.Tensor().Raw().AsFloat32()

	for i := range paramData {
		g := grad[i]
		if a.weightDecay != 0 {
			if a.decoupled {
				paramData[i] -= a.lr * a.weightDecay * paramData[i]
			} else {
				g += a.weightDecay * paramData[i]
			}
		}

		m[i] = a.beta1*m[i] + (1.0-a.beta1)*g
		v[i] = a.beta2*v[i] + (1.0-a.beta2)*g*g

		mHat := m[i] / biasCorrection1
		vHat := v[i] / biasCorrection2

		paramData[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	zeroGrads(a.params)
}

// LR returns the current learning rate.
func (a *Adam[B]) LR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// Timestep returns the number of steps taken.
func (a *Adam[B]) Timestep() int {
	return a.t
}
