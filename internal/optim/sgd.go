package optim

import (
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum and L2
// weight decay.
//
// Update rule:
//
//	g = gradient + weight_decay * param
//	velocity = momentum * velocity + g
//	param = param - lr * velocity
//
// Without momentum the velocity is g itself.
type SGD[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	momentum    float32
	weightDecay float32
	velocities  map[*nn.Parameter[B]][]float32
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR          float32 // Learning rate (default: 0.01)
	Momentum    float32 // Momentum factor (default: 0.0, range: [0, 1))
	WeightDecay float32 // L2 penalty (default: 0)
}

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &SGD[B]{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		velocities:  make(map[*nn.Parameter[B]][]float32),
	}
}

// Step performs a single optimization step. Parameters with no gradient are
// skipped.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}

		paramData := param.Tensor().Raw().AsFloat32()
		var velocity []float32
		if s.momentum != 0 {
			velocity = stateBuffer(s.velocities, param)
		}
		for i := range paramData {
			g := grad[i] + s.weightDecay*paramData[i]
			if velocity != nil {
				velocity[i] = s.momentum*velocity[i] + g
				g = velocity[i]
			}
			paramData[i] -= s.lr * g
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	zeroGrads(s.params)
}

// LR returns the current learning rate.
func (s *SGD[B]) LR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}
