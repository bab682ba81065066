// Package optim implements the optimizers and learning-rate schedule used to
// train the continuous-depth classifiers.
//
// This package provides:
//   - Optimizer interface: Step, ZeroGrad, LR and SetLR
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - Adam: Adaptive Moment Estimation with coupled (L2) or decoupled (AdamW) weight decay
//   - ReduceLROnPlateau: multiplicative LR decay when a monitored metric stalls
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{
//	    LR:          1e-3,
//	    WeightDecay: 5e-4,
//	})
//	scheduler := optim.NewReduceLROnPlateau(optimizer, optim.DefaultPlateauConfig())
//
//	backend.Tape().StartRecording()
//	loss := nn.CrossEntropyLoss(model.Forward(images), labels)
//	grads := autodiff.Backward(loss, backend)
//	optimizer.Step(grads)
//	optimizer.ZeroGrad()
//	scheduler.Step(float64(loss.Item()))
package optim

import (
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// Optimizer updates model parameters from the gradients of a backward pass.
type Optimizer interface {
	// Step applies one update. grads maps parameter RawTensors to their
	// gradients, as returned by autodiff.Backward. Parameters without an
	// entry are left unchanged.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears the gradients stored on every parameter.
	ZeroGrad()

	// LR returns the current learning rate.
	LR() float32

	// SetLR replaces the learning rate. Schedulers use it.
	SetLR(lr float32)
}

// getGradient returns the gradient of param, or nil when it took no part in
// the forward pass.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) []float32 {
	if param == nil {
		return nil
	}
	g, ok := grads[param.Tensor().Raw()]
	if !ok || g == nil {
		return nil
	}
	return g.AsFloat32()
}

// stateBuffer returns the per-parameter buffer for param from m, creating a
// zeroed one on first use.
func stateBuffer[B tensor.Backend](m map[*nn.Parameter[B]][]float32, param *nn.Parameter[B]) []float32 {
	buf, ok := m[param]
	if !ok {
		buf = make([]float32, param.NumElements())
		m[param] = buf
	}
	return buf
}

func zeroGrads[B tensor.Backend](params []*nn.Parameter[B]) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
