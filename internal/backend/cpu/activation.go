package cpu

import (
	"math"

	"github.com/born-ml/neuralode/internal/tensor"
)

// softplusThreshold is where softplus(x) is indistinguishable from x in float32.
const softplusThreshold = 20

// ReLU applies max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("relu", x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// Tanh applies the hyperbolic tangent element-wise.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("tanh", x, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

// Softplus applies log(1 + exp(x)) element-wise.
func (cpu *CPUBackend) Softplus(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unary("softplus", x, func(v float32) float32 {
		if v > softplusThreshold {
			return v
		}
		return float32(math.Log1p(math.Exp(float64(v))))
	})
}
