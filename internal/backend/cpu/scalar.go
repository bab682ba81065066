package cpu

import "github.com/born-ml/neuralode/internal/tensor"

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return cpu.unary("mul_scalar", x, func(v float32) float32 { return v * scalar })
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return cpu.unary("add_scalar", x, func(v float32) float32 { return v + scalar })
}

func (cpu *CPUBackend) unary(name string, x *tensor.RawTensor, f func(float32) float32) *tensor.RawTensor {
	requireFloat32(name, x)
	result := cpu.alloc(name, x.Shape(), tensor.Float32)
	src, dst := x.AsFloat32(), result.AsFloat32()
	for i, v := range src {
		dst[i] = f(v)
	}
	return result
}
