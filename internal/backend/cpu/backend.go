// Package cpu implements the float32 CPU backend.
package cpu

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/parallel"
	"github.com/born-ml/neuralode/internal/tensor"
)

// CPUBackend implements tensor.Backend on the host CPU.
// Heavy kernels (matmul, conv2d) are split across goroutines with internal/parallel.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

var _ tensor.Backend = (*CPUBackend)(nil)

// New creates a new CPU backend using all available cores.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

func (cpu *CPUBackend) binary(name string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	requireFloat32(name, a, b)

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result := cpu.alloc(name, outShape, tensor.Float32)
	dst, aData, bData := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()

	if !needsBroadcast {
		for i := range dst {
			dst[i] = f(aData[i], bData[i])
		}
		return result
	}

	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	for i := range dst {
		dst[i] = f(aData[flatIndex(i, outStrides, aStrides)], bData[flatIndex(i, outStrides, bStrides)])
	}
	return result
}

// Reshape returns a copy of t with a new shape.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		panic(fmt.Sprintf("reshape: invalid shape: %v", err))
	}
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("reshape: incompatible shapes: %v -> %v (different number of elements)",
			t.Shape(), newShape))
	}

	result := cpu.alloc("reshape", newShape, t.DType())
	copy(result.Data(), t.Data())
	return result
}

// Transpose permutes the tensor's dimensions. With no axes, all dimensions are reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	requireFloat32("transpose", t)
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes length %d != ndim %d", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		if ax < 0 || ax >= ndim {
			panic(fmt.Sprintf("transpose: invalid axis %d for %dD tensor", ax, ndim))
		}
		if seen[ax] {
			panic(fmt.Sprintf("transpose: duplicate axis %d", ax))
		}
		seen[ax] = true
		newShape[i] = shape[ax]
	}

	result := cpu.alloc("transpose", newShape, tensor.Float32)
	src, dst := t.AsFloat32(), result.AsFloat32()

	srcStrides := shape.ComputeStrides()
	permuted := make([]int, ndim)
	for i, ax := range axes {
		permuted[i] = srcStrides[ax]
	}
	outStrides := newShape.ComputeStrides()
	for i := range dst {
		dst[i] = src[flatIndex(i, outStrides, permuted)]
	}
	return result
}

func (cpu *CPUBackend) alloc(op string, shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	result, err := tensor.NewRaw(shape, dtype, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return result
}

func requireFloat32(op string, ts ...*tensor.RawTensor) {
	for _, t := range ts {
		if t.DType() != tensor.Float32 {
			panic(fmt.Sprintf("%s: unsupported dtype %s (float32 only)", op, t.DType()))
		}
	}
}
