package autodiff

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// BackwardCapable is implemented by backends that record a gradient tape.
// AutodiffBackend implements it; code generic over tensor.Backend detects it
// with a type assertion.
type BackwardCapable interface {
	tensor.Backend
	// Tape returns the tape operations are currently recorded on.
	Tape() *GradientTape
	// WithTape records onto tape while fn runs, then restores the previous tape.
	WithTape(tape *GradientTape, fn func())
	// NoGrad runs fn with recording paused on the active tape.
	NoGrad(fn func())
}

// Backward computes gradients of a scalar (or summed) tensor using the backend's tape.
//
// The output gradient is ones shaped like t.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x, _ := tensor.FromSlice([]float32{3}, tensor.Shape{1}, backend)
//	y := x.Mul(x)
//	grads := autodiff.Backward(y, backend)
//	grad := grads[x.Raw()] // 6
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	tape := backend.Tape()
	if tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}
	if t.DType() != tensor.Float32 {
		panic(fmt.Sprintf("backward: unsupported dtype %s (float32 only)", t.DType()))
	}

	outputGrad := tensor.MustNewRaw(t.Shape(), t.DType(), backend.Device())
	data := outputGrad.AsFloat32()
	for i := range data {
		data[i] = 1
	}
	return tape.BackwardFrom(t.Raw(), outputGrad, backend)
}
