package nn

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/born-ml/neuralode/internal/tensor"
)

var (
	rngMu sync.Mutex
	//nolint:gosec // Weight initialization is not security-critical.
	rng = rand.New(rand.NewPCG(0x5eed, 0x0de))
)

// Seed reseeds the generator used for weight initialization so that models
// built afterwards are reproducible.
func Seed(seed uint64) {
	rngMu.Lock()
	defer rngMu.Unlock()
	//nolint:gosec // Weight initialization is not security-critical.
	rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// This initialization helps maintain variance of activations across layers.
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return Uniform(shape, bound, backend)
}

// KaimingUniform draws from U(-1/sqrt(fan_in), 1/sqrt(fan_in)), the default
// bias initialization of convolution and dense layers.
func KaimingUniform[B tensor.Backend](fanIn int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return Uniform(shape, 1/math.Sqrt(float64(fanIn)), backend)
}

// Uniform draws from U(-bound, bound) using the package generator.
func Uniform[B tensor.Backend](shape tensor.Shape, bound float64, backend B) *tensor.Tensor[float32, B] {
	rngMu.Lock()
	defer rngMu.Unlock()
	return tensor.Uniform[float32](shape, -bound, bound, rng, backend)
}

// Zeros creates a tensor filled with zeros.
//
// This is commonly used for bias initialization.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}
