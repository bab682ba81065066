package nn

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// Flatten collapses every dimension after the batch dimension:
// [N, C, H, W] -> [N, C*H*W].
type Flatten[B tensor.Backend] struct{}

// NewFlatten creates a new Flatten module.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return &Flatten[B]{}
}

// Forward reshapes input to [batch, features].
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if len(input.Shape()) < 2 {
		panic(fmt.Sprintf("flatten: expected at least 2D input, got shape %v", input.Shape()))
	}
	return input.Flatten()
}

// Parameters returns nil.
func (f *Flatten[B]) Parameters() []*Parameter[B] {
	return nil
}
