package nn

import (
	"slices"

	"github.com/born-ml/neuralode/internal/tensor"
)

// ReLU is a Rectified Linear Unit activation module.
//
// Applies the element-wise function: f(x) = max(0, x)
//
// Example:
//
//	relu := nn.NewReLU[Backend]()
//	output := relu.Forward(input)  // All negative values become 0
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a new ReLU activation module.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return &ReLU[B]{}
}

// Forward applies ReLU activation: f(x) = max(0, x).
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input.ReLU()
}

// Parameters returns an empty slice (ReLU has no trainable parameters).
func (r *ReLU[B]) Parameters() []*Parameter[B] {
	return nil
}

// Tanh is a hyperbolic tangent activation module.
//
// Applies the element-wise function: tanh(x). Bounded and smooth, it is the
// default nonlinearity inside ODE vector fields.
type Tanh[B tensor.Backend] struct{}

// NewTanh creates a new Tanh activation module.
func NewTanh[B tensor.Backend]() *Tanh[B] {
	return &Tanh[B]{}
}

// Forward applies Tanh activation.
func (t *Tanh[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input.Tanh()
}

// Parameters returns an empty slice (Tanh has no trainable parameters).
func (t *Tanh[B]) Parameters() []*Parameter[B] {
	return nil
}

// Softplus applies log(1 + exp(x)) element-wise.
type Softplus[B tensor.Backend] struct{}

// NewSoftplus creates a new Softplus activation module.
func NewSoftplus[B tensor.Backend]() *Softplus[B] {
	return &Softplus[B]{}
}

// Forward applies Softplus activation.
func (s *Softplus[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input.Softplus()
}

// Parameters returns an empty slice (Softplus has no trainable parameters).
func (s *Softplus[B]) Parameters() []*Parameter[B] {
	return nil
}

// ActivationNames lists the names Activation accepts.
var ActivationNames = []string{"relu", "tanh", "softplus"}

// IsActivation reports whether name is a registered activation.
func IsActivation(name string) bool {
	return slices.Contains(ActivationNames, name)
}

// Activation returns the activation module registered under name, and false
// for unknown names.
func Activation[B tensor.Backend](name string) (Module[B], bool) {
	switch name {
	case "relu":
		return NewReLU[B](), true
	case "tanh":
		return NewTanh[B](), true
	case "softplus":
		return NewSoftplus[B](), true
	default:
		return nil, false
	}
}
