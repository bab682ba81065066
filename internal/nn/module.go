// Package nn implements the neural network modules used by the classifiers.
//
// This package provides building blocks for constructing the models:
//   - Module interface: Base interface for all NN components
//   - Parameter: Trainable parameters with gradient tracking
//   - Linear, Conv2D, MaxPool2D: Standard layers
//   - Activations: ReLU, Tanh, Softplus
//   - Flatten, Sequential: Shape and composition helpers
//   - Augmenter, DepthCat, DataControl: Channel concatenation layers for
//     continuous-depth vector fields
//   - CrossEntropyLoss, Accuracy: Classification objectives
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
package nn

import (
	"github.com/born-ml/neuralode/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Every NN module must implement:
//   - Forward: Compute output from input
//   - Parameters: Return all trainable parameters
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend](
//	    nn.NewLinear(784, 128, backend),
//	    nn.NewReLU[Backend](),
//	    nn.NewLinear(128, 10, backend),
//	)
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	//
	// Shape errors panic with a message naming the module.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module.
	//
	// Returns an empty slice for modules without trainable parameters
	// (e.g., activation functions).
	Parameters() []*Parameter[B]
}

// DepthSetter is implemented by modules whose output depends on the
// integration depth s. The ODE block calls SetDepth before every
// evaluation of its vector field.
type DepthSetter interface {
	SetDepth(s float64)
}

// ControlSetter is implemented by modules that read a fixed side input
// (the initial state of an ODE block) on every evaluation.
type ControlSetter[B tensor.Backend] interface {
	SetControl(control *tensor.Tensor[float32, B])
}

// SetDepth pushes s to m if m depends on depth. Containers forward it to
// their children.
func SetDepth[B tensor.Backend](m Module[B], s float64) {
	if d, ok := m.(DepthSetter); ok {
		d.SetDepth(s)
	}
}

// SetControl pushes control to m if m reads a side input.
func SetControl[B tensor.Backend](m Module[B], control *tensor.Tensor[float32, B]) {
	if c, ok := m.(ControlSetter[B]); ok {
		c.SetControl(control)
	}
}
