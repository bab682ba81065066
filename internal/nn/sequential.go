package nn

import (
	"fmt"
	"strings"

	"github.com/born-ml/neuralode/internal/tensor"
)

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input, creating a
// sequential pipeline of transformations. Depth and control values pushed
// to a Sequential reach every child that consumes them, so a Sequential can
// serve as an ODE vector field.
//
// Example:
//
//	field := nn.NewSequential[Backend](
//	    nn.NewConv2D(32, 64, 3, 3, 1, 1, true, backend),
//	    nn.NewTanh[Backend](),
//	    nn.NewConv2D(64, 32, 3, 3, 1, 1, true, backend),
//	)
//
//	output := field.Forward(input)
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

// NewSequential creates a new Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{
		modules: modules,
	}
}

// Forward applies all modules in sequence.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input

	for _, module := range s.modules {
		output = module.Forward(output)
	}

	return output
}

// Parameters returns all trainable parameters from all modules, in order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]

	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}

	return params
}

// SetDepth forwards s to every child that depends on depth.
func (s *Sequential[B]) SetDepth(depth float64) {
	for _, module := range s.modules {
		SetDepth(module, depth)
	}
}

// SetControl forwards control to every child that reads a side input.
func (s *Sequential[B]) SetControl(control *tensor.Tensor[float32, B]) {
	for _, module := range s.modules {
		SetControl(module, control)
	}
}

// Add appends a module to the sequence.
func (s *Sequential[B]) Add(module Module[B]) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules in the sequence.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// Module returns the module at the given index.
//
// Panics if index is out of bounds.
func (s *Sequential[B]) Module(index int) Module[B] {
	if index < 0 || index >= len(s.modules) {
		panic(fmt.Sprintf("Sequential.Module: index %d out of bounds [0, %d)", index, len(s.modules)))
	}
	return s.modules[index]
}

// String lists the children, one per line.
func (s *Sequential[B]) String() string {
	var sb strings.Builder
	sb.WriteString("Sequential(\n")
	for i, m := range s.modules {
		fmt.Fprintf(&sb, "  (%d): %v\n", i, describe(m))
	}
	sb.WriteString(")")
	return sb.String()
}

func describe(m any) string {
	if s, ok := m.(fmt.Stringer); ok {
		return s.String()
	}
	name := fmt.Sprintf("%T", m)
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name[strings.LastIndex(name, ".")+1:] + "()"
}
