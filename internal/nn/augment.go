package nn

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// Augmenter increases the channel count of its input by concatenating extra
// channels along dim 1. With a nil fn the extra channels are zeros; otherwise
// they are fn(x), which must produce exactly dims channels.
//
// Augmenting before a depth-invariant ODE block lets trajectories cross in
// the original channels while staying unique in the augmented space.
//
// Example:
//
//	aug := nn.NewAugmenter[Backend](31, nil)                               // zero channels
//	aug := nn.NewAugmenter(31, nn.NewConv2D(1, 31, 3, 3, 1, 1, true, backend)) // learned
//	out := aug.Forward(x) // [N, 1, 28, 28] -> [N, 32, 28, 28]
type Augmenter[B tensor.Backend] struct {
	dims int
	fn   Module[B]
}

// NewAugmenter creates an Augmenter adding dims channels.
func NewAugmenter[B tensor.Backend](dims int, fn Module[B]) *Augmenter[B] {
	if dims < 0 {
		panic(fmt.Sprintf("augmenter: invalid dims %d", dims))
	}
	return &Augmenter[B]{dims: dims, fn: fn}
}

// Forward concatenates the augmented channels after the input channels.
func (a *Augmenter[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("augmenter: expected at least 2D input, got shape %v", shape))
	}
	if a.dims == 0 {
		return input
	}

	var extra *tensor.Tensor[float32, B]
	if a.fn == nil {
		zshape := shape.Clone()
		zshape[1] = a.dims
		extra = tensor.Zeros[float32](zshape, input.Backend())
	} else {
		extra = a.fn.Forward(input)
		if got := extra.Shape(); len(got) != len(shape) || got[1] != a.dims {
			panic(fmt.Sprintf("augmenter: fn produced shape %v, want %d channels", got, a.dims))
		}
	}
	return tensor.Cat([]*tensor.Tensor[float32, B]{input, extra}, 1)
}

// Parameters returns the parameters of fn, if any.
func (a *Augmenter[B]) Parameters() []*Parameter[B] {
	if a.fn == nil {
		return nil
	}
	return a.fn.Parameters()
}

// Dims returns the number of added channels.
func (a *Augmenter[B]) Dims() int {
	return a.dims
}

// String returns a string representation of the layer.
func (a *Augmenter[B]) String() string {
	if a.fn == nil {
		return fmt.Sprintf("Augmenter(dims=%d, zeros)", a.dims)
	}
	return fmt.Sprintf("Augmenter(dims=%d, fn=%s)", a.dims, describe(a.fn))
}

// DepthCat appends one channel holding the current integration depth.
// The owning ODE block updates the depth through SetDepth before each
// evaluation.
type DepthCat[B tensor.Backend] struct {
	depth float64
}

// NewDepthCat creates a DepthCat starting at depth 0.
func NewDepthCat[B tensor.Backend]() *DepthCat[B] {
	return &DepthCat[B]{}
}

// SetDepth records the depth for the next Forward.
func (d *DepthCat[B]) SetDepth(s float64) {
	d.depth = s
}

// Depth returns the last depth set.
func (d *DepthCat[B]) Depth() float64 {
	return d.depth
}

// Forward concatenates a constant depth channel along dim 1.
func (d *DepthCat[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("depthcat: expected at least 2D input, got shape %v", shape))
	}
	cshape := shape.Clone()
	cshape[1] = 1
	channel := tensor.Full(cshape, float32(d.depth), input.Backend())
	return tensor.Cat([]*tensor.Tensor[float32, B]{input, channel}, 1)
}

// Parameters returns nil.
func (d *DepthCat[B]) Parameters() []*Parameter[B] {
	return nil
}

// DataControl appends a fixed side input (the initial state of the ODE
// block) to the current state along dim 1, so the vector field is
// conditioned on the data it started from.
type DataControl[B tensor.Backend] struct {
	control *tensor.Tensor[float32, B]
}

// NewDataControl creates a DataControl without a control; SetControl must
// be called before Forward.
func NewDataControl[B tensor.Backend]() *DataControl[B] {
	return &DataControl[B]{}
}

// SetControl records the side input.
func (d *DataControl[B]) SetControl(control *tensor.Tensor[float32, B]) {
	d.control = control
}

// Forward concatenates [input, control] along dim 1.
func (d *DataControl[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if d.control == nil {
		panic("datacontrol: control not set")
	}
	xs, cs := input.Shape(), d.control.Shape()
	if len(xs) != len(cs) || xs[0] != cs[0] {
		panic(fmt.Sprintf("datacontrol: control shape %v incompatible with input %v", cs, xs))
	}
	for i := 2; i < len(xs); i++ {
		if xs[i] != cs[i] {
			panic(fmt.Sprintf("datacontrol: control shape %v incompatible with input %v", cs, xs))
		}
	}
	return tensor.Cat([]*tensor.Tensor[float32, B]{input, d.control}, 1)
}

// Parameters returns nil.
func (d *DataControl[B]) Parameters() []*Parameter[B] {
	return nil
}
