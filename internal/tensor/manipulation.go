package tensor

// Cat concatenates tensors along the specified dimension.
//
// All tensors must have the same shape except along the concatenation dimension.
// Supports negative dim indexing (-1 = last dimension).
//
// Example:
//
//	a := tensor.Zeros[float32](Shape{2, 1, 28, 28}, backend)
//	b := tensor.Zeros[float32](Shape{2, 3, 28, 28}, backend)
//	c := tensor.Cat([]*Tensor[float32, B]{a, b}, 1) // Shape: [2, 4, 28, 28]
func Cat[T DType, B Backend](tensors []*Tensor[T, B], dim int) *Tensor[T, B] {
	if len(tensors) == 0 {
		panic("cat: at least one tensor required")
	}

	rawTensors := make([]*RawTensor, len(tensors))
	backend := tensors[0].backend
	for i, t := range tensors {
		rawTensors[i] = t.raw
	}
	return New[T, B](backend.Cat(rawTensors, dim), backend)
}

// Narrow returns length entries of dim starting at start, as a new tensor.
//
// Example:
//
//	x := tensor.Zeros[float32](Shape{2, 6}, backend)
//	y := x.Narrow(1, 2, 3) // Shape: [2, 3]
func (t *Tensor[T, B]) Narrow(dim, start, length int) *Tensor[T, B] {
	return New[T, B](t.backend.Narrow(t.raw, dim, start, length), t.backend)
}

// Flatten collapses every dimension after the first into one: [N, ...] → [N, prod(...)].
func (t *Tensor[T, B]) Flatten() *Tensor[T, B] {
	shape := t.Shape()
	if len(shape) < 2 {
		return t
	}
	return t.Reshape(shape[0], shape[1:].NumElements())
}
