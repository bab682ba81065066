package dataset

import (
	"math/rand/v2"
)

// Synthetic generates n learnable digit-like examples of shape [1, size, size].
// Class k lights a horizontal bar at a row determined by k, over mild noise.
// The same seed gives the same data.
func Synthetic(n, size int, seed uint64) *MNIST {
	if n <= 0 || size < NumClasses {
		panic("dataset: synthetic data needs n > 0 and size >= 10")
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	m := &MNIST{
		split:    Train,
		channels: 1,
		height:   size,
		width:    size,
		images:   make([]float32, n*size*size),
		labels:   make([]int32, n),
	}
	for i := range n {
		label := int32(i % NumClasses)
		m.labels[i] = label
		img := m.images[i*size*size : (i+1)*size*size]
		for j := range img {
			img[j] = 0.1 * rng.Float32()
		}
		row := int(label) * size / NumClasses
		for x := range size {
			img[row*size+x] = 0.9 + 0.1*rng.Float32()
		}
	}
	return m
}
