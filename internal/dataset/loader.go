package dataset

import (
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/born-ml/neuralode/internal/tensor"
)

// Batch is a mini-batch of images [N, C, H, W] and labels [N].
type Batch[B tensor.Backend] struct {
	Images *tensor.Tensor[float32, B]
	Labels *tensor.Tensor[int32, B]
	Size   int
}

// Loader yields batches from an in-memory split.
type Loader[B tensor.Backend] struct {
	data      *MNIST
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	order     []int
	backend   B
}

// NewLoader creates a loader. With shuffle set, each epoch visits the
// examples in a fresh permutation drawn from seed.
func NewLoader[B tensor.Backend](data *MNIST, batchSize int, shuffle bool, seed uint64, backend B) (*Loader[B], error) {
	if data == nil || data.Len() == 0 {
		return nil, fmt.Errorf("dataset: loader needs a non-empty dataset")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", batchSize)
	}
	order := make([]int, data.Len())
	for i := range order {
		order[i] = i
	}
	return &Loader[B]{
		data:      data,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewPCG(seed, 0x6c6f61646572)),
		order:     order,
		backend:   backend,
	}, nil
}

// Len returns the number of batches per epoch. The last one may be short.
func (l *Loader[B]) Len() int {
	return (l.data.Len() + l.batchSize - 1) / l.batchSize
}

// Examples returns the number of examples per epoch.
func (l *Loader[B]) Examples() int {
	return l.data.Len()
}

// Epoch returns an iterator over one pass of the data.
func (l *Loader[B]) Epoch() iter.Seq[Batch[B]] {
	if l.shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	order := append([]int(nil), l.order...)

	return func(yield func(Batch[B]) bool) {
		for start := 0; start < len(order); start += l.batchSize {
			end := min(start+l.batchSize, len(order))
			if !yield(l.batch(order[start:end])) {
				return
			}
		}
	}
}

func (l *Loader[B]) batch(indices []int) Batch[B] {
	c, h, w := l.data.Shape()
	n := len(indices)
	images := tensor.Zeros[float32](tensor.Shape{n, c, h, w}, l.backend)
	labels := tensor.Zeros[int32](tensor.Shape{n}, l.backend)

	imgData, lblData := images.Data(), labels.Data()
	size := c * h * w
	for i, idx := range indices {
		pixels, label := l.data.Example(idx)
		copy(imgData[i*size:], pixels)
		lblData[i] = label
	}
	return Batch[B]{Images: images, Labels: labels, Size: n}
}
