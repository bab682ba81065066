// Package dataset reads MNIST from IDX files, preprocesses it, and serves
// shuffled mini-batches as tensors.
//
// Files are looked up under a root directory, either plain or gzip
// compressed:
//
//	root/train-images-idx3-ubyte[.gz]
//	root/train-labels-idx1-ubyte[.gz]
//	root/t10k-images-idx3-ubyte[.gz]
//	root/t10k-labels-idx1-ubyte[.gz]
package dataset

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/born-ml/neuralode/internal/parallel"
)

// NumClasses is the number of MNIST digit classes.
const NumClasses = 10

// Split selects the training or test portion of MNIST.
type Split int

const (
	Train Split = iota
	Test
)

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("Split(%d)", int(s))
	}
}

func (s Split) files() (images, labels string) {
	if s == Test {
		return "t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte"
	}
	return "train-images-idx3-ubyte", "train-labels-idx1-ubyte"
}

// Files lists the four IDX file names of MNIST.
func Files() []string {
	ti, tl := Train.files()
	vi, vl := Test.files()
	return []string{ti, tl, vi, vl}
}

// MNIST is a preprocessed split held in memory.
type MNIST struct {
	split    Split
	channels int
	height   int
	width    int
	images   []float32 // Len()*channels*height*width
	labels   []int32
}

// LoadOptions tunes Load.
type LoadOptions struct {
	// Limit keeps only the first Limit examples when positive.
	Limit int
}

// Load reads split from root and runs every image through pipeline.
func Load(root string, split Split, pipeline Pipeline, opts LoadOptions) (*MNIST, error) {
	imgName, lblName := split.files()
	raw, err := loadImages(filepath.Join(root, imgName))
	if err != nil {
		return nil, fmt.Errorf("dataset: %s images: %w", split, err)
	}
	labels, err := loadLabels(filepath.Join(root, lblName))
	if err != nil {
		return nil, fmt.Errorf("dataset: %s labels: %w", split, err)
	}
	if raw.count != len(labels) {
		return nil, fmt.Errorf("dataset: %s has %d images but %d labels", split, raw.count, len(labels))
	}

	n := raw.count
	if opts.Limit > 0 && opts.Limit < n {
		n = opts.Limit
	}
	if n == 0 {
		return nil, fmt.Errorf("dataset: %s is empty", split)
	}

	m := &MNIST{split: split, labels: make([]int32, n)}
	for i := range n {
		if labels[i] >= NumClasses {
			return nil, fmt.Errorf("dataset: %s label %d at index %d out of range", split, labels[i], i)
		}
		m.labels[i] = int32(labels[i])
	}

	// The first sample fixes the output shape for the rest.
	first, err := pipeline.Apply(grayImage(raw, 0))
	if err != nil {
		return nil, fmt.Errorf("dataset: preprocessing: %w", err)
	}
	m.channels, m.height, m.width = first.Channels, first.Height, first.Width
	size := m.exampleSize()
	m.images = make([]float32, n*size)
	copy(m.images, first.Data)

	var (
		mu       sync.Mutex
		applyErr error
	)
	parallel.ForRange(n, func(start, end int) {
		for i := max(start, 1); i < end; i++ {
			s, err := pipeline.Apply(grayImage(raw, i))
			if err == nil && len(s.Data) != size {
				err = fmt.Errorf("image %d: got %d values, want %d", i, len(s.Data), size)
			}
			if err != nil {
				mu.Lock()
				if applyErr == nil {
					applyErr = err
				}
				mu.Unlock()
				return
			}
			copy(m.images[i*size:], s.Data)
		}
	}, parallel.DefaultConfig())
	if applyErr != nil {
		return nil, fmt.Errorf("dataset: preprocessing: %w", applyErr)
	}
	return m, nil
}

func grayImage(raw *idxImages, i int) *image.Gray {
	return &image.Gray{
		Pix:    raw.image(i),
		Stride: raw.cols,
		Rect:   image.Rect(0, 0, raw.cols, raw.rows),
	}
}

func (m *MNIST) exampleSize() int {
	return m.channels * m.height * m.width
}

// Len returns the number of examples.
func (m *MNIST) Len() int { return len(m.labels) }

// Split returns which split the data came from.
func (m *MNIST) Split() Split { return m.split }

// Shape returns the per-example [C, H, W] shape.
func (m *MNIST) Shape() (c, h, w int) { return m.channels, m.height, m.width }

// Example returns the pixels and label of example i. The slice aliases
// internal storage.
func (m *MNIST) Example(i int) ([]float32, int32) {
	size := m.exampleSize()
	return m.images[i*size : (i+1)*size], m.labels[i]
}
