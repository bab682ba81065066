package dataset

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"
)

// Sample is an image moving through a Pipeline. It starts as a grayscale
// image; ToTensor replaces it with channel-major float data.
type Sample struct {
	Gray *image.Gray

	// Set by ToTensor: Data holds Channels*Height*Width values.
	Data     []float32
	Channels int
	Height   int
	Width    int
}

// Transform is one preprocessing step.
type Transform interface {
	Apply(s *Sample) error
	String() string
}

// Pipeline applies its transforms in order. It must contain a ToTensor.
type Pipeline []Transform

// DefaultPipeline resizes to size x size and converts to a [0, 1] tensor.
func DefaultPipeline(size int) Pipeline {
	return Pipeline{Resize(size), ToTensor()}
}

// Apply runs the pipeline on img.
func (p Pipeline) Apply(img *image.Gray) (Sample, error) {
	s := Sample{Gray: img}
	for _, t := range p {
		if err := t.Apply(&s); err != nil {
			return Sample{}, fmt.Errorf("%s: %w", t, err)
		}
	}
	if s.Data == nil {
		return Sample{}, errors.New("pipeline produced no tensor (missing ToTensor)")
	}
	return s, nil
}

// OutputSize returns the spatial size the pipeline produces from inputs of
// size in, following the last Resize.
func (p Pipeline) OutputSize(in int) int {
	for _, t := range p {
		if r, ok := t.(resize); ok {
			in = int(r)
		}
	}
	return in
}

func (p Pipeline) String() string {
	names := make([]string, len(p))
	for i, t := range p {
		names[i] = t.String()
	}
	return strings.Join(names, " -> ")
}

type resize int

// Resize scales the image to size x size with bilinear interpolation.
func Resize(size int) Transform {
	return resize(size)
}

func (r resize) Apply(s *Sample) error {
	if r <= 0 {
		return fmt.Errorf("invalid size %d", int(r))
	}
	if s.Gray == nil {
		return errors.New("resize must come before ToTensor")
	}
	b := s.Gray.Bounds()
	if b.Dx() == int(r) && b.Dy() == int(r) {
		return nil
	}
	dst := image.NewGray(image.Rect(0, 0, int(r), int(r)))
	draw.BiLinear.Scale(dst, dst.Bounds(), s.Gray, b, draw.Src, nil)
	s.Gray = dst
	return nil
}

func (r resize) String() string { return fmt.Sprintf("Resize(%d)", int(r)) }

type toTensor struct{}

// ToTensor maps 8-bit pixels to float32 in [0, 1] with shape [1, H, W].
func ToTensor() Transform {
	return toTensor{}
}

func (toTensor) Apply(s *Sample) error {
	if s.Gray == nil {
		return errors.New("no image to convert")
	}
	b := s.Gray.Bounds()
	h, w := b.Dy(), b.Dx()
	data := make([]float32, h*w)
	for y := 0; y < h; y++ {
		row := s.Gray.Pix[(y)*s.Gray.Stride : y*s.Gray.Stride+w]
		for x, v := range row {
			data[y*w+x] = float32(v) / 255
		}
	}
	*s = Sample{Data: data, Channels: 1, Height: h, Width: w}
	return nil
}

func (toTensor) String() string { return "ToTensor()" }

type normalize struct {
	mean, std float32
}

// Normalize maps x to (x - mean) / std. It must follow ToTensor.
func Normalize(mean, std float32) Transform {
	return normalize{mean: mean, std: std}
}

func (n normalize) Apply(s *Sample) error {
	if s.Data == nil {
		return errors.New("normalize must follow ToTensor")
	}
	if n.std <= 0 {
		return fmt.Errorf("invalid std %g", n.std)
	}
	for i, v := range s.Data {
		s.Data[i] = (v - n.mean) / n.std
	}
	return nil
}

func (n normalize) String() string { return fmt.Sprintf("Normalize(%g, %g)", n.mean, n.std) }

// MNIST channel statistics of the training split.
const (
	MNISTMean = 0.1307
	MNISTStd  = 0.3081
)
