// Package model assembles the MNIST classifiers: an optional channel
// augmentation, a continuous-depth block, and a small convolutional head
// producing class logits.
//
//	x [N, 1, 28, 28]
//	  → Augmenter            [N, 1+A, 28, 28]
//	  → NeuralODE(field)     [N, 1+A, 28, 28]
//	  → Conv2D 3x3 → ReLU    [N, H, 28, 28]
//	  → MaxPool2D 2x2        [N, H, 14, 14]
//	  → Flatten → Linear     [N, 10]
package model

import (
	"errors"
	"fmt"

	"github.com/born-ml/neuralode/internal/galerkin"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/ode"
	"github.com/born-ml/neuralode/internal/tensor"
)

// Model kinds.
const (
	KindDepthInvariant = "depth-invariant"
	KindGalerkin       = "galerkin"
)

// ErrUnknownKind is returned by New for unregistered model kinds.
var ErrUnknownKind = errors.New("model: unknown kind")

// Options describes a classifier.
type Options struct {
	Kind       string `yaml:"kind"`
	InChannels int    `yaml:"in_channels"`
	ImageSize  int    `yaml:"image_size"`
	NumClasses int    `yaml:"num_classes"`

	// AugmentDims extra channels are concatenated before the block.
	// AugmentLearned produces them with a 3x3 convolution instead of zeros.
	AugmentDims    int  `yaml:"augment_dims"`
	AugmentLearned bool `yaml:"augment_learned"`

	// HiddenChannels is the width of the vector field and Activation its
	// nonlinearity (relu, tanh or softplus).
	HiddenChannels int    `yaml:"hidden_channels"`
	Activation     string `yaml:"activation"`
	// Basis and Harmonics select the Galerkin expansion (galerkin kind only).
	Basis     string `yaml:"basis"`
	Harmonics int    `yaml:"harmonics"`

	HeadChannels int `yaml:"head_channels"`

	ODE ode.Config `yaml:"ode"`
}

// DefaultOptions returns the depth-invariant MNIST classifier.
func DefaultOptions() Options {
	return Options{
		Kind:           KindDepthInvariant,
		InChannels:     1,
		ImageSize:      28,
		NumClasses:     10,
		AugmentDims:    5,
		HiddenChannels: 16,
		Activation:     "tanh",
		Basis:          "fourier",
		Harmonics:      5,
		HeadChannels:   4,
		ODE:            ode.DefaultConfig(),
	}
}

// StateChannels returns the channel count inside the continuous-depth block.
func (o Options) StateChannels() int {
	return o.InChannels + o.AugmentDims
}

// Validate checks the options that do not depend on the kind.
func (o Options) Validate() error {
	switch {
	case o.InChannels <= 0:
		return fmt.Errorf("model: in_channels must be positive, got %d", o.InChannels)
	case o.ImageSize < 2 || o.ImageSize%2 != 0:
		return fmt.Errorf("model: image_size must be even and at least 2, got %d", o.ImageSize)
	case o.NumClasses < 2:
		return fmt.Errorf("model: num_classes must be at least 2, got %d", o.NumClasses)
	case o.AugmentDims < 0:
		return fmt.Errorf("model: augment_dims must be non-negative, got %d", o.AugmentDims)
	case o.HiddenChannels <= 0:
		return fmt.Errorf("model: hidden_channels must be positive, got %d", o.HiddenChannels)
	case !nn.IsActivation(o.Activation):
		return fmt.Errorf("model: unknown activation %q (want one of %v)", o.Activation, nn.ActivationNames)
	case o.HeadChannels <= 0:
		return fmt.Errorf("model: head_channels must be positive, got %d", o.HeadChannels)
	}
	return nil
}

// Classifier maps [N, C, S, S] images to [N, NumClasses] logits.
type Classifier[B tensor.Backend] struct {
	opts  Options
	block *ode.NeuralODE[B]
	seq   *nn.Sequential[B]
}

var _ nn.Module[tensor.Backend] = (*Classifier[tensor.Backend])(nil)

// New builds the classifier selected by opts.Kind.
func New[B tensor.Backend](backend B, opts Options) (*Classifier[B], error) {
	switch opts.Kind {
	case KindDepthInvariant:
		return NewDepthInvariant(backend, opts)
	case KindGalerkin:
		return NewGalerkin(backend, opts)
	default:
		return nil, fmt.Errorf("%w %q (want %s or %s)", ErrUnknownKind, opts.Kind, KindDepthInvariant, KindGalerkin)
	}
}

// NewDepthInvariant builds a classifier whose vector field ignores depth:
// f(s, z) = Conv(act(Conv(z))).
func NewDepthInvariant[B tensor.Backend](backend B, opts Options) (*Classifier[B], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Kind = KindDepthInvariant
	c, h := opts.StateChannels(), opts.HiddenChannels
	act, _ := nn.Activation[B](opts.Activation)

	field := nn.NewSequential[B](
		nn.NewConv2D(c, h, 3, 3, 1, 1, true, backend),
		act,
		nn.NewConv2D(h, c, 3, 3, 1, 1, true, backend),
	)
	return assemble(backend, opts, field)
}

// NewGalerkin builds a data-controlled classifier whose convolution weights
// vary with depth through a basis expansion:
// f(s, z) = GalConv(act(GalConv([z, x0, s]))).
func NewGalerkin[B tensor.Backend](backend B, opts Options) (*Classifier[B], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	basis, err := galerkin.ParseBasis(opts.Basis, opts.Harmonics)
	if err != nil {
		return nil, err
	}
	opts.Kind = KindGalerkin
	c, h := opts.StateChannels(), opts.HiddenChannels
	act, _ := nn.Activation[B](opts.Activation)

	field := nn.NewSequential[B](
		nn.NewDataControl[B](),
		nn.NewDepthCat[B](),
		galerkin.NewGalConv2D(2*c+1, h, 3, 1, basis, backend),
		act,
		galerkin.NewGalConv2D(h, c, 3, 1, basis, backend),
	)
	return assemble(backend, opts, field)
}

func assemble[B tensor.Backend](backend B, opts Options, field nn.Module[B]) (*Classifier[B], error) {
	block, err := ode.New(field, opts.ODE)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}

	var augFn nn.Module[B]
	if opts.AugmentLearned && opts.AugmentDims > 0 {
		augFn = nn.NewConv2D(opts.InChannels, opts.AugmentDims, 3, 3, 1, 1, true, backend)
	}

	c, hc := opts.StateChannels(), opts.HeadChannels
	pooled := opts.ImageSize / 2

	seq := nn.NewSequential[B](
		nn.NewAugmenter(opts.AugmentDims, augFn),
		block,
		nn.NewConv2D(c, hc, 3, 3, 1, 1, true, backend),
		nn.NewReLU[B](),
		nn.NewMaxPool2D(2, 2, backend),
		nn.NewFlatten[B](),
		nn.NewLinear(hc*pooled*pooled, opts.NumClasses, backend),
	)

	opts.ODE = block.Config()
	return &Classifier[B]{opts: opts, block: block, seq: seq}, nil
}

// Forward maps images to logits.
func (m *Classifier[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	s := input.Shape()
	if len(s) != 4 || s[1] != m.opts.InChannels || s[2] != m.opts.ImageSize || s[3] != m.opts.ImageSize {
		panic(fmt.Sprintf("model: expected input [N, %d, %d, %d], got %v",
			m.opts.InChannels, m.opts.ImageSize, m.opts.ImageSize, s))
	}
	return m.seq.Forward(input)
}

// Parameters returns every trainable parameter in layer order.
func (m *Classifier[B]) Parameters() []*nn.Parameter[B] {
	return m.seq.Parameters()
}

// Block returns the continuous-depth block, the owner of the NFE counter.
func (m *Classifier[B]) Block() *ode.NeuralODE[B] {
	return m.block
}

// Options returns the options the classifier was built with.
func (m *Classifier[B]) Options() Options {
	return m.opts
}

// String returns a layer listing.
func (m *Classifier[B]) String() string {
	return fmt.Sprintf("Classifier(kind=%s)\n%s", m.opts.Kind, m.seq)
}
