// Package model holds the digit classifier network and the trainer that
// drives it on a Born backend.
package model

import (
	"fmt"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"

	"github.com/born-ml/digits/internal/batch"
)

// kernel is the square convolution kernel size used by every conv layer.
const kernel = 3

// CNN is the digit classifier:
//
//	Input:   [batch, 1, H, W]
//	Conv1:   1 -> 16, 3x3, ReLU
//	Conv2:   16 -> 32, 3x3, ReLU
//	MaxPool: 2x2
//	Conv3:   32 -> 32, 3x3, ReLU
//	MaxPool: 2x2
//	Conv4:   32 -> k, 3x3, ReLU
//	Flatten
//	Dropout
//	Dense:   -> k class scores
//
// Forward returns logits; probabilities are produced by Trainer.Predict.
type CNN[B tensor.Backend] struct {
	conv1   *nn.Conv2D[B]
	conv2   *nn.Conv2D[B]
	pool1   *nn.MaxPool2D[B]
	conv3   *nn.Conv2D[B]
	pool2   *nn.MaxPool2D[B]
	conv4   *nn.Conv2D[B]
	relu    *nn.ReLU[B]
	dropout *Dropout[B]
	dense   *nn.Linear[B]

	height, width, numClasses int
	features                  int // Flattened size entering the dense layer.
}

// convOut returns the side length after a valid 3x3 conv.
func convOut(n int) int { return n - kernel + 1 }

// poolOut returns the side length after a 2x2, stride 2 max pool.
func poolOut(n int) int { return n / 2 }

// featureSide runs a side length through the conv/pool stack.
func featureSide(n int) int {
	return convOut(poolOut(convOut(poolOut(convOut(convOut(n))))))
}

// NewCNN builds the network for height x width single-channel images and
// numClasses outputs. Images too small for the stack are rejected with
// batch.ErrShapeMismatch.
func NewCNN[B tensor.Backend](height, width, numClasses int, dropoutRate float32, seed uint64, backend B) (*CNN[B], error) {
	if numClasses < 1 {
		return nil, errors.Wrapf(batch.ErrShapeMismatch, "number of classes must be positive, got %d", numClasses)
	}
	fh, fw := featureSide(height), featureSide(width)
	if fh < 1 || fw < 1 {
		return nil, errors.Wrapf(batch.ErrShapeMismatch, "image %dx%d is too small for the network", height, width)
	}
	dropout, err := NewDropout[B](dropoutRate, seed)
	if err != nil {
		return nil, err
	}
	features := numClasses * fh * fw
	return &CNN[B]{
		conv1:      nn.NewConv2D(1, 16, kernel, kernel, 1, 0, true, backend),
		conv2:      nn.NewConv2D(16, 32, kernel, kernel, 1, 0, true, backend),
		pool1:      nn.NewMaxPool2D(2, 2, backend),
		conv3:      nn.NewConv2D(32, 32, kernel, kernel, 1, 0, true, backend),
		pool2:      nn.NewMaxPool2D(2, 2, backend),
		conv4:      nn.NewConv2D(32, numClasses, kernel, kernel, 1, 0, true, backend),
		relu:       nn.NewReLU[B](),
		dropout:    dropout,
		dense:      nn.NewLinear[B](features, numClasses, backend),
		height:     height,
		width:      width,
		numClasses: numClasses,
		features:   features,
	}, nil
}

// Forward maps [batch, 1, H, W] (or flat [batch, H*W]) images to logits of
// shape [batch, k].
func (m *CNN[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	switch len(shape) {
	case 2:
		input = input.Reshape(shape[0], 1, m.height, m.width)
	case 4:
	default:
		panic(fmt.Sprintf("cnn: expected 2D or 4D input, got %dD", len(shape)))
	}

	x := m.relu.Forward(m.conv1.Forward(input))
	x = m.relu.Forward(m.conv2.Forward(x))
	x = m.pool1.Forward(x)
	x = m.relu.Forward(m.conv3.Forward(x))
	x = m.pool2.Forward(x)
	x = m.relu.Forward(m.conv4.Forward(x))

	x = x.Reshape(x.Shape()[0], m.features)
	x = m.dropout.Forward(x)
	return m.dense.Forward(x)
}

// SetTraining toggles dropout.
func (m *CNN[B]) SetTraining(training bool) {
	m.dropout.SetTraining(training)
}

// layers lists the parametrised layers with their state dict prefixes.
func (m *CNN[B]) layers() []namedLayer[B] {
	return []namedLayer[B]{
		{"conv1", m.conv1.Parameters()},
		{"conv2", m.conv2.Parameters()},
		{"conv3", m.conv3.Parameters()},
		{"conv4", m.conv4.Parameters()},
		{"dense", m.dense.Parameters()},
	}
}

type namedLayer[B tensor.Backend] struct {
	prefix string
	params []*nn.Parameter[B]
}

// Parameters returns all trainable parameters.
func (m *CNN[B]) Parameters() []*nn.Parameter[B] {
	params := make([]*nn.Parameter[B], 0, 10)
	for _, l := range m.layers() {
		params = append(params, l.params...)
	}
	return params
}

// paramKey maps a layer parameter to its state dict key, e.g. "conv1.weight".
func paramKey(prefix, name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return prefix + "." + name
}

// StateDict returns parameter tensors keyed by layer, e.g. "conv1.weight".
func (m *CNN[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, 10)
	for _, l := range m.layers() {
		for _, p := range l.params {
			state[paramKey(l.prefix, p.Name())] = p.Tensor().Raw()
		}
	}
	return state
}

// LoadStateDict copies parameter values from state into the network. Every
// parameter must be present with a matching shape.
func (m *CNN[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for _, l := range m.layers() {
		for _, p := range l.params {
			key := paramKey(l.prefix, p.Name())
			raw, ok := state[key]
			if !ok {
				return errors.Errorf("missing %q in state dict", key)
			}
			if !raw.Shape().Equal(p.Tensor().Shape()) {
				return errors.Wrapf(batch.ErrShapeMismatch, "%s: expected shape %v, got %v", key, p.Tensor().Shape(), raw.Shape())
			}
			if raw.DType() != tensor.Float32 {
				return errors.Errorf("%s: expected float32, got %v", key, raw.DType())
			}
			copy(p.Tensor().Data(), raw.AsFloat32())
		}
	}
	return nil
}

// NumParameters counts trainable scalars.
func (m *CNN[B]) NumParameters() int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.Tensor().Shape().NumElements()
	}
	return total
}

func (m *CNN[B]) String() string {
	fh, fw := featureSide(m.height), featureSide(m.width)
	return fmt.Sprintf(`CNN(
  Conv2D(1, 16, kernel=3) ReLU
  Conv2D(16, 32, kernel=3) ReLU
  MaxPool2D(2)
  Conv2D(32, 32, kernel=3) ReLU
  MaxPool2D(2)
  Conv2D(32, %d, kernel=3) ReLU
  Flatten(%dx%dx%d=%d)
  %s
  Linear(in=%d, out=%d)
)`, m.numClasses, m.numClasses, fh, fw, m.features, m.dropout, m.features, m.numClasses)
}
