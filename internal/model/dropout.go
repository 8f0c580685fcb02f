package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// Dropout zeroes a random fraction of activations while training and
// rescales the survivors by 1/(1-rate). In evaluation mode it is the
// identity.
type Dropout[B tensor.Backend] struct {
	rate     float32
	training bool
	rng      *rand.Rand
}

// NewDropout creates a dropout layer with rate in [0, 1).
func NewDropout[B tensor.Backend](rate float32, seed uint64) (*Dropout[B], error) {
	if rate < 0 || rate >= 1 {
		return nil, errors.Errorf("dropout rate must be in [0, 1), got %g", rate)
	}
	return &Dropout[B]{
		rate:     rate,
		training: true,
		rng:      rand.New(rand.NewPCG(seed, seed+1)),
	}, nil
}

// Forward applies the mask. The multiplication goes through the backend so
// gradients flow only through kept activations.
func (d *Dropout[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !d.training || d.rate == 0 {
		return input
	}
	keep := 1 / (1 - d.rate)
	mask := make([]float32, input.Shape().NumElements())
	for i := range mask {
		if d.rng.Float32() >= d.rate {
			mask[i] = keep
		}
	}
	maskTensor, err := tensor.FromSlice(mask, input.Shape(), input.Backend())
	if err != nil {
		panic(fmt.Sprintf("dropout: %v", err))
	}
	return input.Mul(maskTensor)
}

// SetTraining switches between training and evaluation mode.
func (d *Dropout[B]) SetTraining(training bool) {
	d.training = training
}

func (d *Dropout[B]) String() string {
	return fmt.Sprintf("Dropout(p=%g)", d.rate)
}
