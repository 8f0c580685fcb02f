// Package batch partitions ordered samples into contiguous fixed-size groups
// and stacks them into (inputs, targets) batches.
//
// Order is always preserved: batches are built once, eagerly, and the
// training loop consumes them in sequence.
package batch

import (
	"github.com/pkg/errors"

	"github.com/born-ml/digits/internal/parallel"
)

var (
	// ErrInvalidBatchSize is returned for a batch size <= 0.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrShapeMismatch is returned when inputs and targets disagree in sample
	// count, or when a sample does not have the expected dimensions.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Range is a half-open interval [Start, End) of sample indices.
type Range struct {
	Start, End int
}

// Len returns the number of samples in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Partition splits n ordered samples into ceil(n/size) contiguous,
// non-overlapping ranges covering [0, n) exactly once. The last range holds
// n mod size samples when that is non-zero.
func Partition(n, size int) ([]Range, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidBatchSize, "batch size %d", size)
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "negative sample count %d", n)
	}

	ranges := make([]Range, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		ranges = append(ranges, Range{Start: start, End: min(start+size, n)})
	}
	return ranges, nil
}

// Batch is a group of samples stacked row-major.
//
// Inputs holds Size images of Height*Width values; Targets holds Size one-hot
// rows of NumClasses values.
type Batch struct {
	Inputs     []float32
	Targets    []float32
	Size       int
	Height     int
	Width      int
	NumClasses int
}

// SampleLen returns the number of input values per sample.
func (b *Batch) SampleLen() int {
	return b.Height * b.Width
}

// Input returns a view of the i-th input row.
func (b *Batch) Input(i int) []float32 {
	n := b.SampleLen()
	return b.Inputs[i*n : (i+1)*n]
}

// Target returns a view of the i-th target row.
func (b *Batch) Target(i int) []float32 {
	return b.Targets[i*b.NumClasses : (i+1)*b.NumClasses]
}

// TargetRows returns views of all target rows.
func (b *Batch) TargetRows() [][]float32 {
	rows := make([][]float32, b.Size)
	for i := range rows {
		rows[i] = b.Target(i)
	}
	return rows
}

// Validate checks that inputs and targets describe the same number of samples.
func (b *Batch) Validate() error {
	switch {
	case b.Size <= 0:
		return errors.Wrapf(ErrShapeMismatch, "empty batch (size %d)", b.Size)
	case b.Height <= 0 || b.Width <= 0 || b.NumClasses <= 0:
		return errors.Wrapf(ErrShapeMismatch, "invalid sample shape %dx%d with %d classes", b.Height, b.Width, b.NumClasses)
	case len(b.Inputs) != b.Size*b.SampleLen():
		return errors.Wrapf(ErrShapeMismatch, "inputs hold %d values, want %d samples of %dx%d",
			len(b.Inputs), b.Size, b.Height, b.Width)
	case len(b.Targets) != b.Size*b.NumClasses:
		return errors.Wrapf(ErrShapeMismatch, "targets hold %d values, want %d samples of %d classes",
			len(b.Targets), b.Size, b.NumClasses)
	}
	return nil
}

// Build partitions the samples into batches of at most size and stacks each
// range. inputs[i] must hold height*width values and every target row must
// have the same width.
func Build(inputs, targets [][]float32, size, height, width int) ([]*Batch, error) {
	return BuildWith(parallel.DefaultConfig(), inputs, targets, size, height, width)
}

// BuildWith is Build with an explicit parallel config for stacking.
func BuildWith(cfg parallel.Config, inputs, targets [][]float32, size, height, width int) ([]*Batch, error) {
	if len(inputs) != len(targets) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d inputs but %d targets", len(inputs), len(targets))
	}
	ranges, err := Partition(len(inputs), size)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	sampleLen := height * width
	numClasses := len(targets[0])
	if numClasses == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "empty target rows")
	}
	for i := range inputs {
		if len(inputs[i]) != sampleLen {
			return nil, errors.Wrapf(ErrShapeMismatch, "input %d has %d values, want %dx%d", i, len(inputs[i]), height, width)
		}
		if len(targets[i]) != numClasses {
			return nil, errors.Wrapf(ErrShapeMismatch, "target %d has %d classes, want %d", i, len(targets[i]), numClasses)
		}
	}

	batches := make([]*Batch, len(ranges))
	for bi, r := range ranges {
		b := &Batch{
			Inputs:     make([]float32, r.Len()*sampleLen),
			Targets:    make([]float32, r.Len()*numClasses),
			Size:       r.Len(),
			Height:     height,
			Width:      width,
			NumClasses: numClasses,
		}
		parallel.For(r.Len(), cfg, func(j int) {
			copy(b.Input(j), inputs[r.Start+j])
			copy(b.Target(j), targets[r.Start+j])
		})
		batches[bi] = b
	}
	return batches, nil
}

// Stack builds a single batch from all samples, e.g. a fixed held-out set.
func Stack(inputs, targets [][]float32, height, width int) (*Batch, error) {
	if len(inputs) == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "no samples to stack")
	}
	batches, err := Build(inputs, targets, len(inputs), height, width)
	if err != nil {
		return nil, err
	}
	return batches[0], nil
}
