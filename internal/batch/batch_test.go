package batch

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/digits/internal/parallel"
)

// TestPartition_Properties checks count, coverage, order and size bounds
// over a grid of sample counts and batch sizes.
func TestPartition_Properties(t *testing.T) {
	for n := 1; n <= 40; n++ {
		for size := 1; size <= 12; size++ {
			ranges, err := Partition(n, size)
			require.NoError(t, err)

			wantCount := (n + size - 1) / size
			require.Len(t, ranges, wantCount, "n=%d size=%d", n, size)

			next, total := 0, 0
			for i, r := range ranges {
				assert.Equal(t, next, r.Start, "n=%d size=%d range %d", n, size, i)
				assert.LessOrEqual(t, r.Len(), size)
				assert.Positive(t, r.Len())
				if i < len(ranges)-1 {
					assert.Equal(t, size, r.Len())
				}
				next = r.End
				total += r.Len()
			}
			assert.Equal(t, n, total)
			assert.Equal(t, n, next)

			last := ranges[len(ranges)-1].Len()
			if n%size != 0 {
				assert.Equal(t, n%size, last)
			} else {
				assert.Equal(t, size, last)
			}
		}
	}
}

func TestPartition_InvalidBatchSize(t *testing.T) {
	for _, size := range []int{0, -1, -128} {
		_, err := Partition(10, size)
		assert.True(t, errors.Is(err, ErrInvalidBatchSize), "size %d: %v", size, err)
	}
}

func TestPartition_Empty(t *testing.T) {
	ranges, err := Partition(0, 32)
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func sampleSet(n, height, width, classes int) (inputs, targets [][]float32) {
	inputs = make([][]float32, n)
	targets = make([][]float32, n)
	for i := range inputs {
		inputs[i] = make([]float32, height*width)
		for j := range inputs[i] {
			inputs[i][j] = float32(i)
		}
		targets[i] = make([]float32, classes)
		targets[i][i%classes] = 1
	}
	return inputs, targets
}

func TestBuild_StacksInOrder(t *testing.T) {
	inputs, targets := sampleSet(10, 2, 3, 4)

	batches, err := Build(inputs, targets, 4, 2, 3)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	sizes := []int{4, 4, 2}
	sample := 0
	for bi, b := range batches {
		require.NoError(t, b.Validate())
		assert.Equal(t, sizes[bi], b.Size)
		assert.Equal(t, 4, b.NumClasses)
		for j := 0; j < b.Size; j++ {
			for _, v := range b.Input(j) {
				assert.Equal(t, float32(sample), v, "batch %d row %d", bi, j)
			}
			assert.Equal(t, targets[sample], b.Target(j))
			sample++
		}
	}
	assert.Equal(t, 10, sample)
}

func TestBuild_ParallelMatchesSequential(t *testing.T) {
	inputs, targets := sampleSet(1000, 4, 4, 10)
	cfg := parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}

	par, err := BuildWith(cfg, inputs, targets, 300, 4, 4)
	require.NoError(t, err)
	seq, err := BuildWith(parallel.Sequential(), inputs, targets, 300, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, seq, par)
}

func TestBuild_ShapeMismatch(t *testing.T) {
	inputs, targets := sampleSet(5, 2, 2, 3)

	tests := []struct {
		name    string
		inputs  [][]float32
		targets [][]float32
	}{
		{"count", inputs, targets[:4]},
		{"image size", append([][]float32{{1, 2, 3}}, inputs[1:]...), targets},
		{"target width", inputs, append([][]float32{{1, 0}}, targets[1:]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.inputs, tt.targets, 2, 2, 2)
			assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
		})
	}
}

func TestBuild_InvalidBatchSize(t *testing.T) {
	inputs, targets := sampleSet(5, 2, 2, 3)
	_, err := Build(inputs, targets, 0, 2, 2)
	assert.True(t, errors.Is(err, ErrInvalidBatchSize))
}

func TestBatch_Validate(t *testing.T) {
	good := &Batch{
		Inputs:     make([]float32, 2*4),
		Targets:    make([]float32, 2*3),
		Size:       2,
		Height:     2,
		Width:      2,
		NumClasses: 3,
	}
	require.NoError(t, good.Validate())

	for i, mutate := range []func(b *Batch){
		func(b *Batch) { b.Size = 3 },
		func(b *Batch) { b.Targets = b.Targets[:3] },
		func(b *Batch) { b.Inputs = append(b.Inputs, 0) },
		func(b *Batch) { b.Size = 0; b.Inputs = nil; b.Targets = nil },
	} {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			b := *good
			mutate(&b)
			assert.True(t, errors.Is(b.Validate(), ErrShapeMismatch))
		})
	}
}

func TestStack(t *testing.T) {
	inputs, targets := sampleSet(7, 1, 2, 2)
	b, err := Stack(inputs, targets, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 7, b.Size)
	assert.Len(t, b.TargetRows(), 7)

	_, err = Stack(nil, nil, 1, 2)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}
