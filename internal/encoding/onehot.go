// Package encoding converts integer class labels into one-hot indicator
// vectors over an explicit, ordered class set.
package encoding

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidLabel is returned when a label is not part of the class set.
	ErrInvalidLabel = errors.New("invalid label")

	// ErrInvalidClasses is returned for an empty class set or one with duplicates.
	ErrInvalidClasses = errors.New("invalid class set")
)

// Index maps each class to its position in the class set.
type Index map[int]int

// NewIndex builds the class-to-position mapping. The position of a class is
// its index in classes, so the order of classes fixes the encoding.
func NewIndex(classes []int) (Index, error) {
	if len(classes) == 0 {
		return nil, errors.Wrap(ErrInvalidClasses, "empty class set")
	}
	idx := make(Index, len(classes))
	for pos, c := range classes {
		if prev, dup := idx[c]; dup {
			return nil, errors.Wrapf(ErrInvalidClasses, "class %d appears at positions %d and %d", c, prev, pos)
		}
		idx[c] = pos
	}
	return idx, nil
}

// OneHot returns one vector per label. Each vector has len(classes) entries,
// all zero except a single 1 at the label's position in classes.
//
// Example:
//
//	vecs, err := encoding.OneHot([]int{2, 0}, []int{0, 1, 2})
//	// vecs == [[0 0 1] [1 0 0]]
func OneHot(labels []int, classes []int) ([][]float32, error) {
	idx, err := NewIndex(classes)
	if err != nil {
		return nil, err
	}

	k := len(classes)
	// One backing array: vectors are views into it.
	flat := make([]float32, len(labels)*k)
	out := make([][]float32, len(labels))
	for i, label := range labels {
		pos, ok := idx[label]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidLabel, "label %d at position %d is not in class set %v", label, i, classes)
		}
		row := flat[i*k : (i+1)*k : (i+1)*k]
		row[pos] = 1
		out[i] = row
	}
	return out, nil
}

// Decode returns the class whose indicator is set in vec. It is the inverse
// of OneHot: vec must have len(classes) entries with exactly one equal to 1.
func Decode(vec []float32, classes []int) (int, error) {
	if len(vec) != len(classes) {
		return 0, errors.Wrapf(ErrInvalidLabel, "vector of length %d for %d classes", len(vec), len(classes))
	}
	found := -1
	for i, v := range vec {
		switch v {
		case 0:
		case 1:
			if found >= 0 {
				return 0, errors.Wrapf(ErrInvalidLabel, "indicators set at %d and %d", found, i)
			}
			found = i
		default:
			return 0, errors.Wrapf(ErrInvalidLabel, "non-indicator value %g at %d", v, i)
		}
	}
	if found < 0 {
		return 0, errors.Wrap(ErrInvalidLabel, "no indicator set")
	}
	return classes[found], nil
}
