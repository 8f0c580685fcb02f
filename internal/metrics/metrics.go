// Package metrics evaluates class-probability predictions against one-hot
// targets: categorical cross-entropy for loss reporting and argmax accuracy.
//
// Nothing here is differentiated. The loss that drives parameter updates is
// computed by the compute backend on the model's logits.
package metrics

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/digits/internal/batch"
)

// Epsilon clamps probabilities before taking logs so a confident wrong
// prediction yields a large finite loss instead of +Inf.
const Epsilon = 1e-7

// ArgMax returns the index of the first maximal entry of row, or -1 for an
// empty row.
func ArgMax(row []float32) int {
	if len(row) == 0 {
		return -1
	}
	best := 0
	for i, v := range row[1:] {
		if v > row[best] {
			best = i + 1
		}
	}
	return best
}

// Softmax turns raw scores into a probability distribution: every entry is
// >= 0 and the entries sum to 1. Scores are shifted by their max first.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := logits[ArgMax(logits)]
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// SoftmaxRows applies Softmax to each row of a [rows, cols] row-major buffer.
func SoftmaxRows(flat []float32, cols int) [][]float32 {
	if cols <= 0 {
		return nil
	}
	rows := make([][]float32, len(flat)/cols)
	for i := range rows {
		rows[i] = Softmax(flat[i*cols : (i+1)*cols])
	}
	return rows
}

func checkRows(preds, targets [][]float32) error {
	if len(preds) == 0 {
		return errors.Wrap(batch.ErrShapeMismatch, "no predictions")
	}
	if len(preds) != len(targets) {
		return errors.Wrapf(batch.ErrShapeMismatch, "%d predictions for %d targets", len(preds), len(targets))
	}
	for i := range preds {
		if len(preds[i]) != len(targets[i]) {
			return errors.Wrapf(batch.ErrShapeMismatch, "sample %d: %d scores for %d classes", i, len(preds[i]), len(targets[i]))
		}
	}
	return nil
}

// CrossEntropy returns the categorical cross-entropy between predicted
// distributions and one-hot targets, averaged over the samples:
//
//	mean_i( -sum_c t[i][c] * log(max(p[i][c], Epsilon)) )
func CrossEntropy(probs, targets [][]float32) (float64, error) {
	if err := checkRows(probs, targets); err != nil {
		return 0, err
	}
	losses := make([]float64, len(probs))
	for i, row := range probs {
		var l float32
		for c, t := range targets[i] {
			if t == 0 {
				continue
			}
			l -= t * math32.Log(math32.Max(row[c], Epsilon))
		}
		losses[i] = float64(l)
	}
	return stat.Mean(losses, nil), nil
}

// Accuracy returns the fraction of samples whose highest predicted
// probability sits at the target's set index.
func Accuracy(probs, targets [][]float32) (float64, error) {
	if err := checkRows(probs, targets); err != nil {
		return 0, err
	}
	correct := 0
	for i := range probs {
		if ArgMax(probs[i]) == ArgMax(targets[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(probs)), nil
}
