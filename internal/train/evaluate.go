package train

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/born-ml/digits/internal/batch"
	"github.com/born-ml/digits/internal/metrics"
)

// Result of evaluating a model on a batch.
type Result struct {
	Loss     float64
	Accuracy float64
	Samples  int
}

func (r Result) String() string {
	return fmt.Sprintf("accuracy=%.4f loss=%.4f on %d held-out samples", r.Accuracy, r.Loss, r.Samples)
}

// Evaluate predicts held and scores the predictions against its targets.
func Evaluate(model Model, held *batch.Batch) (Result, error) {
	if held == nil {
		return Result{}, errors.Wrap(batch.ErrShapeMismatch, "nil evaluation batch")
	}
	probs, err := model.Predict(held)
	if err != nil {
		return Result{}, errors.WithMessage(err, "predicting held-out batch")
	}
	targets := held.TargetRows()
	loss, err := metrics.CrossEntropy(probs, targets)
	if err != nil {
		return Result{}, err
	}
	acc, err := metrics.Accuracy(probs, targets)
	if err != nil {
		return Result{}, err
	}
	return Result{Loss: loss, Accuracy: acc, Samples: held.Size}, nil
}

// AccuracyReporter returns an action that evaluates model on held and writes
// one line with the result to w. Each call reports the model as it is at
// that moment.
func AccuracyReporter(model Model, held *batch.Batch, w io.Writer) func() error {
	return func() error {
		res, err := Evaluate(model, held)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, res); err != nil {
			return errors.Wrap(err, "writing accuracy report")
		}
		return nil
	}
}
