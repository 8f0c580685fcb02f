package model

import (
	"fmt"
	"math"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/digits/internal/batch"
	"github.com/born-ml/digits/internal/metrics"
)

// Optimizer names accepted in Config.
const (
	Adam = "adam"
	SGD  = "sgd"
)

var (
	// ErrUnknownOptimizer is returned for an optimizer name other than Adam or SGD.
	ErrUnknownOptimizer = errors.New("unknown optimizer")

	// ErrNonFiniteLoss is returned when a training step produces NaN or Inf.
	ErrNonFiniteLoss = errors.New("non-finite loss")

	// ErrBackend wraps a panic raised while running the network.
	ErrBackend = errors.New("backend failure")
)

// checkpointType is stored in checkpoint headers.
const checkpointType = "DigitsCNN"

// Config describes the network and its optimizer.
type Config struct {
	Height, Width int
	NumClasses    int
	DropoutRate   float32
	Optimizer     string // Adam or SGD.
	LearningRate  float32
	Momentum      float32 // SGD only.
	Seed          uint64  // Dropout mask stream.
}

// Classifier is a trainable digit classifier bound to one device.
type Classifier interface {
	// TrainStep runs forward, loss, backward and one optimizer update on b.
	TrainStep(b *batch.Batch) (float32, error)

	// Predict returns one probability row per sample in b.
	Predict(b *batch.Batch) ([][]float32, error)

	Save(path string) error
	Load(path string) error
	NumParameters() int
	String() string

	// Close releases device resources.
	Close() error
}

// Trainer owns an autodiff-wrapped backend, the network and its optimizer.
type Trainer[B tensor.Backend] struct {
	backend *autodiff.Backend[B]
	net     *CNN[*autodiff.Backend[B]]
	opt     optim.Optimizer
	cfg     Config
	release func()
}

// NewTrainer wraps inner with autodiff and builds the network and optimizer.
func NewTrainer[B tensor.Backend](inner B, cfg Config) (*Trainer[B], error) {
	backend := autodiff.New(inner)
	net, err := NewCNN(cfg.Height, cfg.Width, cfg.NumClasses, cfg.DropoutRate, cfg.Seed, backend)
	if err != nil {
		return nil, err
	}

	var opt optim.Optimizer
	switch cfg.Optimizer {
	case Adam, "":
		opt = optim.NewAdam(net.Parameters(), optim.AdamConfig{
			LR:    cfg.LearningRate,
			Betas: [2]float32{0.9, 0.999},
			Eps:   1e-8,
		}, backend)
	case SGD:
		opt = optim.NewSGD(net.Parameters(), optim.SGDConfig{
			LR:       cfg.LearningRate,
			Momentum: cfg.Momentum,
		}, backend)
	default:
		return nil, errors.Wrapf(ErrUnknownOptimizer, "%q", cfg.Optimizer)
	}

	klog.V(1).Infof("model: %d parameters, optimizer %s (lr=%g)", net.NumParameters(), cfg.Optimizer, cfg.LearningRate)
	return &Trainer[B]{backend: backend, net: net, opt: opt, cfg: cfg}, nil
}

// Network exposes the underlying CNN.
func (t *Trainer[B]) Network() *CNN[*autodiff.Backend[B]] {
	return t.net
}

// check verifies that b matches the network's geometry.
func (t *Trainer[B]) check(b *batch.Batch) error {
	if b == nil {
		return errors.Wrap(batch.ErrShapeMismatch, "nil batch")
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if b.Height != t.cfg.Height || b.Width != t.cfg.Width || b.NumClasses != t.cfg.NumClasses {
		return errors.Wrapf(batch.ErrShapeMismatch, "batch is %dx%d with %d classes, network expects %dx%d with %d",
			b.Height, b.Width, b.NumClasses, t.cfg.Height, t.cfg.Width, t.cfg.NumClasses)
	}
	return nil
}

// inputs materialises the batch images as a [n, 1, H, W] tensor.
func (t *Trainer[B]) inputs(b *batch.Batch) (*tensor.Tensor[float32, *autodiff.Backend[B]], error) {
	images, err := tensor.FromSlice(b.Inputs, tensor.Shape{b.Size, 1, b.Height, b.Width}, t.backend)
	if err != nil {
		return nil, errors.Wrap(err, "building input tensor")
	}
	return images, nil
}

// classIndices turns one-hot targets into a [n] int32 tensor.
func (t *Trainer[B]) classIndices(b *batch.Batch) (*tensor.Tensor[int32, *autodiff.Backend[B]], error) {
	indices := make([]int32, b.Size)
	for i := range indices {
		indices[i] = int32(metrics.ArgMax(b.Target(i)))
	}
	labels, err := tensor.FromSlice(indices, tensor.Shape{b.Size}, t.backend)
	if err != nil {
		return nil, errors.Wrap(err, "building label tensor")
	}
	return labels, nil
}

// recoverBackend converts a panic raised inside the backend into an
// ErrBackend error.
func recoverBackend(err *error, op string) {
	if r := recover(); r != nil {
		*err = errors.Wrapf(ErrBackend, "%s: %v", op, r)
	}
}

// TrainStep performs one optimisation step on b and returns its loss.
func (t *Trainer[B]) TrainStep(b *batch.Batch) (loss float32, err error) {
	if err := t.check(b); err != nil {
		return 0, err
	}
	images, err := t.inputs(b)
	if err != nil {
		return 0, err
	}
	labels, err := t.classIndices(b)
	if err != nil {
		return 0, err
	}

	tape := t.backend.Tape()
	defer tape.Clear()
	defer recoverBackend(&err, "train step")
	tape.StartRecording()
	t.net.SetTraining(true)

	t.opt.ZeroGrad()
	logits := t.net.Forward(images)
	lossRaw := t.backend.CrossEntropy(logits.Raw(), labels.Raw())
	loss = lossRaw.AsFloat32()[0]
	if math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0) {
		return loss, errors.Wrapf(ErrNonFiniteLoss, "loss=%v", loss)
	}

	outputGrad, err := tensor.NewRaw(lossRaw.Shape(), lossRaw.DType(), t.backend.Device())
	if err != nil {
		return 0, errors.Wrap(err, "allocating output gradient")
	}
	outputGrad.AsFloat32()[0] = 1
	grads := tape.Backward(outputGrad, t.backend)
	t.opt.Step(grads)
	return loss, nil
}

// Predict runs the network in evaluation mode and returns softmax
// probabilities, one row of NumClasses per sample.
func (t *Trainer[B]) Predict(b *batch.Batch) (probs [][]float32, err error) {
	if err := t.check(b); err != nil {
		return nil, err
	}
	images, err := t.inputs(b)
	if err != nil {
		return nil, err
	}

	tape := t.backend.Tape()
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}
	t.net.SetTraining(false)
	defer t.net.SetTraining(true)
	defer recoverBackend(&err, "predict")

	logits := t.net.Forward(images).Raw().AsFloat32()
	if len(logits) != b.Size*t.cfg.NumClasses {
		return nil, errors.Wrapf(batch.ErrShapeMismatch, "network produced %d logits for %d samples", len(logits), b.Size)
	}
	return metrics.SoftmaxRows(logits, t.cfg.NumClasses), nil
}

// Save writes a Born checkpoint of the network to path.
func (t *Trainer[B]) Save(path string) error {
	meta := map[string]string{
		"height":    fmt.Sprint(t.cfg.Height),
		"width":     fmt.Sprint(t.cfg.Width),
		"classes":   fmt.Sprint(t.cfg.NumClasses),
		"optimizer": t.cfg.Optimizer,
	}
	if err := nn.Save[*autodiff.Backend[B]](t.net, path, checkpointType, meta); err != nil {
		return errors.Wrapf(err, "saving checkpoint %q", path)
	}
	return nil
}

// Load restores network parameters from a checkpoint written by Save.
func (t *Trainer[B]) Load(path string) error {
	if _, err := nn.Load[*autodiff.Backend[B]](path, t.backend, t.net); err != nil {
		return errors.Wrapf(err, "loading checkpoint %q", path)
	}
	return nil
}

// NumParameters returns the number of trainable scalars.
func (t *Trainer[B]) NumParameters() int {
	return t.net.NumParameters()
}

func (t *Trainer[B]) String() string {
	return t.net.String()
}

// Close releases the device, if it holds resources.
func (t *Trainer[B]) Close() error {
	if t.release != nil {
		t.release()
		t.release = nil
	}
	return nil
}
