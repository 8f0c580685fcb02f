package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/digits/internal/batch"
	"github.com/born-ml/digits/internal/config"
	"github.com/born-ml/digits/internal/dataset"
	"github.com/born-ml/digits/internal/encoding"
	"github.com/born-ml/digits/internal/model"
	"github.com/born-ml/digits/internal/report"
	"github.com/born-ml/digits/internal/throttle"
	"github.com/born-ml/digits/internal/train"
)

// syntheticTrainSize is used when synthetic data is requested without a
// sample cap.
const syntheticTrainSize = 1000

// loadData returns the training and held-out datasets.
func loadData(ctx context.Context, cfg *config.Config, stderr io.Writer) (trainSet, heldSet *dataset.Dataset, err error) {
	if cfg.Synthetic {
		n := cfg.MaxTrainSamples
		if n == 0 {
			n = syntheticTrainSize
		}
		all := dataset.Synthetic(n+cfg.TestSamples, cfg.Seed)
		trainSet, heldSet = all.Split(float64(cfg.TestSamples) / float64(all.Len()))
		return trainSet, heldSet, nil
	}

	if cfg.Download {
		d := &dataset.Downloader{ShowProgress: cfg.Progress, Output: stderr}
		if err := d.Fetch(ctx, cfg.DataDir); err != nil {
			return nil, nil, err
		}
	}
	trainSet, err = dataset.Load(cfg.DataDir, dataset.Train, cfg.MaxTrainSamples)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "use -download to fetch the dataset or -synthetic to run without it")
	}
	heldSet, err = dataset.Load(cfg.DataDir, dataset.Test, cfg.TestSamples)
	if err != nil {
		return nil, nil, err
	}
	return trainSet, heldSet, nil
}

// run trains a classifier as configured by cfg. Accuracy reports and the
// final summary go to stdout; progress bars go to stderr.
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	start := time.Now()
	trainSet, heldSet, err := loadData(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	klog.Infof("digits: %s training samples, %s held-out samples",
		humanize.Comma(int64(trainSet.Len())), humanize.Comma(int64(heldSet.Len())))

	targets, err := encoding.OneHot(trainSet.Labels, dataset.Classes)
	if err != nil {
		return errors.WithMessage(err, "encoding training labels")
	}
	batches, err := batch.Build(trainSet.Images, targets, cfg.BatchSize, trainSet.Rows, trainSet.Cols)
	if err != nil {
		return err
	}
	heldTargets, err := encoding.OneHot(heldSet.Labels, dataset.Classes)
	if err != nil {
		return errors.WithMessage(err, "encoding held-out labels")
	}
	held, err := batch.Stack(heldSet.Images, heldTargets, heldSet.Rows, heldSet.Cols)
	if err != nil {
		return err
	}

	clf, err := model.New(cfg.Device, model.Config{
		Height:       trainSet.Rows,
		Width:        trainSet.Cols,
		NumClasses:   len(dataset.Classes),
		DropoutRate:  float32(cfg.DropoutRate),
		Optimizer:    cfg.Optimizer,
		LearningRate: float32(cfg.LearningRate),
		Momentum:     float32(cfg.Momentum),
		Seed:         cfg.Seed,
	})
	if err != nil {
		return err
	}
	defer clf.Close()
	if cfg.Resume {
		if err := clf.Load(cfg.Checkpoint); err != nil {
			return err
		}
		klog.Infof("digits: resumed from %s", cfg.Checkpoint)
	}
	klog.V(1).Infof("digits: model\n%s", clf)

	loop := train.NewLoop(clf)
	if cfg.Progress {
		report.AttachProgressBar(loop, stderr)
	}
	accuracy := throttle.New(cfg.ReportInterval, train.AccuracyReporter(clf, held, stdout))
	klog.Infof("digits: reporting held-out accuracy at most every %s", accuracy.Interval())
	loop.OnStep("accuracy", func(*train.Loop, train.Step) error {
		_, err := accuracy.MaybeCall()
		return err
	})

	for range cfg.Epochs {
		if err := loop.Run(ctx, batches); err != nil {
			return err
		}
	}

	final, err := train.Evaluate(clf, held)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(stdout, final); err != nil {
		return errors.Wrap(err, "writing final report")
	}
	if cfg.Checkpoint != "" {
		if err := clf.Save(cfg.Checkpoint); err != nil {
			return err
		}
		klog.Infof("digits: checkpoint written to %s", cfg.Checkpoint)
	}

	summary := report.Summary{
		Device:     cfg.Device,
		Parameters: clf.NumParameters(),
		TrainSize:  trainSet.Len(),
		Batches:    len(batches),
		Epochs:     loop.Epoch(),
		Stats:      loop.Stats(),
		Final:      final,
		Elapsed:    time.Since(start),
		Checkpoint: cfg.Checkpoint,
	}
	_, err = fmt.Fprintln(stdout, summary.Render())
	return errors.Wrap(err, "writing summary")
}
