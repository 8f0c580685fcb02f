//go:build windows

package model

import (
	"github.com/born-ml/born/backend/webgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func newWebGPU(cfg Config) (Classifier, error) {
	if !webgpu.IsAvailable() {
		return nil, errors.Wrap(ErrUnsupportedDevice, "no WebGPU adapter found")
	}
	gpu, err := webgpu.New()
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedDevice, "initializing WebGPU: %v", err)
	}
	t, err := NewTrainer(gpu, cfg)
	if err != nil {
		gpu.Release()
		return nil, err
	}
	t.release = gpu.Release
	klog.V(1).Info("model: using WebGPU backend")
	return t, nil
}
