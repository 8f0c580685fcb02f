package model

import (
	"github.com/born-ml/born/backend/cpu"
	"github.com/pkg/errors"
)

// Device names.
const (
	CPU    = "cpu"
	WebGPU = "webgpu"
)

// ErrUnsupportedDevice is returned for an unknown device or one that is not
// available in this build or on this machine.
var ErrUnsupportedDevice = errors.New("unsupported device")

// New builds a Classifier on the named device.
func New(device string, cfg Config) (Classifier, error) {
	switch device {
	case CPU, "":
		return NewTrainer(cpu.New(), cfg)
	case WebGPU:
		return newWebGPU(cfg)
	}
	return nil, errors.Wrapf(ErrUnsupportedDevice, "%q", device)
}
