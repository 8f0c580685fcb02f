//go:build !windows

package model

import "github.com/pkg/errors"

func newWebGPU(Config) (Classifier, error) {
	return nil, errors.Wrap(ErrUnsupportedDevice, "webgpu backend is only built on windows")
}
