// Package dataset loads the MNIST handwritten-digit dataset.
//
// Images are read from the official IDX files (plain or gzip-compressed) and
// normalised to float32 in [0, 1]. Labels are the digits 0-9, see Classes.
//
// Expected files in the data directory:
//   - train-images-idx3-ubyte[.gz], train-labels-idx1-ubyte[.gz]
//   - t10k-images-idx3-ubyte[.gz], t10k-labels-idx1-ubyte[.gz]
package dataset

import (
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/digits/internal/parallel"
)

// Image dimensions of MNIST digits.
const (
	Height = 28
	Width  = 28
)

// Classes is the ordered label set: digit d is encoded at index d.
var Classes = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

// ErrInvalidFormat is returned for malformed or inconsistent dataset files.
var ErrInvalidFormat = errors.New("invalid dataset format")

// Split selects the training or the test portion of the dataset.
type Split string

// Dataset splits.
const (
	Train Split = "train"
	Test  Split = "test"
)

// files returns the image and label file names of a split, without the
// optional .gz suffix.
func (s Split) files() (images, labels string, err error) {
	switch s {
	case Train:
		return "train-images-idx3-ubyte", "train-labels-idx1-ubyte", nil
	case Test:
		return "t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte", nil
	}
	return "", "", errors.Errorf("unknown split %q", string(s))
}

// Dataset holds images and their labels, in file order.
type Dataset struct {
	Images [][]float32 // One row-major Rows*Cols row per image, values in [0, 1].
	Labels []int
	Rows   int
	Cols   int
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Images)
}

// Split divides the dataset into two contiguous parts, the second holding
// the given fraction of samples. Order is preserved.
func (d *Dataset) Split(fraction float64) (*Dataset, *Dataset) {
	cut := d.Len() - int(math.Round(float64(d.Len())*fraction))
	cut = min(max(cut, 0), d.Len())
	return &Dataset{Images: d.Images[:cut], Labels: d.Labels[:cut], Rows: d.Rows, Cols: d.Cols},
		&Dataset{Images: d.Images[cut:], Labels: d.Labels[cut:], Rows: d.Rows, Cols: d.Cols}
}

// openFirst opens the first existing file among the candidates.
func openFirst(candidates ...string) (*os.File, error) {
	var firstErr error
	for _, path := range candidates {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Load reads one split from dir. Files may be stored plain or with a .gz
// suffix. If maxSamples > 0, only the first maxSamples samples are kept.
func Load(dir string, split Split, maxSamples int) (*Dataset, error) {
	imagesName, labelsName, err := split.files()
	if err != nil {
		return nil, err
	}

	imagesPath := filepath.Join(dir, imagesName)
	imagesFile, err := openFirst(imagesPath, imagesPath+".gz")
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s images", split)
	}
	defer imagesFile.Close()
	pixels, rows, cols, err := readIDXImages(imagesFile)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", imagesFile.Name())
	}

	labelsPath := filepath.Join(dir, labelsName)
	labelsFile, err := openFirst(labelsPath, labelsPath+".gz")
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s labels", split)
	}
	defer labelsFile.Close()
	rawLabels, err := readIDXLabels(labelsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", labelsFile.Name())
	}

	if len(pixels) != len(rawLabels) {
		return nil, errors.Wrapf(ErrInvalidFormat, "%s: image count (%d) != label count (%d)", split, len(pixels), len(rawLabels))
	}

	n := len(pixels)
	if maxSamples > 0 && n > maxSamples {
		n = maxSamples
	}
	ds := fromBytes(pixels[:n], rawLabels[:n], rows, cols)
	klog.V(1).Infof("dataset: loaded %s %s samples of %dx%d from %s", humanize.Comma(int64(n)), split, rows, cols, dir)
	return ds, nil
}

// fromBytes normalises raw pixels to [0, 1].
func fromBytes(pixels [][]byte, labels []byte, rows, cols int) *Dataset {
	size := rows * cols
	flat := make([]float32, len(pixels)*size)
	ds := &Dataset{
		Images: make([][]float32, len(pixels)),
		Labels: make([]int, len(labels)),
		Rows:   rows,
		Cols:   cols,
	}
	parallel.For(len(pixels), parallel.DefaultConfig(), func(i int) {
		img := flat[i*size : (i+1)*size : (i+1)*size]
		for j, p := range pixels[i] {
			img[j] = float32(p) / 255.0
		}
		ds.Images[i] = img
		ds.Labels[i] = int(labels[i])
	})
	return ds
}
