package dataset

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSplit stores a split in dir, gzip-compressing it when compress is set.
func writeSplit(t *testing.T, dir string, split Split, pixels [][]byte, labels []byte, compress bool) {
	t.Helper()
	imagesName, labelsName, err := split.files()
	require.NoError(t, err)

	var images, lbls bytes.Buffer
	require.NoError(t, writeIDXImages(&images, pixels, 2, 3))
	require.NoError(t, writeIDXLabels(&lbls, labels))

	imgData, lblData := images.Bytes(), lbls.Bytes()
	if compress {
		imagesName += ".gz"
		labelsName += ".gz"
		imgData, lblData = gzipBytes(t, imgData), gzipBytes(t, lblData)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, imagesName), imgData, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, labelsName), lblData, 0o644))
}

func TestLoad(t *testing.T) {
	for _, compress := range []bool{false, true} {
		dir := t.TempDir()
		writeSplit(t, dir, Train, testPixels(), []byte{3, 9}, compress)

		ds, err := Load(dir, Train, 0)
		require.NoError(t, err)
		require.Equal(t, 2, ds.Len())
		assert.Equal(t, 2, ds.Rows)
		assert.Equal(t, 3, ds.Cols)
		assert.Equal(t, []int{3, 9}, ds.Labels)
		assert.InDelta(t, 1.0, ds.Images[0][1], 1e-6)
		assert.InDelta(t, 128.0/255.0, ds.Images[0][2], 1e-6)
		assert.InDelta(t, 0.0, ds.Images[0][0], 1e-6)
		for _, img := range ds.Images {
			for _, v := range img {
				assert.GreaterOrEqual(t, v, float32(0))
				assert.LessOrEqual(t, v, float32(1))
			}
		}
	}
}

func TestLoad_MaxSamples(t *testing.T) {
	dir := t.TempDir()
	writeSplit(t, dir, Test, testPixels(), []byte{3, 9}, false)

	ds, err := Load(dir, Test, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
	assert.Equal(t, []int{3}, ds.Labels)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing files", func(t *testing.T) {
		_, err := Load(t.TempDir(), Train, 0)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("count mismatch", func(t *testing.T) {
		dir := t.TempDir()
		writeSplit(t, dir, Train, testPixels(), []byte{1}, false)
		_, err := Load(dir, Train, 0)
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})

	t.Run("unknown split", func(t *testing.T) {
		_, err := Load(t.TempDir(), Split("validation"), 0)
		assert.Error(t, err)
	})
}

func TestSplit(t *testing.T) {
	ds := Synthetic(10, 1)

	train, held := ds.Split(0.2)
	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, held.Len())
	assert.Equal(t, ds.Labels[8:], held.Labels)
}

func TestSynthetic(t *testing.T) {
	ds := Synthetic(25, 7)
	require.Equal(t, 25, ds.Len())
	assert.Equal(t, Height, ds.Rows)
	assert.Equal(t, Width, ds.Cols)
	for i, img := range ds.Images {
		assert.Len(t, img, Height*Width)
		assert.Equal(t, i%10, ds.Labels[i])
	}

	again := Synthetic(25, 7)
	assert.Equal(t, ds.Images, again.Images, "same seed must give same images")
}

func TestDownloader(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if !strings.HasSuffix(r.URL.Path, ".gz") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload " + r.URL.Path))
	}))
	defer srv.Close()

	dir := t.TempDir()
	// Present files are not fetched again.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t10k-labels-idx1-ubyte"), []byte("x"), 0o644))

	d := &Downloader{Mirror: srv.URL, Client: srv.Client()}
	require.NoError(t, d.Fetch(context.Background(), dir))
	assert.EqualValues(t, 3, requests.Load())

	data, err := os.ReadFile(filepath.Join(dir, "train-images-idx3-ubyte.gz"))
	require.NoError(t, err)
	assert.Equal(t, "payload /train-images-idx3-ubyte.gz", string(data))
	_, err = os.Stat(filepath.Join(dir, "train-images-idx3-ubyte.gz.partial"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, d.Fetch(context.Background(), dir))
	assert.EqualValues(t, 3, requests.Load())
}

func TestDownloader_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	d := &Downloader{Mirror: srv.URL, Client: srv.Client()}
	err := d.Fetch(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	_, statErr := os.Stat(filepath.Join(dir, "train-images-idx3-ubyte.gz"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloader_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("unused"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &Downloader{Mirror: srv.URL, Client: srv.Client()}
	err := d.Fetch(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
