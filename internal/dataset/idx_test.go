package dataset

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIDXImages(w io.Writer, pixels [][]byte, rows, cols int) error {
	header := [4]uint32{imageMagic, uint32(len(pixels)), uint32(rows), uint32(cols)}
	if err := binary.Write(w, binary.BigEndian, header); err != nil {
		return err
	}
	for _, p := range pixels {
		if _, err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

func writeIDXLabels(w io.Writer, labels []byte) error {
	header := [2]uint32{labelMagic, uint32(len(labels))}
	if err := binary.Write(w, binary.BigEndian, header); err != nil {
		return err
	}
	_, err := w.Write(labels)
	return err
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testPixels() [][]byte {
	return [][]byte{
		{0, 255, 128, 1, 2, 3},
		{9, 8, 7, 6, 5, 4},
	}
}

func TestReadIDXImages(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeIDXImages(&buf, testPixels(), 2, 3))

	t.Run("plain", func(t *testing.T) {
		pixels, rows, cols, err := readIDXImages(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 2, rows)
		assert.Equal(t, 3, cols)
		assert.Equal(t, testPixels(), pixels)
	})

	t.Run("gzip", func(t *testing.T) {
		pixels, rows, cols, err := readIDXImages(bytes.NewReader(gzipBytes(t, buf.Bytes())))
		require.NoError(t, err)
		assert.Equal(t, 2, rows)
		assert.Equal(t, 3, cols)
		assert.Equal(t, testPixels(), pixels)
	})
}

func TestReadIDXLabels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeIDXLabels(&buf, []byte{7, 2, 1}))

	labels, err := readIDXLabels(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 2, 1}, labels)

	labels, err = readIDXLabels(bytes.NewReader(gzipBytes(t, buf.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 2, 1}, labels)
}

func TestReadIDX_Malformed(t *testing.T) {
	var labels bytes.Buffer
	require.NoError(t, writeIDXLabels(&labels, []byte{1, 2}))
	var images bytes.Buffer
	require.NoError(t, writeIDXImages(&images, testPixels(), 2, 3))

	t.Run("image magic", func(t *testing.T) {
		_, _, _, err := readIDXImages(bytes.NewReader(labels.Bytes()))
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})
	t.Run("label magic", func(t *testing.T) {
		_, err := readIDXLabels(bytes.NewReader(images.Bytes()))
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})
	t.Run("truncated images", func(t *testing.T) {
		data := images.Bytes()
		_, _, _, err := readIDXImages(bytes.NewReader(data[:len(data)-1]))
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})
	t.Run("truncated labels", func(t *testing.T) {
		data := labels.Bytes()
		_, err := readIDXLabels(bytes.NewReader(data[:len(data)-1]))
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})
	t.Run("oversized dimensions", func(t *testing.T) {
		// rows*cols wraps to 65536 in 32 bits.
		var buf bytes.Buffer
		header := [4]uint32{imageMagic, 1, 65537, 65536}
		require.NoError(t, binary.Write(&buf, binary.BigEndian, header))
		buf.Write(make([]byte, 65536))
		_, _, _, err := readIDXImages(&buf)
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := readIDXLabels(bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})
}
