package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// IDX magic numbers: unsigned byte data with 3 dimensions (images) or 1
// dimension (labels).
const (
	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

// maxIDXItems bounds the item count read from a header so a corrupt file
// cannot trigger a huge allocation.
const maxIDXItems = 1 << 24

// maxIDXSide bounds each image dimension.
const maxIDXSide = 1 << 8

// maybeGunzip returns a reader that transparently decompresses gzip input.
func maybeGunzip(r io.Reader) (io.Reader, func() error, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, nil, errors.Wrap(err, "peeking stream header")
	}
	if len(head) == 2 && head[0] == 0x1f && head[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening gzip stream")
		}
		return zr, zr.Close, nil
	}
	return br, func() error { return nil }, nil
}

// readIDXImages reads an IDX image file.
//
// Format (big-endian):
//
//	magic number: 0x00000803
//	number of images: 4 bytes
//	number of rows: 4 bytes
//	number of cols: 4 bytes
//	pixel data: unsigned bytes (0-255), row-major
func readIDXImages(r io.Reader) (pixels [][]byte, rows, cols int, err error) {
	r, closeFn, err := maybeGunzip(r)
	if err != nil {
		return nil, 0, 0, err
	}
	defer func() {
		if cerr := closeFn(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "closing gzip stream")
		}
	}()

	var header struct {
		Magic, Count, Rows, Cols uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, errors.Wrapf(ErrInvalidFormat, "reading image header: %v", err)
	}
	if header.Magic != imageMagic {
		return nil, 0, 0, errors.Wrapf(ErrInvalidFormat, "image magic number %#08x, want %#08x", header.Magic, imageMagic)
	}
	if header.Count > maxIDXItems || header.Rows == 0 || header.Cols == 0 ||
		header.Rows > maxIDXSide || header.Cols > maxIDXSide {
		return nil, 0, 0, errors.Wrapf(ErrInvalidFormat, "implausible image header %d x %dx%d", header.Count, header.Rows, header.Cols)
	}

	size := int(header.Rows * header.Cols)
	pixels = make([][]byte, header.Count)
	buf := make([]byte, size*int(header.Count))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, 0, errors.Wrapf(ErrInvalidFormat, "reading %d images: %v", header.Count, err)
	}
	for i := range pixels {
		pixels[i] = buf[i*size : (i+1)*size]
	}
	return pixels, int(header.Rows), int(header.Cols), nil
}

// readIDXLabels reads an IDX label file.
//
// Format (big-endian):
//
//	magic number: 0x00000801
//	number of labels: 4 bytes
//	label data: unsigned bytes
func readIDXLabels(r io.Reader) (labels []byte, err error) {
	r, closeFn, err := maybeGunzip(r)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := closeFn(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "closing gzip stream")
		}
	}()

	var header struct {
		Magic, Count uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(ErrInvalidFormat, "reading label header: %v", err)
	}
	if header.Magic != labelMagic {
		return nil, errors.Wrapf(ErrInvalidFormat, "label magic number %#08x, want %#08x", header.Magic, labelMagic)
	}
	if header.Count > maxIDXItems {
		return nil, errors.Wrapf(ErrInvalidFormat, "implausible label count %d", header.Count)
	}

	labels = make([]byte, header.Count)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, errors.Wrapf(ErrInvalidFormat, "reading %d labels: %v", header.Count, err)
	}
	return labels, nil
}
