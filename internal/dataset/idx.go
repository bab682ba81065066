package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// IDX magic numbers: 0x00000803 (unsigned byte, 3 dims) for images and
// 0x00000801 (unsigned byte, 1 dim) for labels.
const (
	imageMagic = 2051
	labelMagic = 2049
)

// maxIDXBytes bounds the payload a header may claim. MNIST's training
// images take about 47 MB.
const maxIDXBytes = 1 << 30

// idxImages is the decoded content of an IDX image file.
type idxImages struct {
	count  int
	rows   int
	cols   int
	pixels []byte // count*rows*cols, row-major
}

func (im *idxImages) image(i int) []byte {
	n := im.rows * im.cols
	return im.pixels[i*n : (i+1)*n]
}

func readHeader(r io.Reader, want uint32, dims int) ([]int, error) {
	header := make([]uint32, 1+dims)
	if err := binary.Read(r, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if header[0] != want {
		return nil, fmt.Errorf("bad magic number %d (want %d)", header[0], want)
	}
	out := make([]int, dims)
	for i := range out {
		out[i] = int(header[i+1])
	}
	return out, nil
}

func readImages(r io.Reader) (*idxImages, error) {
	dims, err := readHeader(r, imageMagic, 3)
	if err != nil {
		return nil, err
	}
	im := &idxImages{count: dims[0], rows: dims[1], cols: dims[2]}
	if im.rows == 0 || im.cols == 0 {
		return nil, fmt.Errorf("empty image size %dx%d", im.rows, im.cols)
	}
	// Each factor fits in 32 bits, so checking the image size first keeps
	// the product from overflowing.
	size := uint64(im.rows) * uint64(im.cols)
	if size > maxIDXBytes || uint64(im.count)*size > maxIDXBytes {
		return nil, fmt.Errorf("%d images of %dx%d exceed %d bytes", im.count, im.rows, im.cols, maxIDXBytes)
	}
	if im.pixels, err = readPayload(r, uint64(im.count)*size); err != nil {
		return nil, fmt.Errorf("reading %d images: %w", im.count, err)
	}
	return im, nil
}

func readLabels(r io.Reader) ([]byte, error) {
	dims, err := readHeader(r, labelMagic, 1)
	if err != nil {
		return nil, err
	}
	if dims[0] > maxIDXBytes {
		return nil, fmt.Errorf("%d labels exceed %d bytes", dims[0], maxIDXBytes)
	}
	labels, err := readPayload(r, uint64(dims[0]))
	if err != nil {
		return nil, fmt.Errorf("reading %d labels: %w", dims[0], err)
	}
	return labels, nil
}

// readPayload reads exactly n bytes. The buffer grows with the data actually
// read, so a header overstating n costs no more than the file holds.
func readPayload(r io.Reader, n uint64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if uint64(len(buf)) < n {
		return nil, fmt.Errorf("got %d of %d bytes: %w", len(buf), n, io.ErrUnexpectedEOF)
	}
	return buf, nil
}

// openIDX opens path, or path.gz when only the compressed file exists.
func openIDX(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err == nil {
		return struct {
			io.Reader
			io.Closer
		}{bufio.NewReader(f), f}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	gz, gzErr := os.Open(path + ".gz")
	if gzErr != nil {
		if errors.Is(gzErr, fs.ErrNotExist) {
			return nil, err
		}
		return nil, gzErr
	}
	zr, err := gzip.NewReader(bufio.NewReader(gz))
	if err != nil {
		gz.Close()
		return nil, fmt.Errorf("%s.gz: %w", path, err)
	}
	return gzipFile{zr, gz}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}

func loadImages(path string) (*idxImages, error) {
	rc, err := openIDX(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	im, err := readImages(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return im, nil
}

func loadLabels(path string) ([]byte, error) {
	rc, err := openIDX(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	labels, err := readLabels(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return labels, nil
}
