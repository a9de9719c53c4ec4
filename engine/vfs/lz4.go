package vfs

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4"
)

const LZ4Suffix = ".lz4"

// LZ4File is a file stored as an LZ4 frame. Size reports the compressed size,
// which is what the asset manager uses as a first cost estimate.
type LZ4File struct {
	path string
}

func (f *LZ4File) Name() string {
	return f.path
}

func (f *LZ4File) Size() uint64 {
	st, err := os.Stat(f.path)
	if err != nil {
		return 0
	}
	return uint64(st.Size())
}

func (f *LZ4File) Map() (*Mapping, error) {
	fd, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	data, err := Decompress(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress '%s': %w", f.path, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	return newMapping(data, nil), nil
}

// Compress writes src as a single LZ4 frame.
func Compress(w io.Writer, src []byte) error {
	zw := lz4.NewWriter(w)
	if _, err := zw.Write(src); err != nil {
		return err
	}
	return zw.Close()
}

// Decompress reads a whole LZ4 frame.
func Decompress(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	if _, err := io.Copy(&out, lz4.NewReader(r)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
