package vfs

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// OSFile maps a file on disk. Files ending in .lz4 are transparently
// decompressed into memory instead of being mapped.
type OSFile struct {
	path string
}

func Open(path string) (File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("'%s' is a directory", path)
	}
	if strings.HasSuffix(path, LZ4Suffix) {
		return &LZ4File{path: path}, nil
	}
	return &OSFile{path: path}, nil
}

func (f *OSFile) Name() string {
	return f.path
}

func (f *OSFile) Size() uint64 {
	st, err := os.Stat(f.path)
	if err != nil {
		return 0
	}
	return uint64(st.Size())
}

func (f *OSFile) Map() (*Mapping, error) {
	fd, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	st, err := fd.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return nil, ErrEmptyFile
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map '%s': %w", f.path, err)
	}
	return newMapping(data, func() error {
		return unix.Munmap(data)
	}), nil
}
