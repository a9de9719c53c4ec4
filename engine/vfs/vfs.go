package vfs

import (
	"errors"
)

var (
	ErrEmptyFile     = errors.New("file is empty")
	ErrMappingClosed = errors.New("mapping already closed")
)

/**
 * @brief A file that can be mapped for reading. Implementations must allow
 * concurrent Map calls; each returned Mapping is owned by the caller.
 */
type File interface {
	Name() string
	Size() uint64
	Map() (*Mapping, error)
}

/** @brief A read-only view of a whole file. */
type Mapping struct {
	data    []byte
	release func() error
}

func newMapping(data []byte, release func() error) *Mapping {
	return &Mapping{data: data, release: release}
}

// Data returns the mapped bytes. The slice must not be written to and must not
// be retained after Close.
func (m *Mapping) Data() []byte {
	return m.data
}

func (m *Mapping) Size() uint64 {
	return uint64(len(m.data))
}

func (m *Mapping) Close() error {
	if m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.data = nil
	return err
}
