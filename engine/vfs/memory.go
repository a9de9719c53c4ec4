package vfs

// MemoryFile serves a byte slice. The slice is shared with every mapping.
type MemoryFile struct {
	name string
	data []byte
}

func NewMemoryFile(name string, data []byte) *MemoryFile {
	return &MemoryFile{name: name, data: data}
}

func (f *MemoryFile) Name() string {
	return f.name
}

func (f *MemoryFile) Size() uint64 {
	return uint64(len(f.data))
}

func (f *MemoryFile) Map() (*Mapping, error) {
	if len(f.data) == 0 {
		return nil, ErrEmptyFile
	}
	return newMapping(f.data, nil), nil
}
