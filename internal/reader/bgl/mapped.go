package bgl

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mappedFile is a read-only memory mapping of one BGL file
type mappedFile struct {
	file *os.File
	data mmap.MMap
	size int64
}

// openMapped maps path read-only. Empty files cannot be mapped and are
// returned with a nil mapping.
func openMapped(path string) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	size := info.Size()
	if size == 0 {
		return &mappedFile{file: f}, nil
	}

	// Memory map the file read-only
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}

	return &mappedFile{file: f, data: data, size: size}, nil
}

// Bytes returns the mapped content; it is invalid after Close
func (m *mappedFile) Bytes() []byte { return m.data }

// Close unmaps and closes the file
func (m *mappedFile) Close() error {
	var firstErr error
	if m.data != nil {
		if err := m.data.Unmap(); err != nil {
			firstErr = err
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.file = nil
	}
	return firstErr
}
