//go:build !unix

package bundle

import "os"

// mappedFile holds a whole-file read on platforms without mmap support.
// Same interface, no page-cache sharing.
type mappedFile struct {
	data []byte
}

func mapFile(path string) (*mappedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &mappedFile{data: data}, nil
}

func (m *mappedFile) close() {
	m.data = nil
}
