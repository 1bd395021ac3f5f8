// Package codec compresses cache entries and the cold index arrays that are
// loaded whole at startup rather than memory-mapped.
package codec

import "fmt"

// Codec is a symmetric compressor. Implementations are safe for concurrent
// use. Returned buffers may alias the input (the passthrough codec does), so
// callers treat both as read-only.
type Codec interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// New returns the codec registered under name: "zstd", "lz4" or "none".
func New(name string) (Codec, error) {
	switch name {
	case "zstd":
		return Zstd{}, nil
	case "lz4":
		return LZ4{}, nil
	case "none", "":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// None passes data through untouched.
type None struct{}

func (None) Name() string { return "none" }

func (None) Compress(data []byte) ([]byte, error) { return data, nil }

func (None) Decompress(data []byte) ([]byte, error) { return data, nil }
