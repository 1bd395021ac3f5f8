package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// LZ4 block framing: one marker byte, then for compressed blocks the
// uncompressed length as uint32 little-endian followed by the block. Data
// the block compressor cannot shrink is stored raw.
const (
	lz4Stored     = 0x00
	lz4Compressed = 0x01
)

var lz4Compressors = sync.Pool{
	New: func() any { return &lz4.Compressor{} },
}

// LZ4 is the default codec for cache entries: decompression is nearly free,
// which matters on the hot image-serving path.
type LZ4 struct{}

func (LZ4) Name() string { return "lz4" }

func (LZ4) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, 5+lz4.CompressBlockBound(len(data)))
	dst[0] = lz4Compressed
	binary.LittleEndian.PutUint32(dst[1:5], uint32(len(data)))

	c := lz4Compressors.Get().(*lz4.Compressor)
	n, err := c.CompressBlock(data, dst[5:])
	lz4Compressors.Put(c)
	if err != nil {
		return nil, fmt.Errorf("failed to compress lz4 block: %w", err)
	}
	if n == 0 || n >= len(data) {
		// Incompressible, store raw.
		out := make([]byte, 1+len(data))
		out[0] = lz4Stored
		copy(out[1:], data)
		return out, nil
	}
	return dst[:5+n], nil
}

func (LZ4) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] {
	case lz4Stored:
		out := make([]byte, len(data)-1)
		copy(out, data[1:])
		return out, nil
	case lz4Compressed:
		if len(data) < 5 {
			return nil, fmt.Errorf("lz4 block truncated: %d bytes", len(data))
		}
		size := binary.LittleEndian.Uint32(data[1:5])
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data[5:], out)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress lz4 block: %w", err)
		}
		if n != int(size) {
			return nil, fmt.Errorf("lz4 block decompressed to %d bytes, header says %d", n, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown lz4 block marker 0x%02x", data[0])
	}
}
