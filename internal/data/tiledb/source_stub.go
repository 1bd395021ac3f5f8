//go:build !tiledb

package tiledb

import (
	"context"
	"fmt"
	"os"
)

// Source is a stub when built without "-tags tiledb".
type Source struct {
	arrayURI string
}

// NewSource creates an acquisition source (stub). It still resolves and
// validates the array path, so config issues can be caught early, but all
// read methods return ErrUnsupported.
func NewSource(path string) (*Source, error) {
	uri, err := ResolveArrayURI(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("tiledb array not found at %s: %w", uri, statErr)
	}
	return &Source{arrayURI: uri}, nil
}

func (s *Source) Supported() bool { return false }

func (s *Source) ArrayURI() string { return s.arrayURI }

func (s *Source) Close() error { return nil }

// Shape returns the image height and width of the acquisition.
func (s *Source) Shape() (height, width int, err error) {
	return 0, 0, ErrUnsupported
}

// ReadSpectra streams per-pixel peak lists in row-major pixel order. Each
// pixel's mz values arrive ascending.
func (s *Source) ReadSpectra(ctx context.Context, fn func(row, col int, mz, intensity []float32) error) error {
	return ErrUnsupported
}
