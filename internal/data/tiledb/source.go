// Package tiledb provides read-only access to a raw MALDI acquisition
// stored as a TileDB sparse array.
//
// The expected schema is small: dimensions row (int32), col (int32) and
// mz (float32), with a single float32 attribute named "intensity". One
// cell per detected peak. This is the layout our imzML converter writes.
package tiledb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported indicates this binary was built without TileDB support.
var ErrUnsupported = errors.New("tiledb support is not enabled in this build (build with: go build -tags tiledb)")

// Attribute and dimension names of the acquisition array.
const (
	dimRow        = "row"
	dimCol        = "col"
	dimMz         = "mz"
	attrIntensity = "intensity"
)

// ResolveArrayURI accepts either:
//   - /path/to/.../acquisition.tiledb
//   - /path/to/.../raw  (parent directory)
//
// and returns the array path.
func ResolveArrayURI(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", errors.New("empty tiledb array path")
	}
	p = os.ExpandEnv(p)
	p = filepath.Clean(p)

	if strings.HasSuffix(p, ".tiledb") {
		return p, nil
	}
	return filepath.Join(p, "acquisition.tiledb"), nil
}

// SliceArrayURI returns the array path for one slice of a dataset. A root
// that is itself an array (ends in .tiledb) holds a single slice and is
// returned as-is; otherwise the root is a directory of per-slice arrays.
func SliceArrayURI(root string, slice int) (string, error) {
	p := strings.TrimSpace(root)
	if p == "" {
		return "", errors.New("empty tiledb array path")
	}
	p = os.ExpandEnv(p)
	p = filepath.Clean(p)

	if strings.HasSuffix(p, ".tiledb") {
		return p, nil
	}
	return filepath.Join(p, fmt.Sprintf("slice_%03d.tiledb", slice)), nil
}
