//go:build tiledb

package tiledb

import (
	"context"
	"fmt"
	"os"

	tdb "github.com/TileDB-Inc/TileDB-Go"
)

// Source reads a raw acquisition from a TileDB sparse array.
type Source struct {
	arrayURI string
	ctx      *tdb.Context
}

func NewSource(path string) (*Source, error) {
	uri, err := ResolveArrayURI(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("tiledb array not found at %s: %w", uri, statErr)
	}

	tctx, err := tdb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}
	return &Source{arrayURI: uri, ctx: tctx}, nil
}

func (s *Source) Supported() bool { return true }

func (s *Source) ArrayURI() string { return s.arrayURI }

func (s *Source) Close() error {
	if s.ctx != nil {
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}

// Shape returns the image height and width of the acquisition, derived
// from the non-empty domain of the row and col dimensions.
func (s *Source) Shape() (height, width int, err error) {
	arr, err := tdb.NewArray(s.ctx, s.arrayURI)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open acquisition array: %w", err)
	}
	defer arr.Free()
	if err := arr.Open(tdb.TILEDB_READ); err != nil {
		return 0, 0, fmt.Errorf("failed to open acquisition array for read: %w", err)
	}
	defer arr.Close()

	_, _, maxRow, err := dimBoundsInt32(arr, dimRow)
	if err != nil {
		return 0, 0, err
	}
	empty, _, maxCol, err := dimBoundsInt32(arr, dimCol)
	if err != nil {
		return 0, 0, err
	}
	if empty {
		return 0, 0, nil
	}
	return int(maxRow) + 1, int(maxCol) + 1, nil
}

// ReadSpectra streams per-pixel peak lists in row-major pixel order. Each
// pixel's mz values arrive ascending; the slices passed to fn are reused
// between calls. A non-nil error from fn aborts the scan.
func (s *Source) ReadSpectra(ctx context.Context, fn func(row, col int, mz, intensity []float32) error) error {
	arr, err := tdb.NewArray(s.ctx, s.arrayURI)
	if err != nil {
		return fmt.Errorf("failed to open acquisition array: %w", err)
	}
	defer arr.Free()
	if err := arr.Open(tdb.TILEDB_READ); err != nil {
		return fmt.Errorf("failed to open acquisition array for read: %w", err)
	}
	defer arr.Close()

	empty, minRow, maxRow, err := dimBoundsInt32(arr, dimRow)
	if err != nil {
		return err
	}
	if empty {
		return nil
	}
	_, minCol, maxCol, err := dimBoundsInt32(arr, dimCol)
	if err != nil {
		return err
	}
	minMz, maxMz, err := dimBoundsFloat32(arr, dimMz)
	if err != nil {
		return err
	}

	sub, err := arr.NewSubarray()
	if err != nil {
		return fmt.Errorf("failed to create subarray: %w", err)
	}
	defer sub.Free()
	if err := sub.AddRangeByName(dimRow, tdb.MakeRange[int32](minRow, maxRow)); err != nil {
		return fmt.Errorf("failed to add row range: %w", err)
	}
	if err := sub.AddRangeByName(dimCol, tdb.MakeRange[int32](minCol, maxCol)); err != nil {
		return fmt.Errorf("failed to add col range: %w", err)
	}
	if err := sub.AddRangeByName(dimMz, tdb.MakeRange[float32](minMz, maxMz)); err != nil {
		return fmt.Errorf("failed to add mz range: %w", err)
	}

	q, err := tdb.NewQuery(s.ctx, arr)
	if err != nil {
		return fmt.Errorf("failed to create query: %w", err)
	}
	defer q.Free()
	if err := q.SetSubarray(sub); err != nil {
		return fmt.Errorf("failed to set subarray: %w", err)
	}
	// Row-major sorts results by (row, col, mz), so pixels arrive whole and
	// their peaks arrive in ascending mz.
	if err := q.SetLayout(tdb.TILEDB_ROW_MAJOR); err != nil {
		return fmt.Errorf("failed to set query layout: %w", err)
	}

	const bufEntries = 1 << 20
	outRow := make([]int32, bufEntries)
	outCol := make([]int32, bufEntries)
	outMz := make([]float32, bufEntries)
	outVal := make([]float32, bufEntries)

	curRow, curCol := int32(-1), int32(-1)
	var pixMz, pixVal []float32
	flush := func() error {
		if curRow < 0 || len(pixMz) == 0 {
			return nil
		}
		if err := fn(int(curRow), int(curCol), pixMz, pixVal); err != nil {
			return err
		}
		pixMz = pixMz[:0]
		pixVal = pixVal[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := q.SetDataBuffer(dimRow, outRow); err != nil {
			return fmt.Errorf("failed to set buffer %s: %w", dimRow, err)
		}
		if _, err := q.SetDataBuffer(dimCol, outCol); err != nil {
			return fmt.Errorf("failed to set buffer %s: %w", dimCol, err)
		}
		if _, err := q.SetDataBuffer(dimMz, outMz); err != nil {
			return fmt.Errorf("failed to set buffer %s: %w", dimMz, err)
		}
		if _, err := q.SetDataBuffer(attrIntensity, outVal); err != nil {
			return fmt.Errorf("failed to set buffer %s: %w", attrIntensity, err)
		}

		if err := q.Submit(); err != nil {
			return fmt.Errorf("query submit failed: %w", err)
		}
		status, err := q.Status()
		if err != nil {
			return fmt.Errorf("query status failed: %w", err)
		}
		elems, err := q.ResultBufferElements()
		if err != nil {
			return fmt.Errorf("failed to get result buffer elements: %w", err)
		}
		got := int(elems[attrIntensity][1])
		if got > len(outVal) {
			got = len(outVal)
		}
		if status == tdb.TILEDB_INCOMPLETE && got == 0 {
			return fmt.Errorf("query made no progress with %d-entry buffers", bufEntries)
		}

		for i := 0; i < got; i++ {
			if outRow[i] != curRow || outCol[i] != curCol {
				if err := flush(); err != nil {
					return err
				}
				curRow, curCol = outRow[i], outCol[i]
			}
			pixMz = append(pixMz, outMz[i])
			pixVal = append(pixVal, outVal[i])
		}

		if status == tdb.TILEDB_COMPLETED {
			return flush()
		}
		if status != tdb.TILEDB_INCOMPLETE {
			return fmt.Errorf("unexpected query status: %v", status)
		}
	}
}

func dimBoundsInt32(arr *tdb.Array, name string) (empty bool, min, max int32, err error) {
	ned, isEmpty, err := arr.NonEmptyDomainFromName(name)
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to get %s non-empty domain: %w", name, err)
	}
	if isEmpty || ned == nil {
		return true, 0, 0, nil
	}
	switch v := ned.Bounds.(type) {
	case []int32:
		if len(v) >= 2 {
			return false, v[0], v[1], nil
		}
	case []int64:
		if len(v) >= 2 {
			return false, int32(v[0]), int32(v[1]), nil
		}
	}
	return false, 0, 0, fmt.Errorf("unsupported bounds type for dimension %s", name)
}

func dimBoundsFloat32(arr *tdb.Array, name string) (min, max float32, err error) {
	ned, isEmpty, err := arr.NonEmptyDomainFromName(name)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get %s non-empty domain: %w", name, err)
	}
	if isEmpty || ned == nil {
		return 0, 0, nil
	}
	switch v := ned.Bounds.(type) {
	case []float32:
		if len(v) >= 2 {
			return v[0], v[1], nil
		}
	case []float64:
		if len(v) >= 2 {
			return float32(v[0]), float32(v[1]), nil
		}
	}
	return 0, 0, fmt.Errorf("unsupported bounds type for dimension %s", name)
}
