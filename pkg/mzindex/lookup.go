package mzindex

import (
	"context"
	"fmt"
	"math"
)

// DefaultDivider is the bucket width, in native m/z units, used for lookup
// tables when no other value is configured.
const DefaultDivider = 1.0

// cancelCheckInterval is how many pixels a builder processes between
// context checks. Builds over a full slice take seconds to minutes.
const cancelCheckInterval = 256

// BuildParams describes the geometry of the lookup tables derived from one
// slice: the indexed m/z domain [0, SizeSpectrum), the bucket width, and the
// image shape the pixel indices map onto.
type BuildParams struct {
	SizeSpectrum int
	Divider      float64
	Height       int
	Width        int
}

// Buckets returns the number of lookup rows, SizeSpectrum/Divider.
func (p BuildParams) Buckets() int {
	return int(float64(p.SizeSpectrum) / p.Divider)
}

// Validate checks that the parameters describe a usable table geometry.
func (p BuildParams) Validate() error {
	if p.SizeSpectrum <= 0 {
		return fmt.Errorf("invalid size_spectrum %d: must be positive", p.SizeSpectrum)
	}
	if p.Divider <= 0 || math.IsNaN(p.Divider) {
		return fmt.Errorf("invalid divider %v: must be positive", p.Divider)
	}
	if p.Buckets() < 2 {
		return fmt.Errorf("invalid divider %v: yields %d buckets, need at least 2", p.Divider, p.Buckets())
	}
	if p.Height <= 0 || p.Width <= 0 {
		return fmt.Errorf("invalid image shape (%d, %d)", p.Height, p.Width)
	}
	return nil
}

// Bucket returns the lookup row that covers the m/z value v, clamped to the
// table domain. Out-of-domain windows therefore degrade to an empty or
// saturated lookup rather than an out-of-bounds access.
func (p BuildParams) Bucket(v float64) int {
	k := int(v / p.Divider)
	if k < 0 {
		return 0
	}
	if b := p.Buckets(); k >= b {
		return b - 1
	}
	return k
}

// BucketCeil is like Bucket but rounds up, used to find the first row at or
// past v when narrowing a scan from above.
func (p BuildParams) BucketCeil(v float64) int {
	k := int(math.Ceil(v / p.Divider))
	if k < 0 {
		return 0
	}
	if b := p.Buckets(); k >= b {
		return b - 1
	}
	return k
}

// IndexLookup maps (bucket, pixel) to the first spectrum-array index i inside
// the pixel's range with mz[i] >= bucket*divider. Once a pixel's data is
// exhausted the remaining rows repeat its last valid index, and every cell of
// an empty pixel's column holds EmptyPixel.
type IndexLookup struct {
	Buckets int
	Pixels  int
	Cells   []int32
}

// At returns the cell for (bucket, pixel). No bounds check; callers clamp
// buckets through BuildParams.Bucket.
func (t *IndexLookup) At(bucket, pixel int) int32 {
	return t.Cells[bucket*t.Pixels+pixel]
}

// CumulativeImage maps (bucket, y, x) to the intensity of pixel (y, x) summed
// over all its entries with mz < bucket*divider. Row 0 is all zeros and values
// are non-decreasing along the bucket axis.
type CumulativeImage struct {
	Buckets int
	Height  int
	Width   int
	Cells   []float32
}

// At returns the cell for (bucket, pixel), with pixel = y*Width + x.
func (t *CumulativeImage) At(bucket, pixel int) float32 {
	return t.Cells[bucket*t.Height*t.Width+pixel]
}

// Plane returns the (Height*Width)-long image slice for one bucket, backed by
// the table's storage.
func (t *CumulativeImage) Plane(bucket int) []float32 {
	n := t.Height * t.Width
	return t.Cells[bucket*n : (bucket+1)*n]
}

// BuildIndexLookup builds the per-pixel index lookup table for sp under the
// geometry p. Each pixel is walked once with a cursor: row 0 holds the pixel's
// start index, then each later row holds the first index whose m/z reaches
// that row's bucket edge. Exhausted pixels saturate with their last index.
func BuildIndexLookup(ctx context.Context, sp Spectra, pixels PixelTable, p BuildParams) (*IndexLookup, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	buckets := p.Buckets()
	np := pixels.NumPixels()
	t := &IndexLookup{
		Buckets: buckets,
		Pixels:  np,
		Cells:   make([]int32, buckets*np),
	}
	for pix := 0; pix < np; pix++ {
		if pix%cancelCheckInterval == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		start, end, ok := pixels.Range(pix)
		t.Cells[pix] = start
		if !ok {
			for k := 1; k < buckets; k++ {
				t.Cells[k*np+pix] = EmptyPixel
			}
			continue
		}
		j := start
		for k := 0; k < buckets-1; k++ {
			edge := float64(k+1) * p.Divider
			for j <= end && float64(sp.Mz[j]) < edge {
				j++
			}
			if j <= end {
				t.Cells[(k+1)*np+pix] = j
				continue
			}
			// Pixel exhausted before the domain: repeat its last index.
			for i := k + 1; i < buckets; i++ {
				t.Cells[i*np+pix] = j - 1
			}
			break
		}
	}
	return t, nil
}

// BuildCumulativeImage builds the cumulative intensity table for sp under the
// geometry p. The cursor walk mirrors BuildIndexLookup, but instead of
// recording indices it accumulates intensity per bucket band and writes the
// running total into the next row, so cell [k] sums everything strictly below
// k*divider. Empty pixels stay zero.
func BuildCumulativeImage(ctx context.Context, sp Spectra, pixels PixelTable, p BuildParams) (*CumulativeImage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	np := pixels.NumPixels()
	if np != p.Height*p.Width {
		return nil, fmt.Errorf("pixel table has %d pixels, image shape (%d, %d) wants %d",
			np, p.Height, p.Width, p.Height*p.Width)
	}
	buckets := p.Buckets()
	t := &CumulativeImage{
		Buckets: buckets,
		Height:  p.Height,
		Width:   p.Width,
		Cells:   make([]float32, buckets*np),
	}
	for pix := 0; pix < np; pix++ {
		if pix%cancelCheckInterval == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		start, end, ok := pixels.Range(pix)
		if !ok {
			continue
		}
		j := start
		total := 0.0
		for k := 0; k < buckets-1; k++ {
			lo := float64(k) * p.Divider
			hi := float64(k+1) * p.Divider
			for j <= end && float64(sp.Mz[j]) >= lo && float64(sp.Mz[j]) < hi {
				total += float64(sp.Intensity[j])
				j++
			}
			if j <= end {
				t.Cells[(k+1)*np+pix] = float32(total)
				continue
			}
			for i := k + 1; i < buckets; i++ {
				t.Cells[i*np+pix] = float32(total)
			}
			break
		}
	}
	return t, nil
}

// BuildAveragedLookup builds the 1-D lookup for an averaged spectrum: cell
// [k] holds the first index in mz with value >= k. Bucket width is fixed at
// one native unit, so the table has size rows. The same saturating fill as
// the per-pixel table applies once mz runs out.
func BuildAveragedLookup(mz []float32, size int) []int32 {
	t := make([]int32, size)
	if size == 0 {
		return t
	}
	t[0] = 0
	j := 0
	for k := 0; k < size-1; k++ {
		for j < len(mz) && float64(mz[j]) < float64(k+1) {
			j++
		}
		if j < len(mz) {
			t[k+1] = int32(j)
			continue
		}
		for i := k + 1; i < size; i++ {
			t[i] = int32(j - 1)
		}
		break
	}
	return t
}
