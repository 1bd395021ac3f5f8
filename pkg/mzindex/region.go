package mzindex

import (
	"fmt"
	"sort"
)

// RowSpan is one horizontal run of selected pixels: columns Col0 through
// Col1 inclusive on image row Row. Arbitrary regions are expressed as one
// span per row (or several, for non-convex outlines).
type RowSpan struct {
	Row  int
	Col0 int
	Col1 int
}

// DefaultRegionResolution is the merge resolution for region spectra. Finer
// than about 1e-4 the float32 m/z values cannot keep buckets apart.
const DefaultRegionResolution = 1e-4

// RegionSpectrum sums the spectra of all pixels covered by spans into a
// single spectrum, merged onto a grid of the given resolution (0 means
// DefaultRegionResolution). Pixels on a row are contiguous in the spectrum
// array, so each span contributes one block copy; empty pixels at span edges
// shrink the block. Returns nil slices when the region holds no data.
func (s *Slice) RegionSpectrum(spans []RowSpan, resolution float64) (mz, intensity []float32, err error) {
	if resolution <= 0 {
		resolution = DefaultRegionResolution
	}

	total := 0
	ranges := make([][2]int32, 0, len(spans))
	for _, sp := range spans {
		if sp.Row < 0 || sp.Row >= s.Height || sp.Col0 < 0 || sp.Col1 >= s.Width || sp.Col0 > sp.Col1 {
			return nil, nil, fmt.Errorf("span (row %d, cols %d-%d) outside image (%d, %d)",
				sp.Row, sp.Col0, sp.Col1, s.Height, s.Width)
		}
		lo, hi, ok := s.spanRange(sp)
		if !ok {
			continue
		}
		total += int(hi-lo) + 1
		ranges = append(ranges, [2]int32{lo, hi})
	}
	if total == 0 {
		return nil, nil, nil
	}

	mz = make([]float32, 0, total)
	intensity = make([]float32, 0, total)
	for _, r := range ranges {
		mz = append(mz, s.Mz[r[0]:r[1]+1]...)
		intensity = append(intensity, s.Intensity[r[0]:r[1]+1]...)
	}

	SortByMz(mz, intensity)
	mz, intensity = Reduce(mz, intensity, resolution, MergeSum)
	return mz, intensity, nil
}

// SortByMz sorts parallel m/z and intensity slices in place by ascending
// m/z, keeping pairs together.
func SortByMz(mz, intensity []float32) {
	sort.Sort(&byMz{mz, intensity})
}

// spanRange maps a span onto its contiguous spectrum-array range, trimming
// empty pixels off both ends. ok is false when every pixel in the span is
// empty.
func (s *Slice) spanRange(sp RowSpan) (lo, hi int32, ok bool) {
	first := sp.Row*s.Width + sp.Col0
	last := sp.Row*s.Width + sp.Col1
	for first <= last {
		if start, _, nonEmpty := s.Pixels.Range(first); nonEmpty {
			lo = start
			break
		}
		first++
	}
	if first > last {
		return 0, 0, false
	}
	for {
		if _, end, nonEmpty := s.Pixels.Range(last); nonEmpty {
			hi = end
			break
		}
		last--
	}
	return lo, hi, true
}

// byMz sorts a pair of parallel m/z and intensity slices by ascending m/z.
type byMz struct {
	mz        []float32
	intensity []float32
}

func (b *byMz) Len() int           { return len(b.mz) }
func (b *byMz) Less(i, j int) bool { return b.mz[i] < b.mz[j] }
func (b *byMz) Swap(i, j int) {
	b.mz[i], b.mz[j] = b.mz[j], b.mz[i]
	b.intensity[i], b.intensity[j] = b.intensity[j], b.intensity[i]
}
