// Package mzindex implements the spectral index of a MALDI imaging
// acquisition: per-pixel sparse spectra, the bucketed lookup tables built
// over them, and the range-query algorithm that turns an m/z window into a
// per-pixel intensity image.
//
// All types are read-only views over flat backing arrays. Once built, every
// query is a pure read with no shared mutable state, so a Slice may be
// queried from any number of goroutines concurrently.
package mzindex

// EmptyPixel marks a pixel with no recorded peaks in a PixelTable and in
// IndexLookup columns.
const EmptyPixel = -1

// DefaultSizeSpectrum is the upper bound of the indexed m/z domain.
// Acquisitions record peaks well inside it (typically 200-1800).
const DefaultSizeSpectrum = 2000

// Spectra holds the concatenated peak list of one slice as two parallel
// columns: m/z and intensity. Entries are ordered by pixel, then by
// ascending m/z within each pixel.
type Spectra struct {
	Mz        []float32
	Intensity []float32
}

// Len returns the number of peaks.
func (sp Spectra) Len() int { return len(sp.Mz) }

// PixelTable delimits each pixel's sub-range of the spectrum columns as
// flat (start, end) pairs, end inclusive. A start of EmptyPixel means the
// pixel recorded no peaks; its end is undefined.
type PixelTable []int32

// NumPixels returns the number of pixels described by the table.
func (t PixelTable) NumPixels() int { return len(t) / 2 }

// Range returns the inclusive index range of pixel p's peaks.
// ok is false for empty pixels.
//
// p is not validated against the table bounds; staying within
// [0, NumPixels()) is the caller's contract.
func (t PixelTable) Range(p int) (start, end int32, ok bool) {
	start = t[2*p]
	if start == EmptyPixel {
		return 0, 0, false
	}
	return start, t[2*p+1], true
}

// Slice bundles everything needed to answer range queries against one
// slice: the spectrum columns, the pixel table, the two lookup tables and
// the geometry they were built for. The backing arrays are borrowed, not
// owned; a Slice is a plain value and cheap to copy.
type Slice struct {
	Spectra
	Pixels     PixelTable
	Lookup     *IndexLookup
	Cumulative *CumulativeImage

	Height, Width int
	Divider       float64
}

// NumPixels returns Height*Width.
func (s Slice) NumPixels() int { return s.Height * s.Width }

type selectionKind uint8

const (
	selectAll selectionKind = iota
	selectPixel
	selectWindow
)

// Selection names a sub-range of a slice's spectrum columns: everything,
// one pixel's range, or all peaks inside an m/z window. It replaces the
// original interface's overloaded lb/hb-or-index call signatures with a
// variant resolved once per call.
type Selection struct {
	kind   selectionKind
	pixel  int
	lb, hb float64
}

// SelectAll selects the whole spectrum array.
func SelectAll() Selection { return Selection{kind: selectAll} }

// SelectPixel selects one pixel's peaks.
func SelectPixel(p int) Selection { return Selection{kind: selectPixel, pixel: p} }

// SelectWindow selects all peaks with m/z in [lb, hb], across all pixels.
func SelectWindow(lb, hb float64) Selection {
	return Selection{kind: selectWindow, lb: lb, hb: hb}
}

// Extract resolves a Selection into zero-copy views of the spectrum
// columns. The returned slices alias the backing arrays and must not be
// retained past the life of the underlying mapping.
func (s Slice) Extract(sel Selection) (mz, intensity []float32) {
	switch sel.kind {
	case selectPixel:
		start, end, ok := s.Pixels.Range(sel.pixel)
		if !ok {
			return nil, nil
		}
		return s.Mz[start : end+1], s.Intensity[start : end+1]
	case selectWindow:
		lo := searchMz(s.Mz, float32(sel.lb))
		hi := searchMz(s.Mz, float32(sel.hb))
		for hi < len(s.Mz) && float64(s.Mz[hi]) <= sel.hb {
			hi++
		}
		return s.Mz[lo:hi], s.Intensity[lo:hi]
	default:
		return s.Mz, s.Intensity
	}
}

// searchMz returns the first index with mz[i] >= v. The window form of
// Extract is only meaningful on globally m/z-sorted columns (the averaged
// spectrum, or single-pixel slices); per-pixel ordered columns should go
// through the lookup tables instead.
func searchMz(mz []float32, v float32) int {
	lo, hi := 0, len(mz)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if mz[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
