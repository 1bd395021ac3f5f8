package mzindex

import "math"

// AveragedSpectrum is the all-pixel average of a slice together with its 1-D
// lookup table. The lookup has one row per native m/z unit, so boundary
// queries refine a coarse table hit with a scan of at most one unit's worth
// of entries.
type AveragedSpectrum struct {
	Mz        []float32
	Intensity []float32
	Lookup    []int32
}

// NewAveragedSpectrum wraps an averaged spectrum and builds its lookup table
// over the domain [0, size).
func NewAveragedSpectrum(mz, intensity []float32, size int) *AveragedSpectrum {
	return &AveragedSpectrum{
		Mz:        mz,
		Intensity: intensity,
		Lookup:    BuildAveragedLookup(mz, size),
	}
}

// Len returns the number of entries in the averaged spectrum.
func (a *AveragedSpectrum) Len() int { return len(a.Mz) }

// Boundaries returns the indices of the first entries with m/z >= lb and
// m/z >= hb. Bounds past the indexed domain saturate to the last entry, so
// the result is always a valid (possibly empty) range for a non-empty
// spectrum.
func (a *AveragedSpectrum) Boundaries(lb, hb float64) (int, int) {
	return a.refine(lb), a.refine(hb)
}

// Window returns the averaged spectrum between lb and hb, including the
// first entry at or past hb so a plot of the window has a right anchor. The
// returned slices share the spectrum's backing storage.
func (a *AveragedSpectrum) Window(lb, hb float64) (mz, intensity []float32) {
	lo, hi := a.Boundaries(lb, hb)
	if hi < len(a.Mz) {
		hi++
	}
	return a.Mz[lo:hi], a.Intensity[lo:hi]
}

// refine turns the coarse lookup hit for v into the exact first index with
// m/z >= v. The scan is bounded by the next lookup row, so it covers at most
// one native unit of entries; if v is past the data it settles on the last
// index scanned.
func (a *AveragedSpectrum) refine(v float64) int {
	if len(a.Mz) == 0 {
		return 0
	}
	i := int(a.Lookup[a.clampRow(int(v))])
	last := int(a.Lookup[a.clampRow(int(math.Ceil(v)))])
	for i < last && float64(a.Mz[i]) < v {
		i++
	}
	return i
}

func (a *AveragedSpectrum) clampRow(k int) int {
	if k < 0 {
		return 0
	}
	if k >= len(a.Lookup) {
		return len(a.Lookup) - 1
	}
	return k
}
