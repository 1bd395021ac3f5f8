package mzindex

import "math"

// MergePolicy selects how entries falling into the same resolution bucket
// are merged by Reduce.
type MergePolicy uint8

const (
	// MergeMax keeps the largest intensity in each bucket. Display-oriented:
	// peak heights survive downsampling.
	MergeMax MergePolicy = iota
	// MergeSum accumulates intensities in each bucket. Physical: total
	// signal is conserved, used when aggregating many pixels' spectra.
	MergeSum
)

// Reduce collapses a spectrum sorted by ascending m/z onto a grid of the
// given resolution. Entries whose floor(mz/resolution)*resolution agree are
// merged under the policy; the bucket's m/z is that quantized value.
//
// Single linear pass, no sort. Input must already be sorted ascending by
// m/z; unsorted input silently produces wrong bucket boundaries.
func Reduce(mz, intensity []float32, resolution float64, policy MergePolicy) ([]float32, []float32) {
	if len(mz) == 0 {
		return nil, nil
	}

	outMz := make([]float32, 0, len(mz))
	outIntensity := make([]float32, 0, len(mz))

	bucket := quantize(mz[0], resolution)
	acc := intensity[0]
	for i := 1; i < len(mz); i++ {
		b := quantize(mz[i], resolution)
		if b == bucket {
			if policy == MergeSum {
				acc += intensity[i]
			} else if intensity[i] > acc {
				acc = intensity[i]
			}
			continue
		}
		outMz = append(outMz, float32(bucket))
		outIntensity = append(outIntensity, acc)
		bucket = b
		acc = intensity[i]
	}
	outMz = append(outMz, float32(bucket))
	outIntensity = append(outIntensity, acc)

	return outMz, outIntensity
}

func quantize(mz float32, resolution float64) float64 {
	return math.Floor(float64(mz)/resolution) * resolution
}

// NormalizeTotal scales intensity in place so it sums to one, turning a
// summed spectrum into a distribution comparable across slices. A zero or
// non-finite total leaves the input untouched.
func NormalizeTotal(intensity []float32) {
	total := 0.0
	for _, v := range intensity {
		total += float64(v)
	}
	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		return
	}
	for i := range intensity {
		intensity[i] = float32(float64(intensity[i]) / total)
	}
}

// StripZeros drops zero-intensity samples, returning compact copies.
// Inverse of PadZeros for spectra that carry explicit zero padding.
func StripZeros(mz, intensity []float32) ([]float32, []float32) {
	outMz := make([]float32, 0, len(mz))
	outIntensity := make([]float32, 0, len(mz))
	for i, v := range intensity {
		if v == 0 {
			continue
		}
		outMz = append(outMz, mz[i])
		outIntensity = append(outIntensity, v)
	}
	return outMz, outIntensity
}

// Zero-padding constants: a gap wider than PadGap between consecutive
// samples is treated as a flat region, and zero samples are inserted
// PadOffset inside each edge of the gap so plots drop to the baseline
// instead of interpolating across it. The 1-D averaged lookup is built
// over padded arrays so its buckets cover flat regions too.
const (
	PadGap    = 2e-4
	PadOffset = 1e-5
)

// PadZeros inserts a pair of zero-intensity samples into every gap of at
// least minGap between consecutive entries of a spectrum sorted by
// ascending m/z: one pad inside the right edge of the left peak, one
// inside the left edge of the right peak. minGap and pad default to PadGap
// and PadOffset when zero or negative.
func PadZeros(mz, intensity []float32, minGap, pad float64) ([]float32, []float32) {
	if minGap <= 0 {
		minGap = PadGap
	}
	if pad <= 0 {
		pad = PadOffset
	}
	if len(mz) == 0 {
		return nil, nil
	}

	outMz := make([]float32, 0, 3*len(mz))
	outIntensity := make([]float32, 0, 3*len(mz))

	for i := 0; i < len(mz); i++ {
		outMz = append(outMz, mz[i])
		outIntensity = append(outIntensity, intensity[i])

		if i+1 >= len(mz) || float64(mz[i+1])-float64(mz[i]) < minGap {
			continue
		}
		outMz = append(outMz,
			float32(float64(mz[i])+pad),
			float32(float64(mz[i+1])-pad))
		outIntensity = append(outIntensity, 0, 0)
	}

	return outMz, outIntensity
}

// ToDenseGrid rasterizes a sparse spectrum window onto a fixed grid
// spanning [lb, hb] at the given resolution. Each input entry is added to
// its nearest grid cell; entries rounding to a cell outside the grid are
// dropped. Returns the grid's m/z axis and the accumulated intensities.
func ToDenseGrid(mz, intensity []float32, lb, hb, resolution float64) ([]float32, []float32) {
	if hb < lb || resolution <= 0 {
		return nil, nil
	}
	n := int(math.Round((hb-lb)/resolution)) + 1
	gridMz := make([]float32, n)
	gridIntensity := make([]float32, n)
	for i := range gridMz {
		gridMz[i] = float32(lb + float64(i)*resolution)
	}
	for i, v := range mz {
		k := int(math.Round((float64(v) - lb) / resolution))
		if k < 0 || k >= n {
			continue
		}
		gridIntensity[k] += intensity[i]
	}
	return gridMz, gridIntensity
}
