package mzindex

import "math"

// DefaultNarrowWindow is the window width, in native m/z units, below which
// Image scans spectra directly instead of going through the cumulative table.
// For small windows the correction passes cost as much as the scan itself.
const DefaultNarrowWindow = 5.0

// ImageOptions controls how Image computes a window query.
type ImageOptions struct {
	// NarrowWindow overrides DefaultNarrowWindow when positive.
	NarrowWindow float64
	// Normalize divides each pixel by its total spectrum intensity, turning
	// the image into the fraction of each pixel's signal inside the window.
	Normalize bool
}

// Image returns the per-pixel intensity summed over the m/z window [lb, hb],
// both bounds inclusive, as a Height*Width row-major plane. Windows narrower
// than the threshold scan each pixel's sub-range directly; wider windows take
// the cumulative-table difference and fix up the bucket boundaries. Windows
// outside the indexed domain yield zeros. Callers must ensure lb <= hb.
func (s *Slice) Image(lb, hb float64, opts ImageOptions) []float32 {
	narrow := opts.NarrowWindow
	if narrow <= 0 {
		narrow = DefaultNarrowWindow
	}
	var img []float32
	if hb-lb < narrow {
		img = s.imageNarrow(lb, hb)
	} else {
		img = s.imageWide(lb, hb)
	}
	if opts.Normalize {
		s.normalizeImage(img)
	}
	return img
}

// imageNarrow sums intensities pixel by pixel. The index lookup narrows the
// scan to the buckets overlapping the window, so at most one bucket width of
// extra entries is visited on each side.
func (s *Slice) imageNarrow(lb, hb float64) []float32 {
	np := s.Pixels.NumPixels()
	img := make([]float32, np)
	kLo := s.bucket(lb)
	kHi := s.bucketCeil(hb)
	// When hb is past the last bucket edge the ceil row clamps short of the
	// data, so the scan runs to the pixel end instead.
	pastTop := math.Ceil(hb/s.Divider) >= float64(s.Lookup.Buckets)
	for pix := 0; pix < np; pix++ {
		_, end, ok := s.Pixels.Range(pix)
		if !ok {
			continue
		}
		iLo := int(s.Lookup.At(kLo, pix))
		iHi := int(end)
		if !pastTop {
			iHi = int(s.Lookup.At(kHi, pix))
		}
		sum := 0.0
		for i := iLo; i <= iHi; i++ {
			m := float64(s.Mz[i])
			if m > hb {
				break
			}
			if m >= lb {
				sum += float64(s.Intensity[i])
			}
		}
		img[pix] = float32(sum)
	}
	return img
}

// imageWide starts from the cumulative-table difference, which is exact up to
// the bucket boundaries, then walks each pixel's entries near lb and hb to
// subtract what the approximation over-counted and add what it missed.
func (s *Slice) imageWide(lb, hb float64) []float32 {
	np := s.Pixels.NumPixels()
	img := make([]float32, np)
	kLo := s.bucket(lb)
	kHi := s.bucket(hb)
	edgeLo := float64(kLo) * s.Divider
	edgeHi := float64(kHi) * s.Divider
	for pix := 0; pix < np; pix++ {
		_, end, ok := s.Pixels.Range(pix)
		if !ok {
			continue
		}
		v := float64(s.Cumulative.At(kHi, pix)) - float64(s.Cumulative.At(kLo, pix))

		// Entries in [kLo*divider, lb) were counted and should not have been.
		// A saturated lookup points below the bucket edge, in which case the
		// pixel has nothing to correct here.
		i := int(s.Lookup.At(kLo, pix))
		for i <= int(end) && float64(s.Mz[i]) < lb {
			if float64(s.Mz[i]) < edgeLo {
				break
			}
			v -= float64(s.Intensity[i])
			i++
		}

		// Entries in [kHi*divider, hb] were missed and belong in the window.
		i = int(s.Lookup.At(kHi, pix))
		for i <= int(end) && float64(s.Mz[i]) <= hb {
			if float64(s.Mz[i]) < edgeHi {
				break
			}
			v += float64(s.Intensity[i])
			i++
		}
		img[pix] = float32(v)
	}
	return img
}

// TotalIntensity returns each pixel's total spectrum intensity, read from the
// highest bucket of the cumulative table. The result is a fresh copy.
func (s *Slice) TotalIntensity() []float32 {
	plane := s.Cumulative.Plane(s.Cumulative.Buckets - 1)
	out := make([]float32, len(plane))
	copy(out, plane)
	return out
}

func (s *Slice) normalizeImage(img []float32) {
	total := s.Cumulative.Plane(s.Cumulative.Buckets - 1)
	for i, t := range total {
		if t > 0 {
			img[i] /= t
		} else {
			img[i] = 0
		}
	}
}

// bucket returns the lookup row covering v, clamped to the table domain.
func (s *Slice) bucket(v float64) int {
	k := int(v / s.Divider)
	if k < 0 {
		return 0
	}
	if k >= s.Lookup.Buckets {
		return s.Lookup.Buckets - 1
	}
	return k
}

func (s *Slice) bucketCeil(v float64) int {
	k := int(math.Ceil(v / s.Divider))
	if k < 0 {
		return 0
	}
	if k >= s.Lookup.Buckets {
		return s.Lookup.Buckets - 1
	}
	return k
}
