package mzindex

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"testing"
)

// buildSlice assembles a queryable slice from raw arrays, failing the test
// on any builder error.
func buildSlice(t *testing.T, sp Spectra, pixels PixelTable, p BuildParams) *Slice {
	t.Helper()
	lookup, err := BuildIndexLookup(context.Background(), sp, pixels, p)
	if err != nil {
		t.Fatalf("BuildIndexLookup: %v", err)
	}
	cum, err := BuildCumulativeImage(context.Background(), sp, pixels, p)
	if err != nil {
		t.Fatalf("BuildCumulativeImage: %v", err)
	}
	return &Slice{
		Spectra:    sp,
		Pixels:     pixels,
		Lookup:     lookup,
		Cumulative: cum,
		Height:     p.Height,
		Width:      p.Width,
		Divider:    p.Divider,
	}
}

// twoPixelSlice is the reference acquisition: pixel 0 has three peaks
// around 400 m/z, pixel 1 holds no data.
func twoPixelSlice(t *testing.T) *Slice {
	t.Helper()
	sp := Spectra{
		Mz:        []float32{400.0, 400.5, 401.0},
		Intensity: []float32{1.0, 2.0, 3.0},
	}
	pixels := PixelTable{0, 2, -1, -1}
	p := BuildParams{SizeSpectrum: 410, Divider: 1, Height: 1, Width: 2}
	return buildSlice(t, sp, pixels, p)
}

// forceWide and forceNarrow pin the query to one code path so both can be
// checked against the same expectations.
var (
	forceWide   = ImageOptions{NarrowWindow: 1e-9}
	forceNarrow = ImageOptions{NarrowWindow: math.MaxFloat64}
)

func TestImageReference(t *testing.T) {
	s := twoPixelSlice(t)

	cases := []struct {
		name   string
		lb, hb float64
		want   []float32
	}{
		{"insideWindow", 400.2, 400.8, []float32{2, 0}},
		{"inclusiveBounds", 400.0, 401.0, []float32{6, 0}},
		{"outsideDomain", 500, 501, []float32{0, 0}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			for _, opts := range []ImageOptions{forceNarrow, forceWide} {
				got := s.Image(c.lb, c.hb, opts)
				if len(got) != len(c.want) {
					t.Fatalf("expected %d pixels, got %d", len(c.want), len(got))
				}
				for i := range c.want {
					if got[i] != c.want[i] {
						t.Errorf("pixel %d: got %v, want %v (narrow window %v)",
							i, got[i], c.want[i], opts.NarrowWindow)
					}
				}
			}
		})
	}
}

func TestImageAdditivity(t *testing.T) {
	s := twoPixelSlice(t)

	// Splitting a window at an existing peak counts that peak in both
	// halves: the halves sum to the whole plus the peak's intensity.
	whole := s.Image(400.0, 401.0, forceWide)
	left := s.Image(400.0, 400.5, forceNarrow)
	right := s.Image(400.5, 401.0, forceNarrow)

	if got := left[0] + right[0]; got != whole[0]+2.0 {
		t.Errorf("split sum = %v, want whole %v plus midpoint intensity 2", got, whole[0])
	}
	if left[1] != 0 || right[1] != 0 {
		t.Errorf("empty pixel picked up intensity: %v, %v", left[1], right[1])
	}
}

func TestImageNormalized(t *testing.T) {
	s := twoPixelSlice(t)

	got := s.Image(400.2, 400.8, ImageOptions{NarrowWindow: math.MaxFloat64, Normalize: true})
	want := float32(2) / float32(6)
	if got[0] != want {
		t.Errorf("normalized pixel 0 = %v, want %v", got[0], want)
	}
	// The empty pixel has zero total intensity and must stay zero rather
	// than turn into NaN.
	if got[1] != 0 {
		t.Errorf("normalized empty pixel = %v, want 0", got[1])
	}
}

func TestTotalIntensity(t *testing.T) {
	s := twoPixelSlice(t)
	total := s.TotalIntensity()
	if total[0] != 6 || total[1] != 0 {
		t.Errorf("totals = %v, want [6 0]", total)
	}

	// The copy must not alias the table.
	total[0] = 99
	if s.Cumulative.At(s.Cumulative.Buckets-1, 0) == 99 {
		t.Error("TotalIntensity returned table-backed storage")
	}
}

// bruteImage is the straightforward full-scan reference the lookup paths
// must agree with.
func bruteImage(sp Spectra, pixels PixelTable, lb, hb float64) []float32 {
	np := pixels.NumPixels()
	img := make([]float32, np)
	for pix := 0; pix < np; pix++ {
		start, end, ok := pixels.Range(pix)
		if !ok {
			continue
		}
		sum := 0.0
		for i := start; i <= end; i++ {
			m := float64(sp.Mz[i])
			if m >= lb && m <= hb {
				sum += float64(sp.Intensity[i])
			}
		}
		img[pix] = float32(sum)
	}
	return img
}

// randomSlice builds a 3x4 acquisition with integer intensities so lookup
// sums are exact in float32 and both query paths must match the brute-force
// scan bit for bit.
func randomSlice(t *testing.T, seed int64) *Slice {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	p := BuildParams{SizeSpectrum: 50, Divider: 2.5, Height: 3, Width: 4}

	var sp Spectra
	var pixels PixelTable
	for pix := 0; pix < p.Height*p.Width; pix++ {
		n := rng.Intn(31)
		if n == 0 {
			pixels = append(pixels, EmptyPixel, EmptyPixel)
			continue
		}
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = rng.Float64() * 50
		}
		sort.Float64s(vals)
		start := int32(len(sp.Mz))
		for _, v := range vals {
			sp.Mz = append(sp.Mz, float32(v))
			sp.Intensity = append(sp.Intensity, float32(1+rng.Intn(9)))
		}
		pixels = append(pixels, start, int32(len(sp.Mz)-1))
	}
	return buildSlice(t, sp, pixels, p)
}

func TestImageMatchesBruteForce(t *testing.T) {
	s := randomSlice(t, 7)

	lbs := []float64{0, 0.3, 2.5, 7.1, 24.999, 40, 47.5, 49.9, 55}
	widths := []float64{0.2, 1.0, 3.3, 10, 26}
	for _, lb := range lbs {
		for _, w := range widths {
			hb := lb + w
			want := bruteImage(s.Spectra, s.Pixels, lb, hb)
			narrow := s.Image(lb, hb, forceNarrow)
			wide := s.Image(lb, hb, forceWide)
			for i := range want {
				if narrow[i] != want[i] {
					t.Errorf("narrow [%v, %v] pixel %d: got %v, want %v", lb, hb, i, narrow[i], want[i])
				}
				if wide[i] != want[i] {
					t.Errorf("wide [%v, %v] pixel %d: got %v, want %v", lb, hb, i, wide[i], want[i])
				}
			}
		}
	}
}

func TestImagePathSwitch(t *testing.T) {
	s := randomSlice(t, 11)

	// Default options pick the path from the window width; a window just
	// under and just over the threshold must agree with brute force either
	// way.
	for _, hb := range []float64{14.9, 15.1} {
		got := s.Image(10, hb, ImageOptions{})
		want := bruteImage(s.Spectra, s.Pixels, 10, hb)
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("window [10, %v] pixel %d: got %v, want %v", hb, i, got[i], want[i])
			}
		}
	}
}
