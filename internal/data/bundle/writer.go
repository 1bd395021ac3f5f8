package bundle

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/ColasDroin/lbae-sub000/internal/codec"
	"github.com/ColasDroin/lbae-sub000/pkg/mzindex"
)

// Writer persists slice bundles under a dataset root. Every file is written
// to a temp name and renamed into place, so a crashed build never leaves a
// half-written array behind a valid manifest.
type Writer struct {
	root string
}

// NewWriter returns a writer rooted at the dataset directory.
func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// WriteSlice writes the raw arrays and manifest for one slice. The peak
// count, intensity quantiles and checksums are filled in from the data; the
// caller provides slice number, image shape and spectrum size.
func (w *Writer) WriteSlice(man Manifest, sp mzindex.Spectra, pixels mzindex.PixelTable) (Manifest, error) {
	if len(sp.Mz) != len(sp.Intensity) {
		return man, fmt.Errorf("spectrum columns disagree: %d mz, %d intensity", len(sp.Mz), len(sp.Intensity))
	}
	if pixels.NumPixels() != man.NumPixels() {
		return man, fmt.Errorf("pixel table has %d pixels, image shape (%d, %d) wants %d",
			pixels.NumPixels(), man.Height, man.Width, man.NumPixels())
	}

	dir := SliceDir(w.root, man.Slice)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return man, fmt.Errorf("failed to create slice dir: %w", err)
	}

	man.NumPeaks = sp.Len()
	man.IntensityP50, man.IntensityP99 = intensityQuantiles(sp.Intensity)
	man.Checksums = make(map[string]string)

	sum, err := writeFile(filepath.Join(dir, spectraFile), func(out io.Writer) error {
		if err := writeF32(out, sp.Mz); err != nil {
			return err
		}
		return writeF32(out, sp.Intensity)
	})
	if err != nil {
		return man, err
	}
	man.Checksums[spectraFile] = sum

	sum, err = writeFile(filepath.Join(dir, pixelIndexFile), func(out io.Writer) error {
		return writeI32(out, pixels)
	})
	if err != nil {
		return man, err
	}
	man.Checksums[pixelIndexFile] = sum

	if err := writeJSON(filepath.Join(dir, manifestFile), man); err != nil {
		return man, err
	}
	return man, nil
}

// WriteLookup writes one lookup bundle for a slice already written with
// WriteSlice. The averaged high-res spectrum's lookup table must span the
// slice's spectrum size.
func (w *Writer) WriteLookup(man Manifest, divider float64, lookup *mzindex.IndexLookup,
	cum *mzindex.CumulativeImage, avgHigh, avgLow *mzindex.AveragedSpectrum) (LookupManifest, error) {

	lman := LookupManifest{
		Divider:     divider,
		Buckets:     lookup.Buckets,
		AvgPeaks:    avgHigh.Len(),
		AvgLowPeaks: avgLow.Len(),
		Checksums:   make(map[string]string),
	}
	if lookup.Pixels != man.NumPixels() {
		return lman, fmt.Errorf("index lookup covers %d pixels, slice has %d", lookup.Pixels, man.NumPixels())
	}
	if cum.Height != man.Height || cum.Width != man.Width {
		return lman, fmt.Errorf("cumulative image shape (%d, %d) does not match slice (%d, %d)",
			cum.Height, cum.Width, man.Height, man.Width)
	}
	if len(avgHigh.Lookup) != man.SizeSpectrum {
		return lman, fmt.Errorf("averaged lookup has %d rows, spectrum size is %d", len(avgHigh.Lookup), man.SizeSpectrum)
	}

	dir := filepath.Join(SliceDir(w.root, man.Slice), LookupDirName(divider))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return lman, fmt.Errorf("failed to create lookup dir: %w", err)
	}

	sum, err := writeFile(filepath.Join(dir, indexLookupFile), func(out io.Writer) error {
		return writeI32(out, lookup.Cells)
	})
	if err != nil {
		return lman, err
	}
	lman.Checksums[indexLookupFile] = sum

	sum, err = writeFile(filepath.Join(dir, cumulativeFile), func(out io.Writer) error {
		return writeF32(out, cum.Cells)
	})
	if err != nil {
		return lman, err
	}
	lman.Checksums[cumulativeFile] = sum

	sum, err = writeFile(filepath.Join(dir, avgSpectrumFile), func(out io.Writer) error {
		if err := writeF32(out, avgHigh.Mz); err != nil {
			return err
		}
		return writeF32(out, avgHigh.Intensity)
	})
	if err != nil {
		return lman, err
	}
	lman.Checksums[avgSpectrumFile] = sum

	var low bytes.Buffer
	writeF32(&low, avgLow.Mz)
	writeF32(&low, avgLow.Intensity)
	sum, err = writeCompressed(filepath.Join(dir, avgLowFile), low.Bytes())
	if err != nil {
		return lman, err
	}
	lman.Checksums[avgLowFile] = sum

	var avgLookup bytes.Buffer
	writeI32(&avgLookup, avgHigh.Lookup)
	sum, err = writeCompressed(filepath.Join(dir, avgLookupFile), avgLookup.Bytes())
	if err != nil {
		return lman, err
	}
	lman.Checksums[avgLookupFile] = sum

	if err := writeJSON(filepath.Join(dir, manifestFile), lman); err != nil {
		return lman, err
	}
	return lman, nil
}

// writeFile streams write's output through a checksum into path.tmp, then
// renames it into place. Returns the xxhash of the written bytes.
func writeFile(path string, write func(io.Writer) error) (string, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Base(tmp), err)
	}
	h := xxhash.New()
	out := bufio.NewWriterSize(io.MultiWriter(f, h), 1<<20)

	if err := write(out); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := out.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

func writeCompressed(path string, raw []byte) (string, error) {
	comp, err := (codec.Zstd{}).Compress(raw)
	if err != nil {
		return "", fmt.Errorf("failed to compress %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, func(out io.Writer) error {
		_, err := out.Write(comp)
		return err
	})
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeF32(w io.Writer, vals []float32) error {
	buf := make([]byte, 4*8192)
	for len(vals) > 0 {
		n := min(len(vals), 8192)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(vals[i]))
		}
		if _, err := w.Write(buf[:4*n]); err != nil {
			return err
		}
		vals = vals[n:]
	}
	return nil
}

func writeI32(w io.Writer, vals []int32) error {
	buf := make([]byte, 4*8192)
	for len(vals) > 0 {
		n := min(len(vals), 8192)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(vals[i]))
		}
		if _, err := w.Write(buf[:4*n]); err != nil {
			return err
		}
		vals = vals[n:]
	}
	return nil
}

// intensityQuantiles reports the median and 99th percentile intensity,
// sampled down to a bounded set for very large slices. Serving layers use
// them as display-normalization hints without touching the arrays.
func intensityQuantiles(intensity []float32) (p50, p99 float64) {
	if len(intensity) == 0 {
		return 0, 0
	}
	const maxSample = 1 << 20
	stride := 1
	if len(intensity) > maxSample {
		stride = len(intensity)/maxSample + 1
	}
	vals := make([]float64, 0, len(intensity)/stride+1)
	for i := 0; i < len(intensity); i += stride {
		vals = append(vals, float64(intensity[i]))
	}
	sort.Float64s(vals)
	return stat.Quantile(0.5, stat.Empirical, vals, nil),
		stat.Quantile(0.99, stat.Empirical, vals, nil)
}
