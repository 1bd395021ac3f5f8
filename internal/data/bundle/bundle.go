// Package bundle reads and writes the persisted form of a slice: the raw
// spectrum arrays, the pixel index table, and one lookup-table bundle per
// bucket width. The large arrays are memory-mapped so the OS page cache
// decides what stays resident; the small averaged-spectrum arrays are
// zstd-compressed and loaded whole at open.
//
// All arrays are little-endian on disk and mapped without conversion, so
// big-endian hosts are refused at open.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"github.com/ColasDroin/lbae-sub000/internal/codec"
	"github.com/ColasDroin/lbae-sub000/pkg/mzindex"
)

const (
	manifestFile   = "manifest.json"
	spectraFile    = "spectra.f32"
	pixelIndexFile = "pixel_index.i32"

	indexLookupFile = "index_lookup.i32"
	cumulativeFile  = "cumulative_image.f32"
	avgSpectrumFile = "avg_spectrum.f32"
	avgLowFile      = "avg_spectrum_low.f32.zst"
	avgLookupFile   = "avg_lookup.i32.zst"
)

// ErrNoLookup reports that a slice has no lookup bundle for the requested
// divider. Callers react by building one.
var ErrNoLookup = errors.New("no lookup bundle for divider")

// ErrClosed reports an operation on a closed bundle.
var ErrClosed = errors.New("bundle is closed")

// Manifest describes one slice's raw arrays.
type Manifest struct {
	Slice        int     `json:"slice"`
	Height       int     `json:"height"`
	Width        int     `json:"width"`
	NumPeaks     int     `json:"num_peaks"`
	SizeSpectrum int     `json:"size_spectrum"`
	IntensityP50 float64 `json:"intensity_p50"`
	IntensityP99 float64 `json:"intensity_p99"`

	Checksums map[string]string `json:"checksums"`
}

// NumPixels returns Height*Width.
func (m Manifest) NumPixels() int { return m.Height * m.Width }

// LookupManifest describes one lookup bundle under a slice.
type LookupManifest struct {
	Divider     float64 `json:"divider"`
	Buckets     int     `json:"buckets"`
	AvgPeaks    int     `json:"avg_peaks"`
	AvgLowPeaks int     `json:"avg_low_peaks"`

	Checksums map[string]string `json:"checksums"`
}

// Bundle is one slice's open file set. Queries borrow the current mapping
// generation through Acquire and hold it alive while they read; Remap loads
// a fresh generation and retires the old one once its last borrower leaves.
type Bundle struct {
	dir       string
	lookupDir string

	mu   sync.Mutex // guards man/lman and serializes Remap and Close
	man  Manifest
	lman LookupManifest
	cur  atomic.Pointer[generation]
}

// generation is one complete set of mappings plus the typed views built
// over them. refs starts at one for the owning Bundle; each Lease adds one.
type generation struct {
	refs    atomic.Int32
	files   []*mappedFile
	slice   mzindex.Slice
	avgHigh *mzindex.AveragedSpectrum
	avgLow  *mzindex.AveragedSpectrum
}

func (g *generation) tryAcquire() bool {
	for {
		n := g.refs.Load()
		if n <= 0 {
			return false
		}
		if g.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (g *generation) release() {
	if g.refs.Add(-1) != 0 {
		return
	}
	for _, f := range g.files {
		f.close()
	}
}

// Lease is a borrowed view of a bundle's current generation. The views stay
// valid until Release; holding them longer risks reading unmapped memory.
type Lease struct {
	gen *generation
}

// Slice returns the queryable slice for this lease.
func (l *Lease) Slice() *mzindex.Slice { return &l.gen.slice }

// AvgHigh returns the high-resolution averaged spectrum.
func (l *Lease) AvgHigh() *mzindex.AveragedSpectrum { return l.gen.avgHigh }

// AvgLow returns the low-resolution averaged spectrum used for overview
// plots.
func (l *Lease) AvgLow() *mzindex.AveragedSpectrum { return l.gen.avgLow }

// Release returns the lease. Safe to call more than once.
func (l *Lease) Release() {
	if l.gen != nil {
		l.gen.release()
		l.gen = nil
	}
}

// SliceDir returns the directory of one slice under a dataset root.
func SliceDir(root string, slice int) string {
	return filepath.Join(root, fmt.Sprintf("slice_%03d", slice))
}

// LookupDirName returns the per-divider bundle directory name, with the
// divider formatted compactly so re-ingesting at the same width reuses it.
func LookupDirName(divider float64) string {
	return "lookup_" + strconv.FormatFloat(divider, 'g', -1, 64)
}

// Open maps the slice bundle in dir together with its lookup bundle for the
// given divider. Returns ErrNoLookup when the lookup bundle has not been
// built yet; the raw slice manifest must always be present.
func Open(dir string, divider float64) (*Bundle, error) {
	if !hostLittleEndian() {
		return nil, errors.New("spectrum bundles are little-endian, big-endian hosts are not supported")
	}

	b := &Bundle{
		dir:       dir,
		lookupDir: filepath.Join(dir, LookupDirName(divider)),
	}
	if err := readJSON(filepath.Join(dir, manifestFile), &b.man); err != nil {
		return nil, fmt.Errorf("failed to read slice manifest: %w", err)
	}
	if err := readJSON(filepath.Join(b.lookupDir, manifestFile), &b.lman); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w %s in %s", ErrNoLookup, LookupDirName(divider), dir)
		}
		return nil, fmt.Errorf("failed to read lookup manifest: %w", err)
	}
	if b.lman.Divider != divider {
		return nil, fmt.Errorf("lookup manifest divider %v does not match requested %v", b.lman.Divider, divider)
	}

	gen, err := b.load(b.man, b.lman)
	if err != nil {
		return nil, err
	}
	b.cur.Store(gen)
	return b, nil
}

// Manifest returns the slice manifest.
func (b *Bundle) Manifest() Manifest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.man
}

// LookupManifest returns the lookup bundle manifest.
func (b *Bundle) LookupManifest() LookupManifest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lman
}

// Dir returns the slice directory.
func (b *Bundle) Dir() string { return b.dir }

// Acquire borrows the current generation.
func (b *Bundle) Acquire() (*Lease, error) {
	for {
		g := b.cur.Load()
		if g == nil {
			return nil, ErrClosed
		}
		if g.tryAcquire() {
			return &Lease{gen: g}, nil
		}
		// Lost a race with Remap; the new generation is being installed.
	}
}

// Remap swaps in freshly mapped files. Outstanding leases keep reading the
// old mappings until released; new queries see the new ones. This both
// returns resident pages to the OS and picks up files rewritten by a
// rebuild, so the manifests are re-read along with the arrays.
func (b *Bundle) Remap() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur.Load() == nil {
		return ErrClosed
	}

	var man Manifest
	var lman LookupManifest
	if err := readJSON(filepath.Join(b.dir, manifestFile), &man); err != nil {
		return fmt.Errorf("failed to reread slice manifest: %w", err)
	}
	if err := readJSON(filepath.Join(b.lookupDir, manifestFile), &lman); err != nil {
		return fmt.Errorf("failed to reread lookup manifest: %w", err)
	}
	if lman.Divider != b.lman.Divider {
		return fmt.Errorf("lookup bundle divider changed from %v to %v", b.lman.Divider, lman.Divider)
	}

	gen, err := b.load(man, lman)
	if err != nil {
		return fmt.Errorf("failed to remap %s: %w", b.dir, err)
	}
	b.man, b.lman = man, lman
	old := b.cur.Swap(gen)
	old.release()
	return nil
}

// Close drops the bundle's generation. Outstanding leases stay valid until
// released.
func (b *Bundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old := b.cur.Swap(nil); old != nil {
		old.release()
	}
	return nil
}

// load maps all bundle files and builds the typed views, validating every
// array length against the manifests.
func (b *Bundle) load(man Manifest, lman LookupManifest) (*generation, error) {
	g := &generation{}
	g.refs.Store(1)
	loaded := false
	defer func() {
		if !loaded {
			g.release()
		}
	}()

	np := man.NumPixels()

	spectra, err := g.mapped(filepath.Join(b.dir, spectraFile), 8*man.NumPeaks)
	if err != nil {
		return nil, err
	}
	pixels, err := g.mapped(filepath.Join(b.dir, pixelIndexFile), 8*np)
	if err != nil {
		return nil, err
	}
	indexLookup, err := g.mapped(filepath.Join(b.lookupDir, indexLookupFile), 4*lman.Buckets*np)
	if err != nil {
		return nil, err
	}
	cumulative, err := g.mapped(filepath.Join(b.lookupDir, cumulativeFile), 4*lman.Buckets*np)
	if err != nil {
		return nil, err
	}
	avgHigh, err := g.mapped(filepath.Join(b.lookupDir, avgSpectrumFile), 8*lman.AvgPeaks)
	if err != nil {
		return nil, err
	}

	// The compressed members are small; they are loaded whole and verified
	// against their recorded checksums on every open.
	avgLow, err := readCompressed(filepath.Join(b.lookupDir, avgLowFile), 8*lman.AvgLowPeaks, lman.Checksums[avgLowFile])
	if err != nil {
		return nil, err
	}
	avgLookup, err := readCompressed(filepath.Join(b.lookupDir, avgLookupFile), 4*man.SizeSpectrum, lman.Checksums[avgLookupFile])
	if err != nil {
		return nil, err
	}

	n := man.NumPeaks
	sp := mzindex.Spectra{
		Mz:        asFloat32(spectra)[:n:n],
		Intensity: asFloat32(spectra)[n:],
	}
	g.slice = mzindex.Slice{
		Spectra: sp,
		Pixels:  mzindex.PixelTable(asInt32(pixels)),
		Lookup: &mzindex.IndexLookup{
			Buckets: lman.Buckets,
			Pixels:  np,
			Cells:   asInt32(indexLookup),
		},
		Cumulative: &mzindex.CumulativeImage{
			Buckets: lman.Buckets,
			Height:  man.Height,
			Width:   man.Width,
			Cells:   asFloat32(cumulative),
		},
		Height:  man.Height,
		Width:   man.Width,
		Divider: lman.Divider,
	}

	m := lman.AvgPeaks
	g.avgHigh = &mzindex.AveragedSpectrum{
		Mz:        asFloat32(avgHigh)[:m:m],
		Intensity: asFloat32(avgHigh)[m:],
		Lookup:    asInt32(avgLookup),
	}
	k := lman.AvgLowPeaks
	g.avgLow = mzindex.NewAveragedSpectrum(
		asFloat32(avgLow)[:k:k], asFloat32(avgLow)[k:], man.SizeSpectrum)

	loaded = true
	return g, nil
}

// mapped maps one file and records it for cleanup, checking its size.
func (g *generation) mapped(path string, wantBytes int) ([]byte, error) {
	f, err := mapFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", filepath.Base(path), err)
	}
	g.files = append(g.files, f)
	if len(f.data) != wantBytes {
		return nil, fmt.Errorf("%s is %d bytes, want %d", filepath.Base(path), len(f.data), wantBytes)
	}
	return f.data, nil
}

// readCompressed loads a zstd member, verifying the stored file's checksum
// and the decompressed size.
func readCompressed(path string, wantBytes int, wantSum string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if wantSum != "" {
		if sum := checksum(raw); sum != wantSum {
			return nil, fmt.Errorf("%s checksum %s does not match manifest %s", filepath.Base(path), sum, wantSum)
		}
	}
	data, err := (codec.Zstd{}).Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", filepath.Base(path), err)
	}
	if len(data) != wantBytes {
		return nil, fmt.Errorf("%s decompresses to %d bytes, want %d", filepath.Base(path), len(data), wantBytes)
	}
	return data, nil
}

// Verify re-reads every file in the bundle and checks it against the
// manifest checksums. It pages in the mapped arrays, so it is a maintenance
// operation, not something to run on the serving path.
func (b *Bundle) Verify() error {
	b.mu.Lock()
	man, lman := b.man, b.lman
	b.mu.Unlock()

	for name, want := range man.Checksums {
		if err := verifyFile(filepath.Join(b.dir, name), want); err != nil {
			return err
		}
	}
	for name, want := range lman.Checksums {
		if err := verifyFile(filepath.Join(b.lookupDir, name), want); err != nil {
			return err
		}
	}
	return nil
}

func verifyFile(path string, want string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if got := checksum(data); got != want {
		return fmt.Errorf("%s checksum %s does not match manifest %s", filepath.Base(path), got, want)
	}
	return nil
}

func checksum(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func asFloat32(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func asInt32(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func hostLittleEndian() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 1
}
