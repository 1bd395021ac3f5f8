// Package service provides business logic for the spectral index server.
package service

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ColasDroin/lbae-sub000/internal/cache"
	"github.com/ColasDroin/lbae-sub000/internal/data/bundle"
	"github.com/ColasDroin/lbae-sub000/pkg/mzindex"
)

// SpectrumServiceConfig contains spectrum service configuration.
type SpectrumServiceConfig struct {
	DatasetID        string
	Root             string
	Divider          float64
	TileDBPath       string
	Bundles          map[int]*bundle.Bundle
	Cache            *cache.Manager
	NarrowWindow     float64
	RegionResolution float64
	Logger           *zap.Logger
}

// SpectrumService serves range queries, spectra and region profiles for one
// dataset's slices.
type SpectrumService struct {
	datasetID        string
	root             string
	divider          float64
	tiledbPath       string
	cache            *cache.Manager
	narrowWindow     float64
	regionResolution float64
	log              *zap.Logger

	mu      sync.RWMutex
	bundles map[int]*bundle.Bundle
	order   []int
}

// NewSpectrumService creates a new spectrum service over already-opened
// slice bundles.
func NewSpectrumService(cfg SpectrumServiceConfig) *SpectrumService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	narrow := cfg.NarrowWindow
	if narrow == 0 {
		narrow = mzindex.DefaultNarrowWindow
	}
	resolution := cfg.RegionResolution
	if resolution == 0 {
		resolution = mzindex.DefaultRegionResolution
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	bundles := cfg.Bundles
	if bundles == nil {
		bundles = make(map[int]*bundle.Bundle)
	}
	order := make([]int, 0, len(bundles))
	for n := range bundles {
		order = append(order, n)
	}
	sort.Ints(order)

	return &SpectrumService{
		datasetID:        datasetID,
		root:             cfg.Root,
		divider:          cfg.Divider,
		tiledbPath:       cfg.TileDBPath,
		cache:            cfg.Cache,
		narrowWindow:     narrow,
		regionResolution: resolution,
		log:              log,
		bundles:          bundles,
		order:            order,
	}
}

// SliceMetadata summarizes one slice for API responses.
type SliceMetadata struct {
	Slice        int     `json:"slice"`
	Height       int     `json:"height"`
	Width        int     `json:"width"`
	NumPeaks     int     `json:"num_peaks"`
	SizeSpectrum int     `json:"size_spectrum"`
	Divider      float64 `json:"divider"`
	Buckets      int     `json:"buckets"`
	IntensityP50 float64 `json:"intensity_p50"`
	IntensityP99 float64 `json:"intensity_p99"`
}

// Slices returns the served slice numbers in ascending order.
func (s *SpectrumService) Slices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.order))
	copy(out, s.order)
	return out
}

// Root returns the dataset's slice directory root.
func (s *SpectrumService) Root() string { return s.root }

// Divider returns the dataset's lookup bucket width.
func (s *SpectrumService) Divider() float64 { return s.divider }

// TileDBPath returns the dataset's raw acquisition path, or empty when the
// dataset has no TileDB source configured.
func (s *SpectrumService) TileDBPath() string { return s.tiledbPath }

// Metadata returns per-slice metadata in slice order.
func (s *SpectrumService) Metadata() []SliceMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SliceMetadata, 0, len(s.order))
	for _, n := range s.order {
		b := s.bundles[n]
		man := b.Manifest()
		lman := b.LookupManifest()
		out = append(out, SliceMetadata{
			Slice:        man.Slice,
			Height:       man.Height,
			Width:        man.Width,
			NumPeaks:     man.NumPeaks,
			SizeSpectrum: man.SizeSpectrum,
			Divider:      lman.Divider,
			Buckets:      lman.Buckets,
			IntensityP50: man.IntensityP50,
			IntensityP99: man.IntensityP99,
		})
	}
	return out
}

func (s *SpectrumService) bundle(slice int) (*bundle.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[slice]
	if !ok {
		return nil, fmt.Errorf("slice not found: %d", slice)
	}
	return b, nil
}

// GetImage returns the intensity image for the m/z window [lb, hb],
// along with its height and width. Inverted bounds are swapped.
func (s *SpectrumService) GetImage(slice int, lb, hb float64, normalize bool) ([]float32, int, int, error) {
	if hb < lb {
		lb, hb = hb, lb
	}

	b, err := s.bundle(slice)
	if err != nil {
		return nil, 0, 0, err
	}
	man := b.Manifest()

	cacheKey := s.datasetID + ":" + cache.ImageKey(slice, lb, hb, normalize)
	if s.cache != nil {
		if blob, ok := s.cache.GetImage(cacheKey); ok {
			if img := decodeFloat32s(blob); len(img) == man.NumPixels() {
				return img, man.Height, man.Width, nil
			}
		}
	}

	lease, err := b.Acquire()
	if err != nil {
		return nil, 0, 0, err
	}
	defer lease.Release()

	start := time.Now()
	img := lease.Slice().Image(lb, hb, mzindex.ImageOptions{
		NarrowWindow: s.narrowWindow,
		Normalize:    normalize,
	})
	s.log.Debug("computed image",
		zap.Int("slice", slice),
		zap.Float64("lb", lb),
		zap.Float64("hb", hb),
		zap.Bool("normalize", normalize),
		zap.Duration("elapsed", time.Since(start)))

	if s.cache != nil {
		s.cache.SetImage(cacheKey, encodeFloat32s(img))
	}
	return img, man.Height, man.Width, nil
}

// GetTotalImage returns the total-intensity image for a slice.
func (s *SpectrumService) GetTotalImage(slice int) ([]float32, int, int, error) {
	b, err := s.bundle(slice)
	if err != nil {
		return nil, 0, 0, err
	}
	lease, err := b.Acquire()
	if err != nil {
		return nil, 0, 0, err
	}
	defer lease.Release()

	man := b.Manifest()
	return lease.Slice().TotalIntensity(), man.Height, man.Width, nil
}

// GetPixelSpectrum returns a copy of one pixel's spectrum. An empty pixel
// yields empty slices.
func (s *SpectrumService) GetPixelSpectrum(slice, row, col int) ([]float32, []float32, error) {
	b, err := s.bundle(slice)
	if err != nil {
		return nil, nil, err
	}
	man := b.Manifest()
	if row < 0 || row >= man.Height || col < 0 || col >= man.Width {
		return nil, nil, fmt.Errorf("pixel out of range: %d/%d (shape %dx%d)", row, col, man.Height, man.Width)
	}

	lease, err := b.Acquire()
	if err != nil {
		return nil, nil, err
	}
	defer lease.Release()

	// The extracted views alias the mapping, so copy before the lease ends.
	mzView, intView := lease.Slice().Extract(mzindex.SelectPixel(row*man.Width + col))
	mz := append([]float32(nil), mzView...)
	intensity := append([]float32(nil), intView...)
	return mz, intensity, nil
}

// GetAveragedSpectrum returns a copy of the slice's averaged spectrum at
// high or low resolution.
func (s *SpectrumService) GetAveragedSpectrum(slice int, lowRes bool) ([]float32, []float32, error) {
	b, err := s.bundle(slice)
	if err != nil {
		return nil, nil, err
	}
	lease, err := b.Acquire()
	if err != nil {
		return nil, nil, err
	}
	defer lease.Release()

	a := lease.AvgHigh()
	if lowRes {
		a = lease.AvgLow()
	}
	mz := append([]float32(nil), a.Mz...)
	intensity := append([]float32(nil), a.Intensity...)
	return mz, intensity, nil
}

// GetAveragedBoundaries returns the index boundaries of [lb, hb] in the
// slice's averaged spectrum.
func (s *SpectrumService) GetAveragedBoundaries(slice int, lb, hb float64, lowRes bool) (int, int, error) {
	if hb < lb {
		lb, hb = hb, lb
	}
	b, err := s.bundle(slice)
	if err != nil {
		return 0, 0, err
	}
	lease, err := b.Acquire()
	if err != nil {
		return 0, 0, err
	}
	defer lease.Release()

	a := lease.AvgHigh()
	if lowRes {
		a = lease.AvgLow()
	}
	lo, hi := a.Boundaries(lb, hb)
	return lo, hi, nil
}

// GetAveragedSpectrumRange returns the averaged-spectrum window covering
// [lb, hb].
func (s *SpectrumService) GetAveragedSpectrumRange(slice int, lb, hb float64, lowRes bool) ([]float32, []float32, error) {
	if hb < lb {
		lb, hb = hb, lb
	}
	kind := "high"
	if lowRes {
		kind = "low"
	}

	cacheKey := s.datasetID + ":" + cache.SpectrumKey(slice, kind, lb, hb)
	if s.cache != nil {
		if blob, ok := s.cache.GetQuery(cacheKey); ok {
			if mz, intensity, ok := decodePair(blob); ok {
				return mz, intensity, nil
			}
		}
	}

	b, err := s.bundle(slice)
	if err != nil {
		return nil, nil, err
	}
	lease, err := b.Acquire()
	if err != nil {
		return nil, nil, err
	}
	defer lease.Release()

	a := lease.AvgHigh()
	if lowRes {
		a = lease.AvgLow()
	}
	mzView, intView := a.Window(lb, hb)
	mz := append([]float32(nil), mzView...)
	intensity := append([]float32(nil), intView...)

	if s.cache != nil {
		s.cache.SetQuery(cacheKey, encodePair(mz, intensity))
	}
	return mz, intensity, nil
}

// GetRegionSpectrum returns the merged spectrum of an arbitrary region,
// reduced to the service's working resolution.
func (s *SpectrumService) GetRegionSpectrum(slice int, spans []mzindex.RowSpan) ([]float32, []float32, error) {
	spanKeys := make([]string, len(spans))
	for i, sp := range spans {
		spanKeys[i] = fmt.Sprintf("%d:%d-%d", sp.Row, sp.Col0, sp.Col1)
	}
	cacheKey := s.datasetID + ":" + cache.RegionKey(slice, spanKeys, s.regionResolution)
	if s.cache != nil {
		if blob, ok := s.cache.GetQuery(cacheKey); ok {
			if mz, intensity, ok := decodePair(blob); ok {
				return mz, intensity, nil
			}
		}
	}

	b, err := s.bundle(slice)
	if err != nil {
		return nil, nil, err
	}
	lease, err := b.Acquire()
	if err != nil {
		return nil, nil, err
	}
	defer lease.Release()

	start := time.Now()
	mz, intensity, err := lease.Slice().RegionSpectrum(spans, s.regionResolution)
	if err != nil {
		return nil, nil, err
	}
	s.log.Debug("computed region spectrum",
		zap.Int("slice", slice),
		zap.Int("spans", len(spans)),
		zap.Int("peaks", len(mz)),
		zap.Duration("elapsed", time.Since(start)))

	if s.cache != nil {
		s.cache.SetQuery(cacheKey, encodePair(mz, intensity))
	}
	return mz, intensity, nil
}

// Reload remaps a slice's files, picking up a rebuilt bundle. A slice not
// served yet is opened and added.
func (s *SpectrumService) Reload(slice int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bundles[slice]; ok {
		if err := b.Remap(); err != nil {
			return err
		}
	} else {
		b, err := bundle.Open(bundle.SliceDir(s.root, slice), s.divider)
		if err != nil {
			return err
		}
		s.bundles[slice] = b
		s.order = append(s.order, slice)
		sort.Ints(s.order)
	}

	if s.cache != nil {
		if err := s.cache.Reset(); err != nil {
			return err
		}
	}
	s.log.Info("reloaded slice", zap.String("dataset", s.datasetID), zap.Int("slice", slice))
	return nil
}

// CleanMemory remaps every slice and drops all cached entries, returning
// resident pages to the OS.
func (s *SpectrumService) CleanMemory() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.order {
		if err := s.bundles[n].Remap(); err != nil {
			return fmt.Errorf("failed to remap slice %d: %w", n, err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Reset(); err != nil {
			return err
		}
	}
	s.log.Info("cleaned memory", zap.String("dataset", s.datasetID), zap.Int("slices", len(s.order)))
	return nil
}

// Stats returns dataset statistics.
func (s *SpectrumService) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalPeaks := 0
	for _, n := range s.order {
		totalPeaks += s.bundles[n].Manifest().NumPeaks
	}
	out := map[string]interface{}{
		"n_slices":    len(s.order),
		"total_peaks": totalPeaks,
	}
	if s.cache != nil {
		for k, v := range s.cache.Stats() {
			out[k] = v
		}
	}
	return out
}

// Close closes all slice bundles.
func (s *SpectrumService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, b := range s.bundles {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func encodeFloat32s(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

// encodePair packs two equal-length arrays as a count followed by both.
func encodePair(mz, intensity []float32) []byte {
	n := len(mz)
	out := make([]byte, 4+8*n)
	binary.LittleEndian.PutUint32(out, uint32(n))
	for i, v := range mz {
		binary.LittleEndian.PutUint32(out[4+4*i:], math.Float32bits(v))
	}
	for i, v := range intensity {
		binary.LittleEndian.PutUint32(out[4+4*n+4*i:], math.Float32bits(v))
	}
	return out
}

func decodePair(b []byte) ([]float32, []float32, bool) {
	if len(b) < 4 {
		return nil, nil, false
	}
	n := int(binary.LittleEndian.Uint32(b))
	if len(b) != 4+8*n {
		return nil, nil, false
	}
	mz := make([]float32, n)
	intensity := make([]float32, n)
	for i := 0; i < n; i++ {
		mz[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4+4*i:]))
		intensity[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4+4*n+4*i:]))
	}
	return mz, intensity, true
}
