package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ColasDroin/lbae-sub000/internal/data/bundle"
	"github.com/ColasDroin/lbae-sub000/internal/data/tiledb"
	"github.com/ColasDroin/lbae-sub000/internal/jobstore"
	"github.com/ColasDroin/lbae-sub000/pkg/mzindex"
)

// Working resolutions of the averaged spectra. The high-resolution average
// keeps peaks apart down to the instrument's mass accuracy; the low-resolution
// one is an overview small enough to ship whole.
const (
	avgHighResolution = 1e-4
	avgLowResolution  = 1e-2
)

// BuildService runs lookup-bundle builds against a dataset's slices.
type BuildService struct {
	registry interface {
		Get(datasetID string) *SpectrumService
	}
	log *zap.Logger
}

// NewBuildService creates a new build service.
func NewBuildService(registry interface{ Get(datasetID string) *SpectrumService }, log *zap.Logger) *BuildService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BuildService{registry: registry, log: log}
}

// ExecuteBuildJob runs the build for a job (called by JobManager worker).
func (s *BuildService) ExecuteBuildJob(ctx context.Context, store *jobstore.Store, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	svc := s.registry.Get(job.Params.DatasetID)
	if svc == nil {
		return fmt.Errorf("dataset not found: %s", job.Params.DatasetID)
	}
	root := svc.Root()

	divider := job.Params.Divider
	if divider <= 0 {
		divider = svc.Divider()
	}

	servingDivider := svc.Divider()
	fromTileDB := job.Params.Source == "tiledb"
	slices := job.Params.Slices
	if len(slices) == 0 {
		if fromTileDB {
			return fmt.Errorf("tiledb ingestion requires explicit slices")
		}
		slices, err = bundle.DiscoverSlices(root)
		if err != nil {
			return fmt.Errorf("failed to discover slices: %w", err)
		}
		if len(slices) == 0 {
			return fmt.Errorf("no slices under %s", root)
		}
	}

	writer := bundle.NewWriter(root)
	total := len(slices)
	results := make([]*jobstore.SliceResult, 0, total)

	for i, n := range slices {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		phase := "indexing"
		if fromTileDB {
			phase = "ingesting"
		}
		store.UpdateJobProgress(jobID, phase, i, total)

		if !job.Params.Force && !fromTileDB && bundle.HasLookup(bundle.SliceDir(root, n), divider) {
			s.log.Info("lookup bundle up to date, skipping",
				zap.String("dataset", job.Params.DatasetID),
				zap.Int("slice", n),
				zap.Float64("divider", divider))
			continue
		}

		start := time.Now()

		var man bundle.Manifest
		var sp mzindex.Spectra
		var pixels mzindex.PixelTable
		if fromTileDB {
			man, sp, pixels, err = IngestSlice(ctx, writer, svc.TileDBPath(), n)
			if err != nil {
				return fmt.Errorf("failed to ingest slice %d: %w", n, err)
			}
		} else {
			man, sp, pixels, err = bundle.ReadRaw(bundle.SliceDir(root, n))
			if err != nil {
				return fmt.Errorf("failed to read slice %d: %w", n, err)
			}
		}

		lman, err := BuildLookup(ctx, writer, man, sp, pixels, divider)
		if err != nil {
			return fmt.Errorf("failed to build lookup for slice %d: %w", n, err)
		}

		// Ingestion replaces the raw arrays, so the serving divider's lookup
		// bundle must be rebuilt against them even when the job asked for a
		// different width.
		if fromTileDB && divider != servingDivider {
			if _, err := BuildLookup(ctx, writer, man, sp, pixels, servingDivider); err != nil {
				return fmt.Errorf("failed to rebuild serving lookup for slice %d: %w", n, err)
			}
		}
		if fromTileDB || divider == servingDivider {
			if err := svc.Reload(n); err != nil {
				return fmt.Errorf("failed to reload slice %d: %w", n, err)
			}
		}

		elapsed := time.Since(start)
		s.log.Info("built slice",
			zap.String("dataset", job.Params.DatasetID),
			zap.Int("slice", n),
			zap.Int("peaks", man.NumPeaks),
			zap.Int("buckets", lman.Buckets),
			zap.Duration("elapsed", elapsed))

		results = append(results, &jobstore.SliceResult{
			Slice:     n,
			NumPeaks:  int64(man.NumPeaks),
			Buckets:   lman.Buckets,
			AvgPeaks:  lman.AvgPeaks,
			Divider:   lman.Divider,
			ElapsedMS: elapsed.Milliseconds(),
		})
	}

	store.UpdateJobProgress(jobID, "saving_results", total, total)
	if err := store.InsertResults(jobID, results); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	return nil
}

// IngestSlice streams one slice's acquisition out of TileDB and writes its
// raw arrays. Pixels arrive in row-major order with ascending m/z, which is
// exactly the on-disk layout, so the arrays are appended as they stream.
func IngestSlice(ctx context.Context, writer *bundle.Writer, tiledbRoot string, slice int) (bundle.Manifest, mzindex.Spectra, mzindex.PixelTable, error) {
	if tiledbRoot == "" {
		return bundle.Manifest{}, mzindex.Spectra{}, nil, fmt.Errorf("no tiledb path configured")
	}
	uri, err := tiledb.SliceArrayURI(tiledbRoot, slice)
	if err != nil {
		return bundle.Manifest{}, mzindex.Spectra{}, nil, err
	}
	src, err := tiledb.NewSource(uri)
	if err != nil {
		return bundle.Manifest{}, mzindex.Spectra{}, nil, err
	}
	defer src.Close()

	height, width, err := src.Shape()
	if err != nil {
		return bundle.Manifest{}, mzindex.Spectra{}, nil, fmt.Errorf("failed to read array shape: %w", err)
	}
	if height == 0 || width == 0 {
		return bundle.Manifest{}, mzindex.Spectra{}, nil, fmt.Errorf("array %s is empty", uri)
	}

	pixels := make(mzindex.PixelTable, 2*height*width)
	for i := range pixels {
		pixels[i] = mzindex.EmptyPixel
	}

	var mzAll, intAll []float32
	var maxMz float32
	err = src.ReadSpectra(ctx, func(row, col int, mz, intensity []float32) error {
		if len(mz) == 0 {
			return nil
		}
		if row >= height || col >= width {
			return fmt.Errorf("pixel (%d, %d) outside array shape (%d, %d)", row, col, height, width)
		}
		p := row*width + col
		pixels[2*p] = int32(len(mzAll))
		mzAll = append(mzAll, mz...)
		intAll = append(intAll, intensity...)
		pixels[2*p+1] = int32(len(mzAll) - 1)
		if n := len(mz); n > 0 && mz[n-1] > maxMz {
			maxMz = mz[n-1]
		}
		return nil
	})
	if err != nil {
		return bundle.Manifest{}, mzindex.Spectra{}, nil, fmt.Errorf("failed to read spectra: %w", err)
	}

	sizeSpectrum := int(math.Ceil(float64(maxMz))) + 1
	man := bundle.Manifest{
		Slice:        slice,
		Height:       height,
		Width:        width,
		SizeSpectrum: sizeSpectrum,
	}
	sp := mzindex.Spectra{Mz: mzAll, Intensity: intAll}
	man, err = writer.WriteSlice(man, sp, pixels)
	if err != nil {
		return bundle.Manifest{}, mzindex.Spectra{}, nil, fmt.Errorf("failed to write raw arrays: %w", err)
	}
	return man, sp, pixels, nil
}

// BuildLookup computes and writes one lookup bundle from a slice's raw
// arrays.
func BuildLookup(ctx context.Context, writer *bundle.Writer, man bundle.Manifest, sp mzindex.Spectra, pixels mzindex.PixelTable, divider float64) (bundle.LookupManifest, error) {
	p := mzindex.BuildParams{
		SizeSpectrum: man.SizeSpectrum,
		Divider:      divider,
		Height:       man.Height,
		Width:        man.Width,
	}
	lookup, err := mzindex.BuildIndexLookup(ctx, sp, pixels, p)
	if err != nil {
		return bundle.LookupManifest{}, fmt.Errorf("failed to build index lookup: %w", err)
	}
	cum, err := mzindex.BuildCumulativeImage(ctx, sp, pixels, p)
	if err != nil {
		return bundle.LookupManifest{}, fmt.Errorf("failed to build cumulative image: %w", err)
	}

	avgHigh, avgLow := buildAveraged(sp, man.SizeSpectrum)
	lman, err := writer.WriteLookup(man, divider, lookup, cum, avgHigh, avgLow)
	if err != nil {
		return bundle.LookupManifest{}, fmt.Errorf("failed to write lookup bundle: %w", err)
	}
	return lman, nil
}

// buildAveraged computes both averaged spectra of a slice. The high-res
// average sums overlapping peaks and is zero-padded so plots drop to the
// baseline across flat regions; the low-res one keeps bucket maxima so peak
// heights survive the downsampling.
func buildAveraged(sp mzindex.Spectra, sizeSpectrum int) (avgHigh, avgLow *mzindex.AveragedSpectrum) {
	mz := append([]float32(nil), sp.Mz...)
	intensity := append([]float32(nil), sp.Intensity...)
	mzindex.SortByMz(mz, intensity)

	highMz, highInt := mzindex.Reduce(mz, intensity, avgHighResolution, mzindex.MergeSum)
	mzindex.NormalizeTotal(highInt)
	highMz, highInt = mzindex.PadZeros(highMz, highInt, 0, 0)
	avgHigh = mzindex.NewAveragedSpectrum(highMz, highInt, sizeSpectrum)

	lowMz, lowInt := mzindex.Reduce(mz, intensity, avgLowResolution, mzindex.MergeMax)
	mzindex.NormalizeTotal(lowInt)
	avgLow = mzindex.NewAveragedSpectrum(lowMz, lowInt, sizeSpectrum)
	return avgHigh, avgLow
}
