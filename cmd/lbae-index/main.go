// Package main implements the offline lookup-bundle builder and inspector.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ColasDroin/lbae-sub000/internal/data/bundle"
	"github.com/ColasDroin/lbae-sub000/internal/service"
	"github.com/ColasDroin/lbae-sub000/pkg/mzindex"
)

func main() {
	dataDir := flag.String("data", "", "dataset root holding slice bundles (required)")
	slice := flag.Int("slice", -1, "slice number to process")
	all := flag.Bool("all", false, "process every slice under the dataset root")
	divider := flag.Float64("divider", 1.0, "bucket width divider of the lookup to build")
	force := flag.Bool("force", false, "rebuild even when the lookup bundle already exists")
	inspect := flag.Bool("inspect", false, "print manifests instead of building")
	verify := flag.Bool("verify", false, "check bundle checksums instead of building")
	tiledbPath := flag.String("tiledb", "", "ingest raw arrays from this TileDB path before building")
	flag.Parse()

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "usage: lbae-index -data DIR (-slice N | -all) [-divider F] [-force] [-inspect] [-verify] [-tiledb PATH]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*dataDir, *slice, *all, *divider, *force, *inspect, *verify, *tiledbPath); err != nil {
		fmt.Fprintf(os.Stderr, "lbae-index: %v\n", err)
		os.Exit(1)
	}
}

func run(dataDir string, slice int, all bool, divider float64, force, inspect, verify bool, tiledbPath string) error {
	if all == (slice >= 0) {
		return fmt.Errorf("choose one of -slice or -all")
	}
	if divider <= 0 {
		return fmt.Errorf("divider must be positive, got %g", divider)
	}
	if tiledbPath != "" && all {
		return fmt.Errorf("-tiledb requires an explicit -slice")
	}

	slices := []int{slice}
	if all {
		var err error
		slices, err = bundle.DiscoverSlices(dataDir)
		if err != nil {
			return err
		}
		if len(slices) == 0 {
			return fmt.Errorf("no slices under %s", dataDir)
		}
	}

	if inspect {
		return inspectSlices(dataDir, slices)
	}
	if verify {
		return verifySlices(dataDir, slices, divider)
	}
	return buildSlices(dataDir, slices, divider, force, tiledbPath)
}

func inspectSlices(dataDir string, slices []int) error {
	for _, n := range slices {
		dir := bundle.SliceDir(dataDir, n)
		man, err := bundle.ReadManifest(dir)
		if err != nil {
			return fmt.Errorf("slice %d: %w", n, err)
		}

		fmt.Printf("slice %03d: %dx%d pixels, %d peaks, size_spectrum %d\n",
			man.Slice, man.Height, man.Width, man.NumPeaks, man.SizeSpectrum)
		fmt.Printf("  intensity quantiles: p50 %.4g, p99 %.4g\n",
			man.IntensityP50, man.IntensityP99)

		lookups, err := bundle.ReadLookupManifests(dir)
		if err != nil {
			return fmt.Errorf("slice %d: %w", n, err)
		}
		if len(lookups) == 0 {
			fmt.Println("  no lookup bundles built")
			continue
		}
		for _, lman := range lookups {
			fmt.Printf("  lookup divider %g: %d buckets, %d avg peaks (%d low-res)\n",
				lman.Divider, lman.Buckets, lman.AvgPeaks, lman.AvgLowPeaks)
		}
	}
	return nil
}

func verifySlices(dataDir string, slices []int, divider float64) error {
	bad := 0
	for _, n := range slices {
		b, err := bundle.Open(bundle.SliceDir(dataDir, n), divider)
		if err != nil {
			return fmt.Errorf("slice %d: %w", n, err)
		}
		err = b.Verify()
		b.Close()
		if err != nil {
			bad++
			fmt.Printf("slice %03d: FAILED: %v\n", n, err)
			continue
		}
		fmt.Printf("slice %03d: ok\n", n)
	}
	if bad > 0 {
		return fmt.Errorf("%d slice(s) failed verification", bad)
	}
	return nil
}

func buildSlices(dataDir string, slices []int, divider float64, force bool, tiledbPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := bundle.NewWriter(dataDir)
	total := len(slices)
	built := 0

	for i, n := range slices {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		dir := bundle.SliceDir(dataDir, n)
		if !force && tiledbPath == "" && bundle.HasLookup(dir, divider) {
			fmt.Printf("[%d/%d] slice %03d: lookup up to date, skipping\n", i+1, total, n)
			continue
		}

		start := time.Now()

		var man bundle.Manifest
		var sp mzindex.Spectra
		var pixels mzindex.PixelTable
		var err error
		if tiledbPath != "" {
			fmt.Printf("[%d/%d] slice %03d: ingesting from %s\n", i+1, total, n, tiledbPath)
			man, sp, pixels, err = service.IngestSlice(ctx, writer, tiledbPath, n)
		} else {
			man, sp, pixels, err = bundle.ReadRaw(dir)
		}
		if err != nil {
			return fmt.Errorf("slice %d: %w", n, err)
		}

		lman, err := service.BuildLookup(ctx, writer, man, sp, pixels, divider)
		if err != nil {
			return fmt.Errorf("slice %d: %w", n, err)
		}

		built++
		fmt.Printf("[%d/%d] slice %03d: %d peaks -> %d buckets, %d avg peaks (%.1fs)\n",
			i+1, total, n, man.NumPeaks, lman.Buckets, lman.AvgPeaks, time.Since(start).Seconds())
	}

	fmt.Printf("done: %d slice(s) built\n", built)
	return nil
}
