package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ColasDroin/lbae-sub000/pkg/mzindex"
)

// ReadRaw loads a slice's raw arrays into memory without touching any lookup
// bundle. This is the rebuild path: the returned arrays are private copies
// the builders may read while the writer replaces files on disk.
func ReadRaw(dir string) (Manifest, mzindex.Spectra, mzindex.PixelTable, error) {
	var man Manifest
	if err := readJSON(filepath.Join(dir, manifestFile), &man); err != nil {
		return man, mzindex.Spectra{}, nil, fmt.Errorf("failed to read slice manifest: %w", err)
	}

	spectra, err := readRawFile(filepath.Join(dir, spectraFile), 8*man.NumPeaks, man.Checksums[spectraFile])
	if err != nil {
		return man, mzindex.Spectra{}, nil, err
	}
	pixels, err := readRawFile(filepath.Join(dir, pixelIndexFile), 8*man.NumPixels(), man.Checksums[pixelIndexFile])
	if err != nil {
		return man, mzindex.Spectra{}, nil, err
	}

	n := man.NumPeaks
	sp := mzindex.Spectra{
		Mz:        asFloat32(spectra)[:n:n],
		Intensity: asFloat32(spectra)[n:],
	}
	return man, sp, mzindex.PixelTable(asInt32(pixels)), nil
}

func readRawFile(path string, wantBytes int, wantSum string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if len(data) != wantBytes {
		return nil, fmt.Errorf("%s is %d bytes, want %d", filepath.Base(path), len(data), wantBytes)
	}
	if wantSum != "" {
		if sum := checksum(data); sum != wantSum {
			return nil, fmt.Errorf("%s checksum %s does not match manifest %s", filepath.Base(path), sum, wantSum)
		}
	}
	return data, nil
}

// HasLookup reports whether a slice directory already holds a lookup bundle
// for the given divider.
func HasLookup(dir string, divider float64) bool {
	_, err := os.Stat(filepath.Join(dir, LookupDirName(divider), manifestFile))
	return err == nil
}

// ReadManifest loads a slice's manifest without mapping any arrays.
func ReadManifest(dir string) (Manifest, error) {
	var man Manifest
	if err := readJSON(filepath.Join(dir, manifestFile), &man); err != nil {
		return man, fmt.Errorf("failed to read slice manifest: %w", err)
	}
	return man, nil
}

// ReadLookupManifests returns the lookup manifests present in a slice
// directory, one per built divider, in ascending divider order.
func ReadLookupManifests(dir string) ([]LookupManifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read slice dir %s: %w", dir, err)
	}

	var lookups []LookupManifest
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "lookup_") {
			continue
		}
		var lman LookupManifest
		if err := readJSON(filepath.Join(dir, e.Name(), manifestFile), &lman); err != nil {
			continue
		}
		lookups = append(lookups, lman)
	}
	sort.Slice(lookups, func(i, j int) bool { return lookups[i].Divider < lookups[j].Divider })
	return lookups, nil
}

// DiscoverSlices returns the slice numbers present under a dataset root, in
// ascending order. A slice counts as present when its directory holds a
// manifest.
func DiscoverSlices(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset root %s: %w", root, err)
	}

	var slices []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "slice_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "slice_"))
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), manifestFile)); err != nil {
			continue
		}
		slices = append(slices, n)
	}
	sort.Ints(slices)
	return slices, nil
}
