package api

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ColasDroin/lbae-sub000/internal/cache"
	"github.com/ColasDroin/lbae-sub000/internal/data/bundle"
	"github.com/ColasDroin/lbae-sub000/internal/jobstore"
	"github.com/ColasDroin/lbae-sub000/internal/service"
	"github.com/ColasDroin/lbae-sub000/pkg/mzindex"
)

// testRouter holds the router under test and its dependencies.
type testRouter struct {
	router   http.Handler
	registry *DatasetRegistry
	jm       *JobManager
}

// setupTestRouter builds one small slice on disk, runs the real lookup build
// against it and wires the full router the way main does.
func setupTestRouter(t *testing.T) *testRouter {
	t.Helper()

	root := t.TempDir()
	man := bundle.Manifest{Slice: 1, Height: 2, Width: 2, SizeSpectrum: 8}
	sp := mzindex.Spectra{
		Mz:        []float32{1.0, 3.5, 7.0, 2.0},
		Intensity: []float32{1, 2, 3, 4},
	}
	pixels := mzindex.PixelTable{0, 2, -1, -1, 3, 3, -1, -1}

	writer := bundle.NewWriter(root)
	if _, err := writer.WriteSlice(man, sp, pixels); err != nil {
		t.Fatalf("failed to write slice: %v", err)
	}

	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB: 8,
		ImageTTL:         time.Minute,
		QueryCacheSize:   16,
		Codec:            "lz4",
	}, nil)
	if err != nil {
		t.Fatalf("failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })

	svc := service.NewSpectrumService(service.SpectrumServiceConfig{
		DatasetID: "brain1",
		Root:      root,
		Divider:   2,
		Cache:     cacheManager,
	})
	t.Cleanup(func() { svc.Close() })

	registry := NewDatasetRegistry("brain1", []string{"brain1"}, "")
	registry.Register("brain1", svc)

	// Build the lookup bundle through the real build path so the service
	// serves slice 1.
	buildSvc := service.NewBuildService(registry, nil)
	seedStore, err := jobstore.NewStore(filepath.Join(root, "seed.db"))
	if err != nil {
		t.Fatalf("failed to open seed store: %v", err)
	}
	seedJob := &jobstore.BuildJob{
		ID:        "seed",
		DatasetID: "brain1",
		Status:    jobstore.JobStatusQueued,
		Params:    jobstore.BuildJobParams{DatasetID: "brain1", Slices: []int{1}, Force: true},
		CreatedAt: time.Now().UTC(),
	}
	if err := seedStore.CreateJob(seedJob); err != nil {
		t.Fatalf("failed to create seed job: %v", err)
	}
	if err := buildSvc.ExecuteBuildJob(context.Background(), seedStore, "seed"); err != nil {
		t.Fatalf("seed build failed: %v", err)
	}
	seedStore.Close()

	jm, err := NewJobManager(JobManagerConfig{
		MaxConcurrent: 1,
		SQLitePath:    filepath.Join(root, "jobs.db"),
	})
	if err != nil {
		t.Fatalf("failed to create job manager: %v", err)
	}
	jm.Executor = buildSvc.ExecuteBuildJob
	jm.Start()
	t.Cleanup(jm.Stop)

	router := NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
		JobManager:  jm,
	})

	return &testRouter{router: router, registry: registry, jm: jm}
}

// --- Helper Functions ---

func doRequest(t *testing.T, router http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v (body: %s)", err, rec.Body.String())
	}
	return payload
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rec.Code != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, rec.Code, rec.Body.String())
	}
}

// numberSlice pulls a JSON array of numbers out of a decoded payload.
func numberSlice(t *testing.T, payload map[string]interface{}, field string) []float64 {
	t.Helper()
	raw, ok := payload[field].([]interface{})
	if !ok {
		t.Fatalf("expected array field %q, got %T", field, payload[field])
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			t.Fatalf("field %q element %d is not a number: %T", field, i, v)
		}
		out[i] = f
	}
	return out
}

// --- Test Cases ---

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/health", nil)
	assertStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "OK" {
		t.Errorf("expected body OK, got %q", rec.Body.String())
	}
}

func TestDatasetsEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/api/datasets", nil)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	if got, _ := payload["default"].(string); got != "brain1" {
		t.Errorf("expected default brain1, got %q", got)
	}
	datasets, ok := payload["datasets"].([]interface{})
	if !ok || len(datasets) != 1 {
		t.Fatalf("expected 1 dataset, got %v", payload["datasets"])
	}
	info, _ := datasets[0].(map[string]interface{})
	if got, _ := info["id"].(string); got != "brain1" {
		t.Errorf("expected dataset id brain1, got %q", got)
	}
	slices, _ := info["slices"].([]interface{})
	if len(slices) != 1 {
		t.Errorf("expected 1 slice in dataset info, got %v", info["slices"])
	}
}

func TestMetadataEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/metadata", nil)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	if got, _ := payload["total"].(float64); got != 1 {
		t.Errorf("expected 1 slice, got %v", payload["total"])
	}
	slices, _ := payload["slices"].([]interface{})
	if len(slices) != 1 {
		t.Fatalf("expected 1 slice entry, got %d", len(slices))
	}
	meta, _ := slices[0].(map[string]interface{})
	if got, _ := meta["slice"].(float64); got != 1 {
		t.Errorf("expected slice 1, got %v", meta["slice"])
	}
	if got, _ := meta["n_peaks"].(float64); got != 4 {
		t.Errorf("expected 4 peaks, got %v", meta["n_peaks"])
	}
}

func TestImageEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/image?lb=1.0&hb=4.0", nil)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	if got, _ := payload["height"].(float64); got != 2 {
		t.Errorf("expected height 2, got %v", payload["height"])
	}
	if got, _ := payload["width"].(float64); got != 2 {
		t.Errorf("expected width 2, got %v", payload["width"])
	}
	img := numberSlice(t, payload, "image")
	want := []float64{3, 0, 4, 0}
	if len(img) != len(want) {
		t.Fatalf("expected %d pixels, got %d", len(want), len(img))
	}
	for i := range want {
		if math.Abs(img[i]-want[i]) > 1e-6 {
			t.Errorf("pixel %d: expected %v, got %v", i, want[i], img[i])
		}
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age") {
		t.Errorf("expected Cache-Control with max-age, got %q", cc)
	}
}

func TestImageEndpointBinary(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/image?lb=1.0&hb=4.0&format=bin", nil)
	assertStatus(t, rec, http.StatusOK)

	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("expected octet-stream, got %q", ct)
	}
	if got := rec.Header().Get("X-Image-Height"); got != "2" {
		t.Errorf("expected X-Image-Height 2, got %q", got)
	}
	if got := rec.Header().Get("X-Image-Width"); got != "2" {
		t.Errorf("expected X-Image-Width 2, got %q", got)
	}

	body := rec.Body.Bytes()
	if len(body) != 16 {
		t.Fatalf("expected 16 bytes (4 float32 pixels), got %d", len(body))
	}
	want := []float32{3, 0, 4, 0}
	for i := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
		if got != want[i] {
			t.Errorf("pixel %d: expected %v, got %v", i, want[i], got)
		}
	}
}

func TestImageEndpointBadRequest(t *testing.T) {
	ts := setupTestRouter(t)

	// Missing bounds
	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/image?lb=1.0", nil)
	assertStatus(t, rec, http.StatusBadRequest)

	// Non-numeric bound
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/image?lb=abc&hb=4.0", nil)
	assertStatus(t, rec, http.StatusBadRequest)

	// Unknown format
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/image?lb=1.0&hb=4.0&format=xml", nil)
	assertStatus(t, rec, http.StatusBadRequest)

	// Non-numeric slice
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/abc/image?lb=1.0&hb=4.0", nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestImageEndpointNotFound(t *testing.T) {
	ts := setupTestRouter(t)

	// Unknown dataset
	rec := doRequest(t, ts.router, http.MethodGet, "/d/missing/api/slices/1/image?lb=1.0&hb=4.0", nil)
	assertStatus(t, rec, http.StatusNotFound)

	// Unknown slice
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/9/image?lb=1.0&hb=4.0", nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestTotalImageEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/image/total", nil)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	img := numberSlice(t, payload, "image")
	want := []float64{6, 0, 4, 0}
	if len(img) != len(want) {
		t.Fatalf("expected %d pixels, got %d", len(want), len(img))
	}
	for i := range want {
		if math.Abs(img[i]-want[i]) > 1e-6 {
			t.Errorf("pixel %d: expected %v, got %v", i, want[i], img[i])
		}
	}
}

func TestSpectrumEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/spectrum", nil)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	if got, _ := payload["resolution"].(string); got != "high" {
		t.Errorf("expected high resolution, got %q", got)
	}
	mz := numberSlice(t, payload, "mz")
	intensity := numberSlice(t, payload, "intensity")
	if len(mz) != len(intensity) {
		t.Fatalf("mz and intensity lengths differ: %d vs %d", len(mz), len(intensity))
	}
	if len(mz) != 10 {
		t.Errorf("expected 10 entries in padded high-res average, got %d", len(mz))
	}

	// Low-resolution overview
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/spectrum?low=true", nil)
	assertStatus(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	if got, _ := payload["resolution"].(string); got != "low" {
		t.Errorf("expected low resolution, got %q", got)
	}
	if mz := numberSlice(t, payload, "mz"); len(mz) != 4 {
		t.Errorf("expected 4 entries in low-res average, got %d", len(mz))
	}
}

func TestSpectrumRangeEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/spectrum/range?lb=2.0&hb=3.5", nil)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	mz := numberSlice(t, payload, "mz")
	intensity := numberSlice(t, payload, "intensity")
	if len(mz) != 4 {
		t.Fatalf("expected 4 entries in window, got %d", len(mz))
	}
	if mz[0] != 2.0 || math.Abs(intensity[0]-0.4) > 1e-6 {
		t.Errorf("expected first entry (2.0, 0.4), got (%v, %v)", mz[0], intensity[0])
	}
}

func TestSpectrumBoundariesEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/spectrum/boundaries?lb=2.0&hb=3.5", nil)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	lbIndex, ok1 := payload["lb_index"].(float64)
	hbIndex, ok2 := payload["hb_index"].(float64)
	if !ok1 || !ok2 {
		t.Fatalf("expected numeric boundary indices, got %v / %v", payload["lb_index"], payload["hb_index"])
	}
	if lbIndex >= hbIndex {
		t.Errorf("expected lb_index < hb_index, got %v >= %v", lbIndex, hbIndex)
	}
}

func TestPixelSpectrumEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/pixels/0/0", nil)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	if got, _ := payload["n_peaks"].(float64); got != 3 {
		t.Errorf("expected 3 peaks at (0, 0), got %v", payload["n_peaks"])
	}
	mz := numberSlice(t, payload, "mz")
	if len(mz) != 3 || mz[0] != 1.0 {
		t.Errorf("expected mz [1.0, 3.5, 7.0], got %v", mz)
	}

	// Empty pixel has an empty spectrum
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/pixels/1/1", nil)
	assertStatus(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	if got, _ := payload["n_peaks"].(float64); got != 0 {
		t.Errorf("expected empty pixel, got %v peaks", payload["n_peaks"])
	}

	// Out of range
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/pixels/9/0", nil)
	assertStatus(t, rec, http.StatusBadRequest)

	// Non-numeric coordinate
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/pixels/abc/0", nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestRegionSpectrumEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	// Object payload with span triples
	body := strings.NewReader(`{"spans": [[0, 0, 1], [1, 0, 1]]}`)
	rec := doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/slices/1/region/spectrum", body)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	if got, _ := payload["n_peaks"].(float64); got != 4 {
		t.Errorf("expected 4 merged peaks, got %v", payload["n_peaks"])
	}
	if got, _ := payload["n_spans"].(float64); got != 2 {
		t.Errorf("expected 2 spans, got %v", payload["n_spans"])
	}

	// Bare array payload
	body = strings.NewReader(`[[0, 0, 1], [1, 0, 1]]`)
	rec = doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/slices/1/region/spectrum", body)
	assertStatus(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	if got, _ := payload["n_peaks"].(float64); got != 4 {
		t.Errorf("expected 4 merged peaks from bare array, got %v", payload["n_peaks"])
	}

	// Object spans
	body = strings.NewReader(`{"spans": [{"row": 0, "col0": 0, "col1": 1}, {"row": 1, "col0": 0, "col1": 1}]}`)
	rec = doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/slices/1/region/spectrum", body)
	assertStatus(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	if got, _ := payload["n_peaks"].(float64); got != 4 {
		t.Errorf("expected 4 merged peaks from object spans, got %v", payload["n_peaks"])
	}
}

func TestRegionSpectrumEndpointBadBody(t *testing.T) {
	ts := setupTestRouter(t)

	// Broken JSON
	rec := doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/slices/1/region/spectrum", strings.NewReader(`{`))
	assertStatus(t, rec, http.StatusBadRequest)

	// Empty span list
	rec = doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/slices/1/region/spectrum", strings.NewReader(`{"spans": []}`))
	assertStatus(t, rec, http.StatusBadRequest)

	// Wrong triple arity
	rec = doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/slices/1/region/spectrum", strings.NewReader(`[[0, 1]]`))
	assertStatus(t, rec, http.StatusBadRequest)

	// Span outside the slice
	rec = doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/slices/1/region/spectrum", strings.NewReader(`[[9, 0, 1]]`))
	assertStatus(t, rec, http.StatusBadRequest)

	// Missing body
	rec = doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/slices/1/region/spectrum", strings.NewReader(""))
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestCleanMemoryEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	// Warm the cache, then drop it
	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/image?lb=1.0&hb=4.0", nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/clean_memory", nil)
	assertStatus(t, rec, http.StatusOK)
	payload := decodeJSON(t, rec)
	if got, _ := payload["cleaned"].(bool); !got {
		t.Errorf("expected cleaned true, got %v", payload["cleaned"])
	}

	// Image still served after remap
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/slices/1/image?lb=1.0&hb=4.0", nil)
	assertStatus(t, rec, http.StatusOK)
}

func TestStatsEndpoint(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/stats", nil)
	assertStatus(t, rec, http.StatusOK)

	payload := decodeJSON(t, rec)
	if got, _ := payload["n_slices"].(float64); got != 1 {
		t.Errorf("expected 1 slice, got %v", payload["n_slices"])
	}
	if got, _ := payload["total_peaks"].(float64); got != 4 {
		t.Errorf("expected 4 peaks, got %v", payload["total_peaks"])
	}
}

func TestBuildJobLifecycle(t *testing.T) {
	ts := setupTestRouter(t)

	// Submit
	rec := doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/build/jobs",
		strings.NewReader(`{"force": true}`))
	assertStatus(t, rec, http.StatusAccepted)
	payload := decodeJSON(t, rec)
	jobID, _ := payload["job_id"].(string)
	if jobID == "" {
		t.Fatalf("expected job_id in response, got %v", payload)
	}

	// Poll status until the job finishes
	deadline := time.Now().Add(10 * time.Second)
	status := ""
	for time.Now().Before(deadline) {
		rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/build/jobs/"+jobID, nil)
		assertStatus(t, rec, http.StatusOK)
		payload = decodeJSON(t, rec)
		status, _ = payload["status"].(string)
		if status == "completed" || status == "failed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status != "completed" {
		t.Fatalf("expected job to complete, got status %q (error: %v)", status, payload["error"])
	}

	// Fetch results
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/build/jobs/"+jobID+"/result", nil)
	assertStatus(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	if got, _ := payload["total"].(float64); got != 1 {
		t.Fatalf("expected 1 result, got %v", payload["total"])
	}
	items, _ := payload["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item, _ := items[0].(map[string]interface{})
	if got, _ := item["slice"].(float64); got != 1 {
		t.Errorf("expected slice 1 in result, got %v", item["slice"])
	}
	if got, _ := item["num_peaks"].(float64); got != 4 {
		t.Errorf("expected 4 peaks in result, got %v", item["num_peaks"])
	}

	// The job shows up in the dataset listing
	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/build/jobs", nil)
	assertStatus(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	jobs, _ := payload["jobs"].([]interface{})
	if len(jobs) != 1 {
		t.Fatalf("expected 1 listed job, got %v", payload["jobs"])
	}
	listed, _ := jobs[0].(map[string]interface{})
	if got, _ := listed["job_id"].(string); got != jobID {
		t.Errorf("expected listed job %q, got %q", jobID, got)
	}

	// Cancel on a finished job reports false
	rec = doRequest(t, ts.router, http.MethodDelete, "/d/brain1/api/build/jobs/"+jobID, nil)
	assertStatus(t, rec, http.StatusOK)
	payload = decodeJSON(t, rec)
	if got, ok := payload["cancelled"].(bool); !ok || got {
		t.Errorf("expected cancelled false for finished job, got %v", payload["cancelled"])
	}
}

func TestBuildJobNotFound(t *testing.T) {
	ts := setupTestRouter(t)

	rec := doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/build/jobs/nope", nil)
	assertStatus(t, rec, http.StatusNotFound)

	rec = doRequest(t, ts.router, http.MethodGet, "/d/brain1/api/build/jobs/nope/result", nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestBuildJobInvalidRequest(t *testing.T) {
	ts := setupTestRouter(t)

	// Unknown source
	rec := doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/build/jobs",
		strings.NewReader(`{"source": "zarr"}`))
	assertStatus(t, rec, http.StatusBadRequest)

	// TileDB ingestion without a configured path
	rec = doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/build/jobs",
		strings.NewReader(`{"source": "tiledb", "slices": [1]}`))
	assertStatus(t, rec, http.StatusNotFound)

	// Negative divider
	rec = doRequest(t, ts.router, http.MethodPost, "/d/brain1/api/build/jobs",
		strings.NewReader(`{"divider": -1}`))
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestBuildJobNoManager(t *testing.T) {
	ts := setupTestRouter(t)

	// A router wired without a job manager refuses job requests
	router := NewRouter(RouterConfig{
		Registry:    ts.registry,
		CORSOrigins: []string{"http://localhost:3000"},
	})

	rec := doRequest(t, router, http.MethodPost, "/d/brain1/api/build/jobs",
		strings.NewReader(`{"force": true}`))
	assertStatus(t, rec, http.StatusNotImplemented)
}
