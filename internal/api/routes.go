package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ColasDroin/lbae-sub000/internal/jobstore"
	"github.com/ColasDroin/lbae-sub000/internal/service"
	"github.com/ColasDroin/lbae-sub000/pkg/mzindex"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	JobManager  *JobManager
	Metrics     prometheus.Gatherer
	Logger      *zap.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics
	if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Route("/api", func(r chi.Router) {
			r.Get("/metadata", datasetMetadataHandler)
			r.Get("/stats", datasetStatsHandler)
			r.Post("/clean_memory", datasetCleanMemoryHandler)

			r.Route("/slices/{slice}", func(r chi.Router) {
				r.Get("/image", datasetImageHandler)
				r.Get("/image/total", datasetTotalImageHandler)
				r.Get("/spectrum", datasetSpectrumHandler)
				r.Get("/spectrum/range", datasetSpectrumRangeHandler)
				r.Get("/spectrum/boundaries", datasetSpectrumBoundariesHandler)
				r.Get("/pixels/{row}/{col}", datasetPixelSpectrumHandler)
				r.Post("/region/spectrum", datasetRegionSpectrumHandler)
			})

			// Build job endpoints
			r.Route("/build/jobs", func(r chi.Router) {
				r.Post("/", buildJobSubmitHandler(cfg.JobManager))
				r.Get("/", buildJobListHandler(cfg.JobManager))
				r.Get("/{job_id}", buildJobStatusHandler(cfg.JobManager))
				r.Get("/{job_id}/result", buildJobResultHandler(cfg.JobManager))
				r.Delete("/{job_id}", buildJobCancelHandler(cfg.JobManager))
			})
		})
	})

	return r
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("handled request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the spectrum service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.SpectrumService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.SpectrumService); ok {
		return svc
	}
	return nil
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// Dataset-scoped handlers (get service from context)
func datasetMetadataHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	metadataHandler(svc)(w, r)
}

func datasetStatsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	statsHandler(svc)(w, r)
}

func datasetCleanMemoryHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	cleanMemoryHandler(svc)(w, r)
}

func datasetImageHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	imageHandler(svc)(w, r)
}

func datasetTotalImageHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	totalImageHandler(svc)(w, r)
}

func datasetSpectrumHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	spectrumHandler(svc)(w, r)
}

func datasetSpectrumRangeHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	spectrumRangeHandler(svc)(w, r)
}

func datasetSpectrumBoundariesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	spectrumBoundariesHandler(svc)(w, r)
}

func datasetPixelSpectrumHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	pixelSpectrumHandler(svc)(w, r)
}

func datasetRegionSpectrumHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	regionSpectrumHandler(svc)(w, r)
}

// Original handlers (take service as parameter)

func metadataHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slices := svc.Metadata()
		response := map[string]interface{}{
			"slices": slices,
			"total":  len(slices),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func statsHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(svc.Stats())
	}
}

func cleanMemoryHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CleanMemory(); err != nil {
			http.Error(w, "failed to clean memory: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"cleaned": true,
		})
	}
}

func imageHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slice, err := parseSliceParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lb, hb, err := parseMzBounds(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		normalize := parseBoolParam(r.URL.Query(), "normalize")
		format, err := parseFormat(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		img, height, width, err := svc.GetImage(slice, lb, hb, normalize)
		if err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeImage(w, format, map[string]interface{}{
			"slice":      slice,
			"lb":         lb,
			"hb":         hb,
			"normalized": normalize,
		}, img, height, width)
	}
}

func totalImageHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slice, err := parseSliceParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format, err := parseFormat(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		img, height, width, err := svc.GetTotalImage(slice)
		if err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeImage(w, format, map[string]interface{}{
			"slice": slice,
		}, img, height, width)
	}
}

func spectrumHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slice, err := parseSliceParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lowRes := parseBoolParam(r.URL.Query(), "low")

		mz, intensity, err := svc.GetAveragedSpectrum(slice, lowRes)
		if err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"slice":      slice,
			"resolution": resolutionName(lowRes),
			"mz":         mz,
			"intensity":  intensity,
		})
	}
}

func spectrumRangeHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slice, err := parseSliceParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lb, hb, err := parseMzBounds(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lowRes := parseBoolParam(r.URL.Query(), "low")

		mz, intensity, err := svc.GetAveragedSpectrumRange(slice, lb, hb, lowRes)
		if err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"slice":      slice,
			"resolution": resolutionName(lowRes),
			"lb":         lb,
			"hb":         hb,
			"mz":         mz,
			"intensity":  intensity,
		})
	}
}

func spectrumBoundariesHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slice, err := parseSliceParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lb, hb, err := parseMzBounds(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lowRes := parseBoolParam(r.URL.Query(), "low")

		lbIndex, hbIndex, err := svc.GetAveragedBoundaries(slice, lb, hb, lowRes)
		if err != nil {
			status := http.StatusInternalServerError
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"slice":    slice,
			"lb":       lb,
			"hb":       hb,
			"lb_index": lbIndex,
			"hb_index": hbIndex,
		})
	}
}

func pixelSpectrumHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slice, err := parseSliceParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		row, err := strconv.Atoi(chi.URLParam(r, "row"))
		if err != nil {
			http.Error(w, "invalid row", http.StatusBadRequest)
			return
		}
		col, err := strconv.Atoi(chi.URLParam(r, "col"))
		if err != nil {
			http.Error(w, "invalid col", http.StatusBadRequest)
			return
		}

		mz, intensity, err := svc.GetPixelSpectrum(slice, row, col)
		if err != nil {
			status := http.StatusBadRequest
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"slice":     slice,
			"row":       row,
			"col":       col,
			"n_peaks":   len(mz),
			"mz":        mz,
			"intensity": intensity,
		})
	}
}

func regionSpectrumHandler(svc *service.SpectrumService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slice, err := parseSliceParam(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		spans, err := parseRegionSpansBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(spans) == 0 {
			http.Error(w, "empty spans list", http.StatusBadRequest)
			return
		}

		mz, intensity, err := svc.GetRegionSpectrum(slice, spans)
		if err != nil {
			status := http.StatusBadRequest
			if strings.Contains(err.Error(), "not found") {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"slice":     slice,
			"n_spans":   len(spans),
			"n_peaks":   len(mz),
			"mz":        mz,
			"intensity": intensity,
		})
	}
}

// Parsing helpers

func parseSliceParam(r *http.Request) (int, error) {
	slice, err := strconv.Atoi(chi.URLParam(r, "slice"))
	if err != nil {
		return 0, errors.New("invalid slice: " + chi.URLParam(r, "slice"))
	}
	return slice, nil
}

func parseMzBounds(query url.Values) (float64, float64, error) {
	lbStr := strings.TrimSpace(query.Get("lb"))
	hbStr := strings.TrimSpace(query.Get("hb"))
	if lbStr == "" || hbStr == "" {
		return 0, 0, errors.New("missing required query params: lb, hb")
	}
	lb, err := strconv.ParseFloat(lbStr, 64)
	if err != nil || math.IsNaN(lb) || math.IsInf(lb, 0) {
		return 0, 0, errors.New("invalid lb: " + lbStr)
	}
	hb, err := strconv.ParseFloat(hbStr, 64)
	if err != nil || math.IsNaN(hb) || math.IsInf(hb, 0) {
		return 0, 0, errors.New("invalid hb: " + hbStr)
	}
	return lb, hb, nil
}

func parseBoolParam(query url.Values, name string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(query.Get(name)))
	return err == nil && v
}

func parseFormat(query url.Values) (string, error) {
	format := strings.TrimSpace(query.Get("format"))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "bin" {
		return "", errors.New("invalid format (expected json or bin)")
	}
	return format, nil
}

func resolutionName(lowRes bool) string {
	if lowRes {
		return "low"
	}
	return "high"
}

// writeImage writes an intensity image either as a JSON document or as raw
// little-endian float32 pixels with the shape in headers.
func writeImage(w http.ResponseWriter, format string, response map[string]interface{}, img []float32, height, width int) {
	if format == "bin" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Image-Height", strconv.Itoa(height))
		w.Header().Set("X-Image-Width", strconv.Itoa(width))
		buf := make([]byte, 4*len(img))
		for i, v := range img {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		w.Write(buf)
		return
	}

	response["height"] = height
	response["width"] = width
	response["image"] = img
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

const maxRegionBodyBytes = 10 << 20 // 10 MiB

const maxRegionSpans = 10000

// parseRegionSpansBody reads the span list of a region request. The preferred
// payload is {"spans": [[row, col0, col1], ...]}; a bare array of triples is
// also accepted.
func parseRegionSpansBody(r *http.Request) ([]mzindex.RowSpan, error) {
	if r.Body == nil {
		return nil, errors.New("missing request body")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRegionBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRegionBodyBytes {
		return nil, errors.New("region body too large")
	}

	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil, errors.New("missing request body")
	}

	if raw[0] == '{' {
		var payload struct {
			Spans []json.RawMessage `json:"spans"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, errors.New("invalid request body: " + err.Error())
		}
		return decodeSpans(payload.Spans)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.New("invalid request body: " + err.Error())
	}
	return decodeSpans(items)
}

// decodeSpans accepts each span as either a [row, col0, col1] triple or an
// object with row/col0/col1 fields.
func decodeSpans(items []json.RawMessage) ([]mzindex.RowSpan, error) {
	if len(items) > maxRegionSpans {
		return nil, errors.New("too many spans (batch requests)")
	}
	out := make([]mzindex.RowSpan, 0, len(items))
	for _, item := range items {
		var triple []int
		if err := json.Unmarshal(item, &triple); err == nil {
			if len(triple) != 3 {
				return nil, errors.New("span triples must be [row, col0, col1]")
			}
			out = append(out, mzindex.RowSpan{Row: triple[0], Col0: triple[1], Col1: triple[2]})
			continue
		}

		var span struct {
			Row  int `json:"row"`
			Col0 int `json:"col0"`
			Col1 int `json:"col1"`
		}
		if err := json.Unmarshal(item, &span); err != nil {
			return nil, errors.New("invalid span: " + string(item))
		}
		out = append(out, mzindex.RowSpan{Row: span.Row, Col0: span.Col0, Col1: span.Col1})
	}
	return out, nil
}

// Build job handlers

type buildJobSubmitRequest struct {
	Slices  []int   `json:"slices"`
	Divider float64 `json:"divider"`
	Source  string  `json:"source"`
	Force   bool    `json:"force"`
}

func buildJobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		svc := getDatasetService(r)
		if svc == nil {
			http.Error(w, "dataset service not available", http.StatusInternalServerError)
			return
		}

		var req buildJobSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		// Apply defaults
		if req.Source == "" {
			req.Source = "rebuild"
		}
		if req.Source != "rebuild" && req.Source != "tiledb" {
			http.Error(w, "invalid source (expected rebuild or tiledb)", http.StatusBadRequest)
			return
		}
		if req.Source == "tiledb" {
			if svc.TileDBPath() == "" {
				http.Error(w, "tiledb not configured for this dataset", http.StatusNotFound)
				return
			}
			if len(req.Slices) == 0 {
				http.Error(w, "slices is required for tiledb ingestion", http.StatusBadRequest)
				return
			}
		}
		if math.IsNaN(req.Divider) || math.IsInf(req.Divider, 0) || req.Divider < 0 {
			http.Error(w, "invalid divider", http.StatusBadRequest)
			return
		}

		datasetID := chi.URLParam(r, "dataset")
		params := jobstore.BuildJobParams{
			DatasetID: datasetID,
			Slices:    req.Slices,
			Divider:   req.Divider,
			Source:    req.Source,
			Force:     req.Force,
		}

		job, err := jm.Submit(params)
		if err != nil {
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func buildJobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		datasetID := chi.URLParam(r, "dataset")
		jobs, err := jm.Store().ListJobsByDataset(datasetID)
		if err != nil {
			http.Error(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
			return
		}

		items := make([]map[string]interface{}, 0, len(jobs))
		for _, job := range jobs {
			items = append(items, map[string]interface{}{
				"job_id":      job.ID,
				"status":      job.Status,
				"created_at":  job.CreatedAt,
				"finished_at": job.FinishedAt,
				"progress":    job.Progress,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"total": len(items),
			"jobs":  items,
		})
	}
}

func buildJobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		// Check dataset matches
		datasetID := chi.URLParam(r, "dataset")
		if job.Params.DatasetID != datasetID {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":      job.ID,
			"status":      job.Status,
			"created_at":  job.CreatedAt,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
			"progress":    job.Progress,
			"error":       job.Error,
		})
	}
}

func buildJobResultHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		datasetID := chi.URLParam(r, "dataset")
		if job.Params.DatasetID != datasetID {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		if job.Status != jobstore.JobStatusCompleted {
			http.Error(w, "job not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}

		// Parse pagination and order params
		offset := 0
		limit := 100
		orderBy := r.URL.Query().Get("order_by")
		if orderBy == "" {
			orderBy = "slice"
		}
		if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
			if v, err := strconv.Atoi(offsetStr); err == nil && v >= 0 {
				offset = v
			}
		}
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
				limit = v
				if limit > 500 {
					limit = 500
				}
			}
		}

		// Query results from SQLite
		items, total, err := jm.Store().QueryResults(jobID, orderBy, offset, limit)
		if err != nil {
			http.Error(w, "failed to query results: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"params":   job.Params,
			"total":    total,
			"offset":   offset,
			"limit":    limit,
			"order_by": orderBy,
			"items":    items,
		})
	}
}

func buildJobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		datasetID := chi.URLParam(r, "dataset")
		if job.Params.DatasetID != datasetID {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		cancelled := jm.Cancel(jobID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job_id":    jobID,
			"cancelled": cancelled,
		})
	}
}
