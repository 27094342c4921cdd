// Package handlers provides HTTP handlers for datasets and their estimates.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/marketdata"
	"github.com/aristath/frontier/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/frontier/internal/modules/optimization/handlers"
)

// Handler handles dataset HTTP requests
type Handler struct {
	service  *marketdata.Service
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new dataset handler
func NewHandler(service *marketdata.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: optimizationhandlers.NewValidator(),
		log:      log.With().Str("handler", "datasets").Logger(),
	}
}

// DatasetRequest names a dataset in a request body.
type DatasetRequest struct {
	Source string   `json:"source" validate:"required"`
	Start  string   `json:"start" validate:"required,datetime=2006-01-02"`
	End    string   `json:"end" validate:"required,datetime=2006-01-02"`
	Assets []string `json:"assets" validate:"required,min=1,dive,required"`
}

func (d DatasetRequest) key() (marketdata.DatasetKey, error) {
	start, _ := time.Parse("2006-01-02", d.Start)
	end, _ := time.Parse("2006-01-02", d.End)
	return marketdata.NewDatasetKey(d.Source, start, end, d.Assets)
}

// OptimizeRequest represents a request to optimize a dataset for a target return
type OptimizeRequest struct {
	DatasetRequest
	TargetReturn *float64 `json:"target_return" validate:"required"`
}

// EstimateRequest carries a raw return table: one row per period, one
// column per asset.
type EstimateRequest struct {
	Assets         []string    `json:"assets" validate:"required,min=1,unique,dive,required"`
	Returns        [][]float64 `json:"returns" validate:"required,min=2"`
	PeriodsPerYear int         `json:"periods_per_year" validate:"gte=0"`
}

func (e EstimateRequest) matrix() (optimization.ReturnMatrix, bool) {
	series := make(map[string][]float64, len(e.Assets))
	for _, row := range e.Returns {
		if len(row) != len(e.Assets) {
			return optimization.ReturnMatrix{}, false
		}
		for j, asset := range e.Assets {
			series[asset] = append(series[asset], row[j])
		}
	}
	return optimization.ReturnMatrix{Assets: e.Assets, Series: series}, true
}

// HandleGetSources handles GET /api/datasets/sources
func (h *Handler) HandleGetSources(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     map[string]interface{}{"sources": h.service.Sources()},
		"metadata": metadata(),
	})
}

// HandleGetMetrics handles GET /api/datasets/metrics?source=&start=&end=&assets=
func (h *Handler) HandleGetMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := marketdata.ParseDatasetKey(q.Get("source"), q.Get("start"), q.Get("end"), q.Get("assets"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.service.Metrics(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"dataset":          m.Key.String(),
			"assets":           m.ExpectedReturns.Assets,
			"observations":     m.Observations,
			"fill":             m.Fill,
			"expected_returns": m.ExpectedReturns.Map(),
			"covariance":       m.Covariance.Rows(),
			"correlations":     m.Correlations.Rows(),
			"profiles":         m.Profiles,
			"slider":           m.Slider,
		},
		"metadata": metadata(),
	})
}

// HandleEstimate handles POST /api/datasets/estimate
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rm, ok := req.matrix()
	if !ok {
		http.Error(w, "every returns row must have one value per asset", http.StatusBadRequest)
		return
	}

	mu, sigma, err := h.service.Optimizer().EstimateWithPeriods(rm, req.PeriodsPerYear)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"assets":           mu.Assets,
			"expected_returns": mu.Map(),
			"covariance":       sigma.Rows(),
			"correlations":     optimization.Correlations(sigma).Rows(),
		},
		"metadata": metadata(),
	})
}

// HandleOptimize handles POST /api/datasets/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, err := req.key()
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.service.Optimize(r.Context(), key, *req.TargetReturn, optimization.Options{})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": optimizationhandlers.RunResponse{
			RunID:        uuid.NewString(),
			TargetReturn: req.TargetReturn,
			Result:       res,
			Display:      optimizationhandlers.NewDisplayView(res),
		},
		"metadata": metadata(),
	})
}

// HandleInvalidate handles DELETE /api/datasets/cache?source=[&start=&end=&assets=]
//
// With only a source every cached dataset of that source is dropped.
func (h *Handler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source := marketdata.NormalizeSource(q.Get("source"))
	if source == "" {
		http.Error(w, "source is required", http.StatusBadRequest)
		return
	}

	if q.Get("start") == "" && q.Get("end") == "" && q.Get("assets") == "" {
		deleted, err := h.service.InvalidateSource(r.Context(), source)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":     map[string]interface{}{"source": source, "deleted": deleted},
			"metadata": metadata(),
		})
		return
	}

	key, err := marketdata.ParseDatasetKey(source, q.Get("start"), q.Get("end"), q.Get("assets"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.Invalidate(r.Context(), key); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     map[string]interface{}{"dataset": key.String()},
		"metadata": metadata(),
	})
}

// HandleArchive handles POST /api/datasets/archive
func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	var req DatasetRequest
	if !h.decode(w, r, &req) {
		return
	}
	key, err := req.key()
	if err != nil {
		h.writeError(w, err)
		return
	}

	location, err := h.service.ArchiveKey(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     map[string]interface{}{"dataset": key.String(), "location": location},
		"metadata": metadata(),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Warn().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, optimizationhandlers.ValidationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := optimizationhandlers.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Dataset request failed")
	}
	http.Error(w, err.Error(), status)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func metadata() map[string]interface{} {
	return map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}
}
