// Package handlers provides HTTP handlers for the portfolio optimizer.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/frontier/internal/modules/marketdata"
	"github.com/aristath/frontier/internal/modules/optimization"
)

// DatasetMetrics resolves a dataset key to estimator outputs.
type DatasetMetrics interface {
	Metrics(ctx context.Context, key marketdata.DatasetKey) (marketdata.DatasetMetrics, error)
}

// Handler handles optimizer HTTP requests
type Handler struct {
	service  *optimization.OptimizerService
	datasets DatasetMetrics
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new optimizer handler. datasets may be nil, which
// disables the live endpoint.
func NewHandler(service *optimization.OptimizerService, datasets DatasetMetrics, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		datasets: datasets,
		validate: NewValidator(),
		log:      log.With().Str("handler", "optimizer").Logger(),
	}
}

// ProblemRequest carries the estimator outputs in the request body.
type ProblemRequest struct {
	Assets          []string       `json:"assets" validate:"required,min=1,unique,dive,required"`
	ExpectedReturns []float64      `json:"expected_returns" validate:"required,min=1"`
	Covariance      [][]float64    `json:"covariance" validate:"required,min=1"`
	Bounds          *BoundsRequest `json:"bounds,omitempty" validate:"omitempty"`
}

// BoundsRequest overrides per-asset weight bounds.
type BoundsRequest struct {
	Lower         map[string]float64 `json:"lower,omitempty"`
	Upper         map[string]float64 `json:"upper,omitempty"`
	MaxIterations int                `json:"max_iterations,omitempty" validate:"gte=0"`
}

// RunRequest represents a request to solve for a target return
type RunRequest struct {
	ProblemRequest
	TargetReturn *float64 `json:"target_return" validate:"required"`
}

// FrontierRequest represents a request to sweep the efficient frontier
type FrontierRequest struct {
	ProblemRequest
	Points int `json:"points" validate:"required,min=2,max=200"`
}

// RunResponse is the body of a single solve.
type RunResponse struct {
	RunID        string              `json:"run_id"`
	TargetReturn *float64            `json:"target_return,omitempty"`
	Result       optimization.Result `json:"result"`
	Display      *DisplayView        `json:"display,omitempty"`
}

func (p ProblemRequest) inputs() (optimization.ExpectedReturns, optimization.CovarianceMatrix, optimization.Options, error) {
	mu := optimization.ExpectedReturns{Assets: p.Assets, Values: p.ExpectedReturns}
	sigma, err := optimization.NewCovarianceMatrix(p.Assets, p.Covariance)
	if err != nil {
		return mu, sigma, optimization.Options{}, err
	}
	var opts optimization.Options
	if p.Bounds != nil {
		opts = optimization.Options{
			Lower:         p.Bounds.Lower,
			Upper:         p.Bounds.Upper,
			MaxIterations: p.Bounds.MaxIterations,
		}
	}
	return mu, sigma, opts, nil
}

// HandleGetStatus handles GET /api/optimizer/
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"periods_per_year":    h.service.PeriodsPerYear(),
			"max_frontier_points": optimization.MaxFrontierPoints,
			"slider_step":         marketdata.SliderStep,
			"display_threshold":   DisplayThreshold,
			"live_enabled":        h.datasets != nil,
		},
		"metadata": metadata(),
	})
}

// HandleRun handles POST /api/optimizer/run
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !h.decode(w, r, &req) {
		return
	}
	mu, sigma, opts, err := req.inputs()
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.service.Optimize(mu, sigma, *req.TargetReturn, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     newRunResponse(req.TargetReturn, res),
		"metadata": metadata(),
	})
}

// HandleMinVariance handles POST /api/optimizer/min-variance
func (h *Handler) HandleMinVariance(w http.ResponseWriter, r *http.Request) {
	var req ProblemRequest
	if !h.decode(w, r, &req) {
		return
	}
	mu, sigma, opts, err := req.inputs()
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.service.MinVariance(mu, sigma, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     newRunResponse(nil, res),
		"metadata": metadata(),
	})
}

// HandleFrontier handles POST /api/optimizer/frontier
func (h *Handler) HandleFrontier(w http.ResponseWriter, r *http.Request) {
	var req FrontierRequest
	if !h.decode(w, r, &req) {
		return
	}
	mu, sigma, opts, err := req.inputs()
	if err != nil {
		h.writeError(w, err)
		return
	}

	points, err := h.service.Frontier(r.Context(), mu, sigma, req.Points, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"run_id": uuid.NewString(),
			"points": points,
		},
		"metadata": metadata(),
	})
}

func newRunResponse(target *float64, res optimization.Result) RunResponse {
	return RunResponse{
		RunID:        uuid.NewString(),
		TargetReturn: target,
		Result:       res,
		Display:      NewDisplayView(res),
	}
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Warn().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		http.Error(w, ValidationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Optimizer request failed")
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

// StatusFor maps optimizer and dataset errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, optimization.ErrInvalidInput), errors.Is(err, marketdata.ErrUnknownSource):
		return http.StatusBadRequest
	case errors.Is(err, optimization.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, marketdata.ErrDatasetNotFound):
		return http.StatusNotFound
	case errors.Is(err, marketdata.ErrArchiveDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func metadata() map[string]interface{} {
	return map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

// NewValidator reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationMessage flattens validator errors into one line.
func ValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}
