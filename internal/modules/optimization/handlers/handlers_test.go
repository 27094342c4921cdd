package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/frontier/internal/modules/marketdata"
	"github.com/aristath/frontier/internal/modules/optimization"
)

type fakeDatasets struct {
	metrics marketdata.DatasetMetrics
	err     error
}

func (f *fakeDatasets) Metrics(context.Context, marketdata.DatasetKey) (marketdata.DatasetMetrics, error) {
	return f.metrics, f.err
}

func correlatedMetrics(t *testing.T) marketdata.DatasetMetrics {
	t.Helper()
	sigma, err := optimization.NewCovarianceMatrix([]string{"A", "B"}, [][]float64{{0.04, 0.01}, {0.01, 0.03}})
	require.NoError(t, err)
	return marketdata.DatasetMetrics{
		ExpectedReturns: optimization.ExpectedReturns{Assets: []string{"A", "B"}, Values: []float64{0.12, 0.08}},
		Covariance:      sigma,
		Slider:          marketdata.SliderRange{Max: 0.12, Step: marketdata.SliderStep},
	}
}

func setupRouter(datasets DatasetMetrics) *chi.Mux {
	service := optimization.NewOptimizerService(optimization.DefaultPeriodsPerYear, nil, zerolog.Nop())
	handler := NewHandler(service, datasets, zerolog.Nop())
	router := chi.NewRouter()
	router.Route("/api", handler.RegisterRoutes)
	return router
}

func problem(extra map[string]interface{}) []byte {
	body := map[string]interface{}{
		"assets":           []string{"A", "B"},
		"expected_returns": []float64{0.12, 0.08},
		"covariance":       [][]float64{{0.04, 0.01}, {0.01, 0.03}},
	}
	for k, v := range extra {
		body[k] = v
	}
	b, _ := json.Marshal(body)
	return b
}

func post(t *testing.T, router http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type runEnvelope struct {
	Data RunResponse `json:"data"`
}

func TestHandleRun_Success(t *testing.T) {
	router := setupRouter(nil)

	w := post(t, router, "/api/optimizer/run", problem(map[string]interface{}{"target_return": 0.10}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp runEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Data.RunID)
	require.True(t, resp.Data.Result.Success)
	assert.InDelta(t, 0.5, resp.Data.Result.Weights["A"], 1e-6)
	assert.InDelta(t, 0.5, resp.Data.Result.Weights["B"], 1e-6)
	assert.InDelta(t, 0.15, resp.Data.Result.Risk, 1e-6)

	require.NotNil(t, resp.Data.Display)
	assert.Len(t, resp.Data.Display.Allocations, 2)
	assert.Equal(t, "15.00%", resp.Data.Display.Risk)
}

func TestHandleRun_InfeasibleIsNotAnError(t *testing.T) {
	router := setupRouter(nil)

	w := post(t, router, "/api/optimizer/run", problem(map[string]interface{}{"target_return": 0.2}))
	require.Equal(t, http.StatusOK, w.Code)

	var resp runEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Data.Result.Success)
	require.NotNil(t, resp.Data.Result.Failure)
	assert.Equal(t, optimization.FailureInfeasible, resp.Data.Result.Failure.Kind)
	assert.Nil(t, resp.Data.Display)
}

func TestHandleRun_BadRequests(t *testing.T) {
	router := setupRouter(nil)

	tests := []struct {
		name string
		body []byte
	}{
		{"malformed json", []byte("{")},
		{"missing target", problem(nil)},
		{"duplicate assets", problem(map[string]interface{}{
			"target_return": 0.1,
			"assets":        []string{"A", "A"},
		})},
		{"non-square covariance", problem(map[string]interface{}{
			"target_return": 0.1,
			"covariance":    [][]float64{{0.04, 0.01}},
		})},
		{"asymmetric covariance", problem(map[string]interface{}{
			"target_return": 0.1,
			"covariance":    [][]float64{{0.04, 0.02}, {0.01, 0.03}},
		})},
		{"bound out of range", problem(map[string]interface{}{
			"target_return": 0.1,
			"bounds":        map[string]interface{}{"upper": map[string]float64{"A": 1.5}},
		})},
		{"negative iterations", problem(map[string]interface{}{
			"target_return": 0.1,
			"bounds":        map[string]interface{}{"max_iterations": -1},
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, router, "/api/optimizer/run", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandleRun_ValidationMessageUsesJSONNames(t *testing.T) {
	router := setupRouter(nil)
	w := post(t, router, "/api/optimizer/run", problem(nil))
	assert.Contains(t, w.Body.String(), "target_return failed required")
}

func TestHandleMinVariance(t *testing.T) {
	router := setupRouter(nil)

	w := post(t, router, "/api/optimizer/min-variance", problem(nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp runEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Data.Result.Success)
	assert.Nil(t, resp.Data.TargetReturn)
	assert.InDelta(t, 0.4, resp.Data.Result.Weights["A"], 1e-6)
	assert.InDelta(t, 0.6, resp.Data.Result.Weights["B"], 1e-6)
	assert.Equal(t, "B", resp.Data.Display.TopAsset)
}

func TestHandleFrontier(t *testing.T) {
	router := setupRouter(nil)

	w := post(t, router, "/api/optimizer/frontier", problem(map[string]interface{}{"points": 5}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			RunID  string                       `json:"run_id"`
			Points []optimization.FrontierPoint `json:"points"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data.Points, 5)
	assert.InDelta(t, 0.096, resp.Data.Points[0].TargetReturn, 1e-6)
	assert.InDelta(t, 0.12, resp.Data.Points[4].TargetReturn, 1e-9)
	for _, p := range resp.Data.Points {
		assert.True(t, p.Result.Success, p.Result.Message())
	}

	w = post(t, router, "/api/optimizer/frontier", problem(map[string]interface{}{"points": 1}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleFrontier_Bounds(t *testing.T) {
	router := setupRouter(nil)

	w := post(t, router, "/api/optimizer/frontier", problem(map[string]interface{}{
		"points": 3,
		"bounds": map[string]interface{}{"upper": map[string]float64{"A": 0.2}},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Points []optimization.FrontierPoint `json:"points"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data.Points, 3)
	for _, p := range resp.Data.Points {
		require.True(t, p.Result.Success, p.Result.Message())
		assert.LessOrEqual(t, p.Result.Weights["A"], 0.2+1e-9)
		assert.InDelta(t, 0.088, p.TargetReturn, 1e-9)
	}
}

func TestHandleGetStatus(t *testing.T) {
	router := setupRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/optimizer/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(252), resp["data"]["periods_per_year"])
	assert.Equal(t, false, resp["data"]["live_enabled"])
	assert.Contains(t, resp, "metadata")
}

func TestHandleLive(t *testing.T) {
	srv := httptest.NewServer(setupRouter(&fakeDatasets{metrics: correlatedMetrics(t)}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := srv.URL + "/api/optimizer/live?source=fake&start=2024-01-01&end=2024-02-01&assets=A,B"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ready LiveReady
	require.NoError(t, wsjson.Read(ctx, conn, &ready))
	assert.Equal(t, "ready", ready.Type)
	assert.Equal(t, []string{"A", "B"}, ready.Assets)
	assert.Equal(t, 0.12, ready.Slider.Max)

	for _, target := range []float64{0.10, 0.11} {
		require.NoError(t, wsjson.Write(ctx, conn, map[string]float64{"target_return": target}))
		var resp LiveResponse
		require.NoError(t, wsjson.Read(ctx, conn, &resp))
		assert.Empty(t, resp.Error)
		require.True(t, resp.Result.Success)
		assert.InDelta(t, target, resp.Result.AchievedReturn, 1e-6)
	}

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{}))
	var resp LiveResponse
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	assert.Equal(t, "target_return is required", resp.Error)
}

func TestHandleLive_Errors(t *testing.T) {
	get := func(router http.Handler, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	valid := "/api/optimizer/live?source=fake&start=2024-01-01&end=2024-02-01&assets=A,B"

	assert.Equal(t, http.StatusServiceUnavailable, get(setupRouter(nil), valid))

	router := setupRouter(&fakeDatasets{metrics: correlatedMetrics(t)})
	assert.Equal(t, http.StatusBadRequest, get(router, "/api/optimizer/live?source=fake&start=bad&end=2024-02-01&assets=A"))

	router = setupRouter(&fakeDatasets{err: fmt.Errorf("load: %w", marketdata.ErrDatasetNotFound)})
	assert.Equal(t, http.StatusNotFound, get(router, valid))
}

func TestNewDisplayView(t *testing.T) {
	res := optimization.Result{
		Success:        true,
		Weights:        optimization.PortfolioWeights{"A": 0.6, "B": 0.3995, "C": 0.0005},
		Risk:           0.1234,
		AchievedReturn: 0.08,
	}
	view := NewDisplayView(res)
	require.NotNil(t, view)
	require.Len(t, view.Allocations, 2)
	assert.Equal(t, "A", view.TopAsset)
	assert.Equal(t, 0.6, view.TopWeight)
	assert.Equal(t, "60.00%", view.Allocations[0].Percent)
	assert.Equal(t, "B", view.Allocations[1].Asset)
	assert.Equal(t, "12.34%", view.Risk)
	assert.Equal(t, "8.00%", view.Return)

	// Raw weights are untouched.
	assert.Equal(t, 0.0005, res.Weights["C"])

	assert.Nil(t, NewDisplayView(optimization.Result{Success: false}))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", optimization.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", marketdata.ErrUnknownSource), http.StatusBadRequest},
		{fmt.Errorf("x: %w", optimization.ErrInsufficientData), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", marketdata.ErrDatasetNotFound), http.StatusNotFound},
		{marketdata.ErrArchiveDisabled, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.err.Error(), " ", "_"), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
