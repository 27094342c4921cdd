package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/frontier/internal/modules/marketdata"
	"github.com/aristath/frontier/internal/modules/optimization"
)

const liveWriteTimeout = 10 * time.Second

// LiveRequest is one message pushed by a live client.
type LiveRequest struct {
	TargetReturn *float64 `json:"target_return"`
}

// LiveResponse answers one LiveRequest.
type LiveResponse struct {
	RunResponse
	Error string `json:"error,omitempty"`
}

// LiveReady is sent once after the dataset is estimated.
type LiveReady struct {
	Type     string                 `json:"type"`
	Dataset  string                 `json:"dataset"`
	Assets   []string               `json:"assets"`
	Slider   marketdata.SliderRange `json:"slider"`
	Expected map[string]float64     `json:"expected_returns"`
}

// HandleLive handles GET /api/optimizer/live?source=&start=&end=&assets=
//
// The dataset is estimated once per connection. Each text message carrying
// a target return is answered with one solve; the client sets the pace.
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	if h.datasets == nil {
		http.Error(w, "live optimization is not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	key, err := marketdata.ParseDatasetKey(q.Get("source"), q.Get("start"), q.Get("end"), q.Get("assets"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	m, err := h.datasets.Metrics(r.Context(), key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Hijacked connections keep the server's deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	// The socket outlives the per-request timeout; it ends when the client closes.
	ctx := context.WithoutCancel(r.Context())
	log := h.log.With().Str("dataset", key.String()).Logger()
	log.Debug().Msg("Live client connected")

	ready := LiveReady{
		Type:     "ready",
		Dataset:  key.String(),
		Assets:   m.ExpectedReturns.Assets,
		Slider:   m.Slider,
		Expected: m.ExpectedReturns.Map(),
	}
	if err := h.writeLive(ctx, conn, ready); err != nil {
		return
	}

	for {
		var req LiveRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				conn.Close(websocket.StatusNormalClosure, "")
				log.Debug().Msg("Live client disconnected")
				return
			}
			log.Warn().Err(err).Msg("Live read failed")
			conn.Close(websocket.StatusUnsupportedData, "invalid message")
			return
		}

		resp := h.liveSolve(m, req)
		if err := h.writeLive(ctx, conn, resp); err != nil {
			log.Debug().Err(err).Msg("Live write failed")
			return
		}
	}
}

func (h *Handler) liveSolve(m marketdata.DatasetMetrics, req LiveRequest) LiveResponse {
	if req.TargetReturn == nil {
		return LiveResponse{
			RunResponse: RunResponse{RunID: uuid.NewString()},
			Error:       "target_return is required",
		}
	}
	res, err := h.service.Optimize(m.ExpectedReturns, m.Covariance, *req.TargetReturn, optimization.Options{})
	if err != nil {
		return LiveResponse{
			RunResponse: RunResponse{RunID: uuid.NewString(), TargetReturn: req.TargetReturn},
			Error:       err.Error(),
		}
	}
	return LiveResponse{RunResponse: newRunResponse(req.TargetReturn, res)}
}

func (h *Handler) writeLive(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}
