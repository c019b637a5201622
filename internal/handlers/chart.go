package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/pipeline"
)

// ChartHandler adjusts per-symbol chart subscriptions.
type ChartHandler struct {
	pipe *pipeline.Pipeline
}

// NewChartHandler creates a new ChartHandler.
func NewChartHandler(pipe *pipeline.Pipeline) *ChartHandler {
	return &ChartHandler{pipe: pipe}
}

type timeframeRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// Timeframe handles POST /api/chart/timeframe: switches the live rollup
// subscription for a symbol.
func (h *ChartHandler) Timeframe(w http.ResponseWriter, r *http.Request) {
	var req timeframeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	tf, err := models.ParseTimeframe(req.Timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timeframe")
		return
	}

	h.pipe.SetTimeframe(req.Symbol, tf)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "symbol": req.Symbol, "timeframe": tf.Label})
}
