package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/replay"
)

// ReplayHandler controls the replay engine.
type ReplayHandler struct {
	engine *replay.Engine
}

// NewReplayHandler creates a new ReplayHandler.
func NewReplayHandler(engine *replay.Engine) *ReplayHandler {
	return &ReplayHandler{engine: engine}
}

type replayStartRequest struct {
	Symbol string  `json:"symbol"`
	FromMs int64   `json:"from_ms"`
	ToMs   int64   `json:"to_ms"`
	Speed  float64 `json:"speed"`
}

// Start handles POST /api/replay/start.
func (h *ReplayHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req replayStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" || req.ToMs <= req.FromMs {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "symbol and a valid window are required"})
		return
	}
	if req.Speed <= 0 {
		req.Speed = 1
	}

	if err := h.engine.Start(r.Context(), req.Symbol, req.FromMs, req.ToMs, req.Speed); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, replay.ErrNoBars) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type replaySymbolRequest struct {
	Symbol string  `json:"symbol"`
	Speed  float64 `json:"speed"`
}

// Stop handles POST /api/replay/stop.
func (h *ReplayHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req replaySymbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}
	h.engine.Stop(strings.ToUpper(strings.TrimSpace(req.Symbol)))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Speed handles POST /api/replay/speed.
func (h *ReplayHandler) Speed(w http.ResponseWriter, r *http.Request) {
	var req replaySymbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}
	if err := h.engine.SetSpeed(strings.ToUpper(strings.TrimSpace(req.Symbol)), req.Speed); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
