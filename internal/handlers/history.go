package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/history"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

// HistoryHandler serves bar backfill queries.
type HistoryHandler struct {
	svc *history.Service
}

// NewHistoryHandler creates a history handler over the shared service.
func NewHistoryHandler(svc *history.Service) *HistoryHandler {
	return &HistoryHandler{svc: svc}
}

// Get handles GET /api/history?symbol&timeframe&limit&before?&sinceSeq?.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()

	symbol := strings.ToUpper(strings.TrimSpace(qp.Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	tf := models.TF1m
	if raw := qp.Get("timeframe"); raw != "" {
		parsed, err := models.ParseTimeframe(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timeframe")
			return
		}
		tf = parsed
	}

	q := history.Query{Symbol: symbol, Timeframe: tf, Limit: 300}
	if raw := qp.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}
	if raw := qp.Get("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid before")
			return
		}
		q.Before = n
	}
	if raw := qp.Get("sinceSeq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid sinceSeq")
			return
		}
		q.SinceSeq = n
	}

	bars, err := h.svc.GetHistory(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if bars == nil {
		bars = []models.Bar{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bars": bars})
}
