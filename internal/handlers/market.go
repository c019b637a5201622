package handlers

import (
	"net/http"
	"strconv"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/market"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/stream"
)

// MarketHandler handles market status endpoints.
type MarketHandler struct {
	checker *market.Checker
	epoch   stream.Epoch
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(checker *market.Checker, epoch stream.Epoch) *MarketHandler {
	return &MarketHandler{checker: checker, epoch: epoch}
}

// Status returns the current market status with epoch identity headers.
func (h *MarketHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.checker.Status()
	w.Header().Set("X-Epoch-Id", h.epoch.ID)
	w.Header().Set("X-Epoch-Start-Ms", strconv.FormatInt(h.epoch.StartMs, 10))
	w.Header().Set("X-Market-Source", status.Source)
	writeJSON(w, http.StatusOK, status)
}
