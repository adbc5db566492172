package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/peteroluoch/africa-offline-os/internal/aggregate"
)

// Aggregator is the regional analytics surface the dashboard endpoints need.
type Aggregator interface {
	VillageSummary(ctx context.Context) (*aggregate.VillageSummary, error)
	HarvestRollups(ctx context.Context, days int) ([]aggregate.HarvestRollup, error)
	TransportUtilization(ctx context.Context, days int) ([]aggregate.RouteUtilization, error)
}

// RegionalHandler serves the regional dashboard API.
type RegionalHandler struct {
	logger     *slog.Logger
	aggregator Aggregator
}

// NewRegionalHandler creates the regional dashboard handler.
func NewRegionalHandler(logger *slog.Logger, aggregator Aggregator) *RegionalHandler {
	return &RegionalHandler{logger: logger, aggregator: aggregator}
}

// HandleSummary handles GET /api/v1/regional/summary.
func (h *RegionalHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.aggregator.VillageSummary(r.Context())
	if err != nil {
		h.logger.Error("Failed to build village summary", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, summary)
}

// HandleHarvests handles GET /api/v1/regional/harvests?days=N (default 30).
func (h *RegionalHandler) HandleHarvests(w http.ResponseWriter, r *http.Request) {
	days, ok := daysParam(w, h.logger, r, 30)
	if !ok {
		return
	}

	rollups, err := h.aggregator.HarvestRollups(r.Context(), days)
	if err != nil {
		h.logger.Error("Failed to aggregate harvests", "error", err, "days", days)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, rollups)
}

// HandleTransport handles GET /api/v1/regional/transport?days=N (default 7).
func (h *RegionalHandler) HandleTransport(w http.ResponseWriter, r *http.Request) {
	days, ok := daysParam(w, h.logger, r, 7)
	if !ok {
		return
	}

	utilization, err := h.aggregator.TransportUtilization(r.Context(), days)
	if err != nil {
		h.logger.Error("Failed to aggregate transport", "error", err, "days", days)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, utilization)
}

// daysParam parses the optional ?days query parameter. Writes a 400 and
// returns ok=false on a malformed or non-positive value.
func daysParam(w http.ResponseWriter, logger *slog.Logger, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return def, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		writeError(w, logger, http.StatusBadRequest, "validation_error", "days must be a positive integer")
		return 0, false
	}
	return days, true
}
