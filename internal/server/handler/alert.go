package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/monitor"
)

// AlertHandler serves alert history.
type AlertHandler struct {
	alerts domain.AlertStore
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler backed by the given store.
func NewAlertHandler(alerts domain.AlertStore, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: logHandler(logger, "alert")}
}

type whaleAlertsResponse struct {
	Alerts []domain.WhaleAlert `json:"alerts"`
}

type positionAlertsResponse struct {
	Alerts []domain.PositionAlert `json:"alerts"`
}

// ListWhaleAlerts returns recent whale alerts, newest first.
// GET /api/alerts/whales?limit=&offset=&since=&until=
func (h *AlertHandler) ListWhaleAlerts(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := h.alerts.ListWhaleAlerts(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list whale alerts failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list whale alerts")
		return
	}
	if alerts == nil {
		alerts = []domain.WhaleAlert{}
	}
	writeJSON(w, http.StatusOK, whaleAlertsResponse{Alerts: alerts})
}

// ListPositionAlerts returns recent position alerts, newest first,
// optionally for one wallet.
// GET /api/alerts/positions?address=0x...
func (h *AlertHandler) ListPositionAlerts(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address != "" {
		if err := monitor.ValidateAddress(strings.ToLower(address)); err != nil {
			writeError(w, http.StatusBadRequest, "invalid wallet address")
			return
		}
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := h.alerts.ListPositionAlerts(r.Context(), address, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list position alerts failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list position alerts")
		return
	}
	if alerts == nil {
		alerts = []domain.PositionAlert{}
	}
	writeJSON(w, http.StatusOK, positionAlertsResponse{Alerts: alerts})
}
