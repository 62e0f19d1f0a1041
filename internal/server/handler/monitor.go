package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/monitor"
)

// MonitorRegistry exposes the running monitors.
type MonitorRegistry interface {
	WhaleStats() []monitor.WhaleStats
	PollerStats() []monitor.PollerStats
	// Snapshot returns the current snapshot of a polled wallet and whether
	// the wallet is polled at all.
	Snapshot(address string) (domain.Snapshot, bool)
}

// MonitorHandler serves monitor status and in-memory position snapshots.
type MonitorHandler struct {
	registry MonitorRegistry
	logger   *slog.Logger
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(registry MonitorRegistry, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{registry: registry, logger: logHandler(logger, "monitor")}
}

type monitorsResponse struct {
	Listeners []monitor.WhaleStats  `json:"listeners"`
	Pollers   []monitor.PollerStats `json:"pollers"`
}

// ListMonitors returns the status of every listener and poller.
// GET /api/monitors
func (h *MonitorHandler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	resp := monitorsResponse{
		Listeners: h.registry.WhaleStats(),
		Pollers:   h.registry.PollerStats(),
	}
	if resp.Listeners == nil {
		resp.Listeners = []monitor.WhaleStats{}
	}
	if resp.Pollers == nil {
		resp.Pollers = []monitor.PollerStats{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type positionsResponse struct {
	Address   string            `json:"address"`
	Positions []domain.Position `json:"positions"`
}

// GetPositions returns the last successfully fetched positions of a polled
// wallet.
// GET /api/positions/{address}
func (h *MonitorHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(pathParam(r, "address"))
	if err := monitor.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	snap, ok := h.registry.Snapshot(address)
	if !ok {
		writeError(w, http.StatusNotFound, "wallet is not polled")
		return
	}

	positions := snap.Positions()
	h.logger.DebugContext(r.Context(), "handler: snapshot served",
		slog.String("address", address),
		slog.Int("positions", len(positions)),
	)
	writeJSON(w, http.StatusOK, positionsResponse{Address: address, Positions: positions})
}
