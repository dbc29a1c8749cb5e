package handlers

import (
	"net/http"
	"time"

	"github.com/wardendesk/api/internal/logging"
	"github.com/wardendesk/api/internal/metrics"
)

// SystemMetricsHandlers serves host metrics for the dashboard
type SystemMetricsHandlers struct {
	logger *logging.Logger
}

// NewSystemMetricsHandlers creates a new system metrics handlers instance
func NewSystemMetricsHandlers(logger *logging.Logger) *SystemMetricsHandlers {
	return &SystemMetricsHandlers{logger: logger}
}

// GetSystemMetrics returns a point-in-time host metrics snapshot
func (h *SystemMetricsHandlers) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := metrics.CollectSystemMetrics(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err, nil)
		return
	}

	WriteSuccess(w, m, http.StatusOK)
}

// SystemMetricsWebSocket streams host metrics once per second
func (h *SystemMetricsHandlers) SystemMetricsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", err, nil)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, err := metrics.CollectSystemMetrics(ctx)
			if err != nil {
				continue
			}
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}
