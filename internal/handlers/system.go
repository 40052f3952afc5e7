package handlers

import (
	"net/http"

	"github.com/quickpoll/backend/internal/broker"
	"github.com/quickpoll/backend/internal/models"
)

// SystemHandler serves the service banner and health check.
type SystemHandler struct {
	version string
	broker  *broker.Broker
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(version string, b *broker.Broker) *SystemHandler {
	return &SystemHandler{version: version, broker: b}
}

// Root reports that the API is running.
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.StatusResponse{
		Status:  "QuickPoll API is running",
		Version: h.version,
	})
}

// Health reports liveness and the number of live subscribers.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:      "ok",
		Subscribers: h.broker.Count(),
	})
}
