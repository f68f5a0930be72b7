package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

type healthHandler struct {
	log storage.Log
}

// Health reports liveness. It always succeeds while the process runs.
func (h *healthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	})
}

// Ready reports whether the storage backend is reachable. Load
// balancers use this to gate traffic during startup and outages.
func (h *healthHandler) Ready(c *gin.Context) {
	checks := map[string]string{"store": "ok"}
	if err := h.log.HealthCheck(c.Request.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
	}

	ready := checks["store"] == "ok"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, model.ReadinessResponse{
		Ready:  ready,
		Checks: checks,
	})
}
