package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/services"
)

// retryAfter is the back-off, in seconds, suggested while storage is down.
const retryAfter = "5"

type HealthHandler struct {
	logger *logrus.Logger
	health services.HealthChecker
}

func NewHealthHandler(logger *logrus.Logger, health services.HealthChecker) *HealthHandler {
	return &HealthHandler{logger: logger, health: health}
}

// Check probes the campaign store and the optional cache and broker. A
// degraded service still accepts observations; an unreachable store answers
// 503 with Retry-After so producers back off instead of piling up writes.
func (h *HealthHandler) Check(c *gin.Context) {
	report := h.health.CheckHealth(c.Request.Context())

	code := http.StatusOK
	switch report.Status {
	case "healthy", "degraded":
	case "unhealthy":
		code = http.StatusServiceUnavailable
		c.Header("Retry-After", retryAfter)
	default:
		code = http.StatusInternalServerError
	}
	if code != http.StatusOK {
		h.logger.WithFields(logrus.Fields{
			"status":   report.Status,
			"critical": report.Critical,
		}).Warn("Health check failed")
	}

	c.JSON(code, report)
}

// Live answers as long as the process serves requests. It never touches
// storage, so a slow backend cannot get the process restarted.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
