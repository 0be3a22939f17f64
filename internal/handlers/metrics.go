package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/temcen/optirex/internal/services"
)

// MetricsHandler serves the collector's registry in the Prometheus text format.
func MetricsHandler(metrics *services.MetricsCollector) gin.HandlerFunc {
	h := promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
