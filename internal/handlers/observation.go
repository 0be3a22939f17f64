package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/services"
	"github.com/temcen/optirex/pkg/models"
)

type ObservationHandler struct {
	campaigns services.CampaignServiceInterface
	logger    *logrus.Logger
}

func NewObservationHandler(campaigns services.CampaignServiceInterface, logger *logrus.Logger) *ObservationHandler {
	return &ObservationHandler{
		campaigns: campaigns,
		logger:    logger,
	}
}

// Record queues observations. The write is applied asynchronously, hence 202.
func (h *ObservationHandler) Record(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	var req models.RecordObservationsRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.campaigns.RecordObservations(c.Request.Context(), id, req)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to record observations")
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *ObservationHandler) List(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	var filter models.ObservationFilter
	if v := c.Query("feasible"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "feasible must be true or false")
			return
		}
		filter.Feasible = &b
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	resp, err := h.campaigns.ListObservations(c.Request.Context(), id, filter)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to fetch observations")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Update backfills feasibility labels or objective values.
func (h *ObservationHandler) Update(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	var req models.UpdateObservationsRequest
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.campaigns.UpdateObservations(c.Request.Context(), id, req)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to update observations")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"campaign_id": id,
		"updated":     updated,
		"requested":   len(req.Updates),
	})
}
