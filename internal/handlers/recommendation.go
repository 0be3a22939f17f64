package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/services"
	"github.com/temcen/optirex/pkg/models"
)

type RecommendationHandler struct {
	campaigns services.CampaignServiceInterface
	logger    *logrus.Logger
}

func NewRecommendationHandler(campaigns services.CampaignServiceInterface, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		campaigns: campaigns,
		logger:    logger,
	}
}

// Create generates the next batch of candidates for a campaign. An empty body
// uses the campaign's configured strategies and batch size.
func (h *RecommendationHandler) Create(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	var req models.RecommendationRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	resp, err := h.campaigns.Recommend(c.Request.Context(), id, req)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to generate recommendations")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"campaign_id": id,
		"candidates":  len(resp.Candidates),
		"cache_hit":   resp.CacheHit,
	}).Debug("Recommendations served")
	c.JSON(http.StatusOK, resp)
}
