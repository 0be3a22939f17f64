package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/services"
	"github.com/temcen/optirex/pkg/models"
)

var validate = validator.New()

type CampaignHandler struct {
	campaigns services.CampaignServiceInterface
	logger    *logrus.Logger
}

func NewCampaignHandler(campaigns services.CampaignServiceInterface, logger *logrus.Logger) *CampaignHandler {
	return &CampaignHandler{
		campaigns: campaigns,
		logger:    logger,
	}
}

func (h *CampaignHandler) Create(c *gin.Context) {
	// The config is validated after defaults are applied.
	var req models.CreateCampaignRequest
	if !bindJSON(c, &req, "Config") {
		return
	}

	campaign, err := h.campaigns.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to create campaign")
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (h *CampaignHandler) Get(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	resp, err := h.campaigns.GetCampaign(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to load campaign")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CampaignHandler) List(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	offset := 0
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	campaigns, err := h.campaigns.ListCampaigns(c.Request.Context(), limit, offset)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to list campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	c.JSON(http.StatusOK, gin.H{
		"campaigns": campaigns,
		"limit":     limit,
		"offset":    offset,
	})
}
